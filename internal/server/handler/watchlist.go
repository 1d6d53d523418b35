package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// WatchlistReader returns the effective watchlist.
type WatchlistReader interface {
	Watched(ctx context.Context) ([]domain.WatchedTrove, error)
}

// WatchlistHandler serves the monitored-trove list. The store may be nil
// when persistence is disabled, in which case mutations are rejected.
type WatchlistHandler struct {
	reader WatchlistReader
	store  domain.WatchlistStore
	logger *slog.Logger
}

// NewWatchlistHandler creates a WatchlistHandler.
func NewWatchlistHandler(reader WatchlistReader, store domain.WatchlistStore, logger *slog.Logger) *WatchlistHandler {
	return &WatchlistHandler{reader: reader, store: store, logger: logger}
}

type watchRequest struct {
	CollateralType string          `json:"collateral_type"`
	TroveID        string          `json:"trove_id"`
	Label          string          `json:"label"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
}

// List returns every watched trove, static configuration included.
// GET /api/watchlist
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	watched, err := h.reader.Watched(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list watchlist", err)
		return
	}

	out := make([]watchResponse, 0, len(watched))
	for _, wt := range watched {
		out = append(out, toWatchResponse(wt))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"troves": out,
		"count":  len(out),
	})
}

// Add inserts or updates a watched trove.
// POST /api/watchlist
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist persistence is disabled")
		return
	}

	var req watchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wt := domain.WatchedTrove{
		CollateralType: domain.CollateralType(req.CollateralType),
		TroveID:        strings.TrimSpace(req.TroveID),
		Label:          strings.TrimSpace(req.Label),
		AlertThreshold: req.AlertThreshold,
	}
	switch {
	case !wt.CollateralType.Valid():
		writeError(w, http.StatusBadRequest, "invalid collateral type")
		return
	case wt.TroveID == "":
		writeError(w, http.StatusBadRequest, "missing trove id")
		return
	case wt.AlertThreshold.IsNegative():
		writeError(w, http.StatusBadRequest, "alert threshold must not be negative")
		return
	}

	if err := h.store.Add(r.Context(), wt); err != nil {
		writeDomainError(w, r, h.logger, "add watch", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: trove watched",
		slog.String("collateral", string(wt.CollateralType)),
		slog.String("trove_id", wt.TroveID),
		slog.String("threshold", wt.AlertThreshold.String()),
	)
	writeJSON(w, http.StatusCreated, toWatchResponse(wt))
}

// Remove deletes a watched trove.
// DELETE /api/watchlist/{collateral}/{id}
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist persistence is disabled")
		return
	}
	ref, ok := troveRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collateral type or trove id")
		return
	}

	if err := h.store.Remove(r.Context(), ref); err != nil {
		writeDomainError(w, r, h.logger, "remove watch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
