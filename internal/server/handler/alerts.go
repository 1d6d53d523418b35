package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// AlertLog lists audit entries recorded for a trove.
type AlertLog interface {
	ListByTrove(ctx context.Context, ref domain.TroveRef, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AlertHandler serves a trove's alert history. The log may be nil when
// persistence is disabled.
type AlertHandler struct {
	log    AlertLog
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(log AlertLog, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{log: log, logger: logger}
}

type alertResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAlerts returns the alerts raised for a trove, newest first.
// GET /api/troves/{collateral}/{id}/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		writeError(w, http.StatusServiceUnavailable, "alert history requires postgres")
		return
	}
	ref, ok := troveRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collateral type or trove id")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.log.ListByTrove(r.Context(), ref, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "alert history", err)
		return
	}

	out := make([]alertResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, alertResponse{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": out,
		"count":  len(out),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
