package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

// TroveService defines the methods that the trove handler requires.
type TroveService interface {
	InterestInfo(ctx context.Context, ref domain.TroveRef) (domain.InterestInfo, error)
	DebtInFront(ctx context.Context, ref domain.TroveRef, opts domain.DebtInFrontOptions) (domain.DebtInFrontResult, error)
	History(ctx context.Context, ref domain.TroveRef, opts domain.ListOpts) ([]domain.QueueSnapshot, error)
	StaleAfter() time.Duration
}

// TroveHandler serves per-trove interest and queue-position endpoints.
type TroveHandler struct {
	troves TroveService
	logger *slog.Logger
}

// NewTroveHandler creates a TroveHandler with the given service and logger.
func NewTroveHandler(troves TroveService, logger *slog.Logger) *TroveHandler {
	return &TroveHandler{troves: troves, logger: logger}
}

// Interest returns the accrued interest summary for a trove.
// GET /api/troves/{collateral}/{id}/interest
func (h *TroveHandler) Interest(w http.ResponseWriter, r *http.Request) {
	ref, ok := troveRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collateral type or trove id")
		return
	}

	info, err := h.troves.InterestInfo(r.Context(), ref)
	if err != nil {
		writeDomainError(w, r, h.logger, "interest info", err)
		return
	}

	writeJSON(w, http.StatusOK, toInterestResponse(ref, info))
}

// DebtInFront returns the redemption-queue position for a trove.
// Query parameters: fresh=true bypasses the cache, principal_only=true
// ranks by recorded principal, ahead=true lists the troves in front.
// GET /api/troves/{collateral}/{id}/debt-in-front
func (h *TroveHandler) DebtInFront(w http.ResponseWriter, r *http.Request) {
	ref, ok := troveRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collateral type or trove id")
		return
	}

	opts := domain.DebtInFrontOptions{
		Fresh:         queryBool(r, "fresh"),
		PrincipalOnly: queryBool(r, "principal_only"),
	}
	res, err := h.troves.DebtInFront(r.Context(), ref, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "debt in front", err)
		return
	}

	stale := redemption.IsCalculationStale(res.LastCalculated, h.troves.StaleAfter(), time.Now())
	writeJSON(w, http.StatusOK, toDebtInFrontResponse(res, opts, queryBool(r, "ahead"), stale))
}

// Snapshots returns the recorded queue-position history for a trove,
// newest first.
// GET /api/troves/{collateral}/{id}/snapshots
func (h *TroveHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
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

	snaps, err := h.troves.History(r.Context(), ref, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "snapshot history", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": toSnapshotResponses(snaps),
		"count":     len(snaps),
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}
