package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// QueueService defines the methods that the queue handler requires.
type QueueService interface {
	Queue(ctx context.Context, collateral domain.CollateralType) (domain.QueueView, error)
}

// QueueHandler serves the ranked redemption queue for a collateral branch.
type QueueHandler struct {
	queue  QueueService
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler with the given service and logger.
func NewQueueHandler(queue QueueService, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, logger: logger}
}

// GetQueue returns every active trove of a branch in redemption order.
// The optional limit parameter truncates the listed troves; count and
// total_debt always cover the full queue.
// GET /api/queue/{collateral}
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	collateral := domain.CollateralType(r.PathValue("collateral"))
	if !collateral.Valid() {
		writeError(w, http.StatusBadRequest, "invalid collateral type")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	view, err := h.queue.Queue(r.Context(), collateral)
	if err != nil {
		writeDomainError(w, r, h.logger, "queue", err)
		return
	}

	writeJSON(w, http.StatusOK, toQueueResponse(view, limit))
}
