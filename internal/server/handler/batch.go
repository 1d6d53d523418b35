package handler

import (
	"net/http"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// BatchManagerSource lists the known batch managers.
type BatchManagerSource interface {
	BatchManagers() []domain.BatchManager
}

// BatchHandler serves the batch-manager registry.
type BatchHandler struct {
	managers BatchManagerSource
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(managers BatchManagerSource) *BatchHandler {
	return &BatchHandler{managers: managers}
}

// ListManagers returns every registered batch manager.
// GET /api/batch-managers
func (h *BatchHandler) ListManagers(w http.ResponseWriter, r *http.Request) {
	managers := h.managers.BatchManagers()
	out := make([]map[string]string, 0, len(managers))
	for _, m := range managers {
		out = append(out, map[string]string{
			"address":     m.Address.Hex(),
			"name":        m.Name,
			"description": m.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"managers": out,
		"count":    len(out),
	})
}
