package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// StatusFunc reports the current runtime status.
type StatusFunc func() domain.ServiceStatus

// StatusHandler serves the backend status for dashboards.
type StatusHandler struct {
	status StatusFunc
}

// NewStatusHandler creates a StatusHandler backed by fn.
func NewStatusHandler(fn StatusFunc) *StatusHandler {
	return &StatusHandler{status: fn}
}

// GetStatus responds with the mode, uptime and monitor state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.status()
	resp := map[string]any{
		"mode":            s.Mode,
		"uptime_seconds":  s.UptimeSeconds,
		"watched_troves":  s.WatchedTroves,
		"last_cycle_errs": s.LastCycleErrs,
		"ws_clients":      s.WSClients,
	}
	if !s.LastCycleAt.IsZero() {
		resp["last_cycle_at"] = s.LastCycleAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
