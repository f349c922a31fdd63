package handler

import (
	"net/http"

	"github.com/alanyoungcy/marketengine/internal/service"
)

// StatusHandler serves the engine configuration and counters.
type StatusHandler struct {
	Mode string
	svc  *service.MarketService
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, svc *service.MarketService) *StatusHandler {
	return &StatusHandler{Mode: mode, svc: svc}
}

// GetStatus responds with the run mode and a snapshot of the engine.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Mode string `json:"mode"`
		service.Status
	}{Mode: h.Mode, Status: h.svc.Status()})
}
