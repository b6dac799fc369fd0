package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, uptime) for dashboards.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler with the given mode.
func NewStatusHandler(mode string) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the current backend mode and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
