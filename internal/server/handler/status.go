package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves runtime metadata for dashboards.
type StatusHandler struct {
	mode      string
	chains    []string
	startedAt time.Time
	clients   func() int
}

// NewStatusHandler creates a StatusHandler. clients reports the connected
// WebSocket count and may be nil.
func NewStatusHandler(mode string, chains []string, startedAt time.Time, clients func() int) *StatusHandler {
	return &StatusHandler{mode: mode, chains: chains, startedAt: startedAt, clients: clients}
}

// GetStatus responds with mode, chains, uptime and client count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	n := 0
	if h.clients != nil {
		n = h.clients()
	}
	writeData(w, http.StatusOK, map[string]any{
		"mode":      h.mode,
		"chains":    h.chains,
		"uptime":    int64(time.Since(h.startedAt) / time.Second),
		"wsClients": n,
	})
}
