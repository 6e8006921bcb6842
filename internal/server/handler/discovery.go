package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// DiscoverySource is the live tracker view.
type DiscoverySource interface {
	RecentDiscoveries(limit int, chain string) []domain.Discovery
	Stats() domain.DetectorStats
}

// DiscoveryHandler serves live and historical discoveries.
type DiscoveryHandler struct {
	tracker DiscoverySource
	history domain.DiscoveryStore
	logger  *slog.Logger
}

// NewDiscoveryHandler creates a DiscoveryHandler. history may be nil when
// no database is configured.
func NewDiscoveryHandler(tracker DiscoverySource, history domain.DiscoveryStore, logger *slog.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{tracker: tracker, history: history, logger: logger}
}

// Recent returns the newest in-memory discoveries.
// GET /api/discoveries/recent?chain=&limit=
func (h *DiscoveryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.tracker.RecentDiscoveries(parseLimit(r), queryChain(r)))
}

// Stats returns the tracker summary.
// GET /api/discoveries/stats
func (h *DiscoveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.tracker.Stats())
}

// History pages through persisted discoveries.
// GET /api/discoveries/history?chain=&limit=&offset=
func (h *DiscoveryHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "discovery history is not enabled")
		return
	}
	items, err := h.history.List(r.Context(), queryChain(r), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list discoveries", err)
		return
	}
	if items == nil {
		items = []domain.Discovery{}
	}
	writeData(w, http.StatusOK, items)
}
