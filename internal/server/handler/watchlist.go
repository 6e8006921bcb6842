package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/poolwatch/internal/chain"
	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// userHeader carries the caller's identity, set by the fronting gateway.
const userHeader = "X-User-ID"

// WatchlistHandler serves per-user watchlists.
type WatchlistHandler struct {
	store  domain.WatchlistStore
	logger *slog.Logger
}

// NewWatchlistHandler creates a WatchlistHandler.
func NewWatchlistHandler(store domain.WatchlistStore, logger *slog.Logger) *WatchlistHandler {
	return &WatchlistHandler{store: store, logger: logger}
}

type addWatchlistRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Label   string `json:"label"`
}

// List returns the caller's watchlist.
// GET /api/watchlist
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	items, err := h.store.List(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, h.logger, "list watchlist", err)
		return
	}
	if items == nil {
		items = []domain.WatchlistItem{}
	}
	writeData(w, http.StatusOK, items)
}

// Add pins a pool or token.
// POST /api/watchlist
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	var req addWatchlistRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ch := chain.Normalize(req.Chain)
	address := strings.TrimSpace(req.Address)
	if ch == "" {
		writeError(w, http.StatusBadRequest, "chain is required")
		return
	}
	if err := chain.ValidateAddress(ch, address); err != nil {
		writeDomainError(w, r, h.logger, "add watchlist", err)
		return
	}

	item, err := h.store.Add(r.Context(), domain.WatchlistItem{
		UserID:  user,
		Chain:   ch,
		Address: address,
		Label:   strings.TrimSpace(req.Label),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "add watchlist", err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

// Remove deletes one entry.
// DELETE /api/watchlist/{id}
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := h.store.Remove(r.Context(), user, id); err != nil {
		writeDomainError(w, r, h.logger, "remove watchlist", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id})
}

func (h *WatchlistHandler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(userHeader))
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return "", false
	}
	return user, true
}
