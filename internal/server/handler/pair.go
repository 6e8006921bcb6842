package handler

import (
	"log/slog"
	"net/http"
	"strconv"
)

// PairHandler serves single-pool lookups.
type PairHandler struct {
	market MarketData
	logger *slog.Logger
}

// NewPairHandler creates a PairHandler.
func NewPairHandler(market MarketData, logger *slog.Logger) *PairHandler {
	return &PairHandler{market: market, logger: logger}
}

// Pair returns one pool.
// GET /api/pairs/{chain}/{address}
func (h *PairHandler) Pair(w http.ResponseWriter, r *http.Request) {
	ch, address, ok := chainAddress(w, r)
	if !ok {
		return
	}
	pool := h.market.PoolDetails(r.Context(), ch, address)
	if pool == nil {
		writeError(w, http.StatusNotFound, "pair not found")
		return
	}
	writeData(w, http.StatusOK, pool)
}

// OHLCV returns candles for one pool.
// GET /api/pairs/{chain}/{address}/ohlcv?timeframe=hour&aggregate=1
func (h *PairHandler) OHLCV(w http.ResponseWriter, r *http.Request) {
	ch, address, ok := chainAddress(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	aggregate := 1
	if v := q.Get("aggregate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "aggregate must be a positive integer")
			return
		}
		aggregate = n
	}
	writeData(w, http.StatusOK, h.market.PoolOHLCV(r.Context(), ch, address, q.Get("timeframe"), aggregate))
}
