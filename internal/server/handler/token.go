package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/poolwatch/internal/chain"
	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// MarketData is the subset of the market-data client the REST handlers use.
// It is declared locally so the handler package does not depend on the
// concrete client.
type MarketData interface {
	NewPools(ctx context.Context, chain string, limit int) []domain.Pool
	TrendingPools(ctx context.Context, chain string, limit int) []domain.Pool
	TopGainers(ctx context.Context, chain string, limit int) []domain.Pool
	TopLosers(ctx context.Context, chain string, limit int) []domain.Pool
	PoolDetails(ctx context.Context, chain, address string) *domain.Pool
	PoolOHLCV(ctx context.Context, chain, address, timeframe string, aggregate int) []domain.Candle
	TokenInfo(ctx context.Context, chain, address string) *domain.Token
	SearchPools(ctx context.Context, query string, limit int) []domain.Pool
}

// TokenHandler serves token and pool listings.
type TokenHandler struct {
	market MarketData
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(market MarketData, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{market: market, logger: logger}
}

// Trending returns trending pools.
// GET /api/tokens/trending?chain=&limit=
func (h *TokenHandler) Trending(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.market.TrendingPools(r.Context(), queryChain(r), parseLimit(r)))
}

// New returns the newest pools.
// GET /api/tokens/new?chain=&limit=
func (h *TokenHandler) New(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.market.NewPools(r.Context(), queryChain(r), parseLimit(r)))
}

// Search runs a free-text pool search.
// GET /api/tokens/search?q=&limit=
func (h *TokenHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	writeData(w, http.StatusOK, h.market.SearchPools(r.Context(), q, parseLimit(r)))
}

// Gainers returns the chain's biggest 24h risers.
// GET /api/tokens/gainers?chain=&limit=
func (h *TokenHandler) Gainers(w http.ResponseWriter, r *http.Request) {
	ch := queryChain(r)
	if ch == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter chain")
		return
	}
	writeData(w, http.StatusOK, h.market.TopGainers(r.Context(), ch, parseLimit(r)))
}

// Losers returns the chain's biggest 24h fallers.
// GET /api/tokens/losers?chain=&limit=
func (h *TokenHandler) Losers(w http.ResponseWriter, r *http.Request) {
	ch := queryChain(r)
	if ch == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter chain")
		return
	}
	writeData(w, http.StatusOK, h.market.TopLosers(r.Context(), ch, parseLimit(r)))
}

// Token returns token metadata.
// GET /api/tokens/{chain}/{address}
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	ch, address, ok := chainAddress(w, r)
	if !ok {
		return
	}
	tok := h.market.TokenInfo(r.Context(), ch, address)
	if tok == nil {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeData(w, http.StatusOK, tok)
}

func queryChain(r *http.Request) string {
	return chain.Normalize(r.URL.Query().Get("chain"))
}

// chainAddress reads and validates the {chain}/{address} path pair, writing
// a 400 when the address does not fit the chain.
func chainAddress(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ch := chain.Normalize(pathParam(r, "chain"))
	address := strings.TrimSpace(pathParam(r, "address"))
	if ch == "" {
		writeError(w, http.StatusBadRequest, "missing chain")
		return "", "", false
	}
	if err := chain.ValidateAddress(ch, address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address for "+ch)
		return "", "", false
	}
	return ch, address, true
}
