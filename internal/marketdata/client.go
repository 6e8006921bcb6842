// Package marketdata serves normalized pool, token and candle data from the
// upstream provider behind a short-lived response cache. Upstream failures
// are logged and counted, then degrade to empty results.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/chain"
	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/metrics"
)

const (
	// DefaultTTL is how long a cached upstream response stays fresh.
	DefaultTTL = 30 * time.Second

	defaultLimit = 20
	keyPrefix    = "md:"
)

// Upstream is the raw provider API. *geckoterminal.Client satisfies it.
type Upstream interface {
	NewPools(ctx context.Context, chain string) ([]domain.Pool, error)
	TrendingPools(ctx context.Context, chain string) ([]domain.Pool, error)
	Pool(ctx context.Context, chain, address string) (domain.Pool, error)
	PoolOHLCV(ctx context.Context, chain, address, timeframe string, aggregate int) ([]domain.Candle, error)
	Token(ctx context.Context, chain, address string) (domain.Token, error)
	SearchPools(ctx context.Context, query string) ([]domain.Pool, error)
}

// Client is the cached market-data facade used by the tracker, the
// broadcaster and the HTTP handlers.
type Client struct {
	upstream Upstream
	cache    domain.ResponseCache
	ttl      time.Duration
	chains   []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client. chains is the list aggregated when a caller passes
// an empty chain.
func New(upstream Upstream, cache domain.ResponseCache, chains []string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		upstream: upstream,
		cache:    cache,
		ttl:      DefaultTTL,
		chains:   append([]string(nil), chains...),
		logger:   logger.With(slog.String("component", "marketdata")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chains returns the configured chain list.
func (c *Client) Chains() []string {
	return append([]string(nil), c.chains...)
}

// NewPools returns up to limit of the newest pools on chain, newest first.
// An empty chain aggregates every configured chain.
func (c *Client) NewPools(ctx context.Context, chainName string, limit int) []domain.Pool {
	var pools []domain.Pool
	for _, ch := range c.resolveChains(chainName) {
		pools = append(pools, c.chainPools(ctx, "new_pools", ch, c.upstream.NewPools)...)
	}
	sortByCreatedDesc(pools)
	return truncate(pools, limit)
}

// TrendingPools returns up to limit trending pools. A single chain keeps the
// upstream ranking; the aggregate is ordered by 24h volume.
func (c *Client) TrendingPools(ctx context.Context, chainName string, limit int) []domain.Pool {
	if ch := chain.Normalize(chainName); ch != "" {
		return truncate(c.chainPools(ctx, "trending_pools", ch, c.upstream.TrendingPools), limit)
	}

	var pools []domain.Pool
	for _, ch := range c.chains {
		pools = append(pools, c.chainPools(ctx, "trending_pools", ch, c.upstream.TrendingPools)...)
	}
	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].Volume.H24 > pools[j].Volume.H24
	})
	return truncate(pools, limit)
}

// TopGainers returns the chain's trending pools ordered by 24h change,
// biggest rise first.
func (c *Client) TopGainers(ctx context.Context, chainName string, limit int) []domain.Pool {
	return c.movers(ctx, chainName, limit, func(a, b domain.Pool) bool {
		return a.PriceChange.H24 > b.PriceChange.H24
	})
}

// TopLosers returns the chain's trending pools ordered by 24h change,
// biggest drop first.
func (c *Client) TopLosers(ctx context.Context, chainName string, limit int) []domain.Pool {
	return c.movers(ctx, chainName, limit, func(a, b domain.Pool) bool {
		return a.PriceChange.H24 < b.PriceChange.H24
	})
}

func (c *Client) movers(ctx context.Context, chainName string, limit int, less func(a, b domain.Pool) bool) []domain.Pool {
	ch := chain.Normalize(chainName)
	if ch == "" {
		return []domain.Pool{}
	}
	src := c.chainPools(ctx, "trending_pools", ch, c.upstream.TrendingPools)
	pools := append([]domain.Pool(nil), src...)
	sort.SliceStable(pools, func(i, j int) bool { return less(pools[i], pools[j]) })
	return truncate(pools, limit)
}

// PoolDetails returns one pool, or nil when it is unknown or the upstream
// fails.
func (c *Client) PoolDetails(ctx context.Context, chainName, address string) *domain.Pool {
	ch := chain.Normalize(chainName)
	pool, ok := cached(ctx, c, "pool", ch+":"+address, func(ctx context.Context) (domain.Pool, error) {
		return c.upstream.Pool(ctx, ch, address)
	})
	if !ok {
		return nil
	}
	return &pool
}

// PoolOHLCV returns candles for a pool. timeframe defaults to "hour" and
// aggregate to 1.
func (c *Client) PoolOHLCV(ctx context.Context, chainName, address, timeframe string, aggregate int) []domain.Candle {
	ch := chain.Normalize(chainName)
	timeframe = NormalizeTimeframe(timeframe)
	if aggregate <= 0 {
		aggregate = 1
	}
	key := ch + ":" + address + ":" + timeframe + ":" + strconv.Itoa(aggregate)
	candles, ok := cached(ctx, c, "ohlcv", key, func(ctx context.Context) ([]domain.Candle, error) {
		return c.upstream.PoolOHLCV(ctx, ch, address, timeframe, aggregate)
	})
	if !ok || candles == nil {
		return []domain.Candle{}
	}
	return candles
}

// TokenInfo returns token metadata, or nil when unavailable.
func (c *Client) TokenInfo(ctx context.Context, chainName, address string) *domain.Token {
	ch := chain.Normalize(chainName)
	tok, ok := cached(ctx, c, "token", ch+":"+address, func(ctx context.Context) (domain.Token, error) {
		return c.upstream.Token(ctx, ch, address)
	})
	if !ok {
		return nil
	}
	return &tok
}

// SearchPools runs a free-text search. An empty query returns nothing.
func (c *Client) SearchPools(ctx context.Context, query string, limit int) []domain.Pool {
	q := strings.TrimSpace(query)
	if q == "" {
		return []domain.Pool{}
	}
	pools, ok := cached(ctx, c, "search", strings.ToLower(q), func(ctx context.Context) ([]domain.Pool, error) {
		return c.upstream.SearchPools(ctx, q)
	})
	if !ok {
		return []domain.Pool{}
	}
	return truncate(pools, limit)
}

// NormalizeTimeframe maps a requested timeframe onto day, hour or minute.
func NormalizeTimeframe(tf string) string {
	switch strings.ToLower(strings.TrimSpace(tf)) {
	case "day", "d", "1d":
		return "day"
	case "minute", "m", "min", "1m":
		return "minute"
	default:
		return "hour"
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) resolveChains(chainName string) []string {
	if ch := chain.Normalize(chainName); ch != "" {
		return []string{ch}
	}
	return c.chains
}

func (c *Client) chainPools(ctx context.Context, endpoint, ch string, fetch func(context.Context, string) ([]domain.Pool, error)) []domain.Pool {
	pools, ok := cached(ctx, c, endpoint, ch, func(ctx context.Context) ([]domain.Pool, error) {
		return fetch(ctx, ch)
	})
	if !ok {
		return nil
	}
	return pools
}

// cached serves key from the response cache, falling back to fetch on a
// miss. Failed fetches are logged and never cached; ok reports whether a
// value is available.
func cached[T any](ctx context.Context, c *Client, endpoint, key string, fetch func(context.Context) (T, error)) (T, bool) {
	var zero T
	cacheKey := keyPrefix + endpoint + ":" + key

	if c.cache != nil {
		data, hit, err := c.cache.Get(ctx, cacheKey)
		if err != nil {
			c.logger.Warn("cache get failed",
				slog.String("key", cacheKey),
				slog.String("error", err.Error()),
			)
		}
		if hit {
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				c.metrics.RecordCache(true)
				return v, true
			}
		}
		c.metrics.RecordCache(false)
	}

	v, err := fetch(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "upstream fetch failed",
			slog.String("endpoint", endpoint),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return zero, false
	}

	if c.cache != nil {
		data, err := json.Marshal(v)
		if err == nil {
			err = c.cache.Set(ctx, cacheKey, data, c.ttl)
		}
		if err != nil {
			c.logger.Warn("cache set failed",
				slog.String("key", cacheKey),
				slog.String("error", err.Error()),
			)
		}
	}
	return v, true
}

// sortByCreatedDesc orders pools newest first; unknown creation times sort
// last.
func sortByCreatedDesc(pools []domain.Pool) {
	sort.SliceStable(pools, func(i, j int) bool {
		a, b := pools[i].CreatedAt, pools[j].CreatedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

func truncate(pools []domain.Pool, limit int) []domain.Pool {
	if limit <= 0 {
		limit = defaultLimit
	}
	if pools == nil {
		return []domain.Pool{}
	}
	if len(pools) > limit {
		return pools[:limit]
	}
	return pools
}
