// Package geckoterminal is the REST client for the GeckoTerminal public API.
// It fetches JSON:API documents and normalizes them into domain pools,
// tokens and candles.
package geckoterminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/chain"
	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/metrics"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.geckoterminal.com/api/v2"

	includeRelations = "base_token,quote_token,dex"
	rateLimitKey     = "geckoterminal"
	maxErrorBody     = 512
	ohlcvLimit       = 100
)

// Client talks to the GeckoTerminal API. All methods take canonical chain
// names and translate them to upstream network ids.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	metrics    *metrics.Metrics

	limiter     domain.RateLimiter
	limit       int
	limitWindow time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter gates every request through a shared limiter. Requests
// denied by the limiter fail with domain.ErrRateLimited; limiter errors let
// the request through.
func WithRateLimiter(l domain.RateLimiter, limit int, window time.Duration) Option {
	return func(c *Client) {
		c.limiter = l
		c.limit = limit
		c.limitWindow = window
	}
}

// WithClock overrides the clock used to compute pool ages.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithMetrics records upstream request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewPools returns the newest pools on a chain.
func (c *Client) NewPools(ctx context.Context, chainName string) ([]domain.Pool, error) {
	network := chain.Network(chainName)
	pools, err := c.listPools(ctx, "new_pools", fmt.Sprintf("/networks/%s/new_pools", url.PathEscape(network)), network, nil)
	if err != nil {
		return nil, fmt.Errorf("geckoterminal: new pools %s: %w", chainName, err)
	}
	return pools, nil
}

// TrendingPools returns the trending pools on a chain.
func (c *Client) TrendingPools(ctx context.Context, chainName string) ([]domain.Pool, error) {
	network := chain.Network(chainName)
	pools, err := c.listPools(ctx, "trending_pools", fmt.Sprintf("/networks/%s/trending_pools", url.PathEscape(network)), network, nil)
	if err != nil {
		return nil, fmt.Errorf("geckoterminal: trending pools %s: %w", chainName, err)
	}
	return pools, nil
}

// SearchPools runs a free-text search across all networks.
func (c *Client) SearchPools(ctx context.Context, query string) ([]domain.Pool, error) {
	params := url.Values{}
	params.Set("query", query)
	pools, err := c.listPools(ctx, "search", "/search/pools", "", params)
	if err != nil {
		return nil, fmt.Errorf("geckoterminal: search %q: %w", query, err)
	}
	return pools, nil
}

// Pool returns a single pool. A missing pool yields domain.ErrNotFound.
func (c *Client) Pool(ctx context.Context, chainName, address string) (domain.Pool, error) {
	network := chain.Network(chainName)
	params := url.Values{}
	params.Set("include", includeRelations)
	path := fmt.Sprintf("/networks/%s/pools/%s?%s", url.PathEscape(network), url.PathEscape(address), params.Encode())

	body, err := c.doGet(ctx, "pool", path)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("geckoterminal: pool %s/%s: %w", chainName, address, err)
	}

	var doc apiDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.Pool{}, fmt.Errorf("geckoterminal: decode pool: %w", err)
	}
	if doc.Data.ID == "" {
		return domain.Pool{}, fmt.Errorf("geckoterminal: pool %s/%s: %w", chainName, address, domain.ErrNotFound)
	}

	pool, err := normalizePool(doc.Data, indexIncluded(doc.Included), network, c.now())
	if err != nil {
		return domain.Pool{}, fmt.Errorf("geckoterminal: %w", err)
	}
	return pool, nil
}

// PoolOHLCV returns candles for a pool. timeframe is "minute", "hour" or
// "day"; aggregate is the bucket multiplier.
func (c *Client) PoolOHLCV(ctx context.Context, chainName, address, timeframe string, aggregate int) ([]domain.Candle, error) {
	network := chain.Network(chainName)
	if aggregate <= 0 {
		aggregate = 1
	}
	params := url.Values{}
	params.Set("aggregate", strconv.Itoa(aggregate))
	params.Set("limit", strconv.Itoa(ohlcvLimit))
	path := fmt.Sprintf("/networks/%s/pools/%s/ohlcv/%s?%s", url.PathEscape(network), url.PathEscape(address), url.PathEscape(timeframe), params.Encode())

	body, err := c.doGet(ctx, "ohlcv", path)
	if err != nil {
		return nil, fmt.Errorf("geckoterminal: ohlcv %s/%s: %w", chainName, address, err)
	}

	var doc struct {
		Data struct {
			Attributes apiOHLCVAttributes `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("geckoterminal: decode ohlcv: %w", err)
	}
	return normalizeCandles(doc.Data.Attributes), nil
}

// Token returns token metadata. A missing token yields domain.ErrNotFound.
func (c *Client) Token(ctx context.Context, chainName, address string) (domain.Token, error) {
	network := chain.Network(chainName)
	path := fmt.Sprintf("/networks/%s/tokens/%s", url.PathEscape(network), url.PathEscape(address))

	body, err := c.doGet(ctx, "token", path)
	if err != nil {
		return domain.Token{}, fmt.Errorf("geckoterminal: token %s/%s: %w", chainName, address, err)
	}

	var doc apiDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.Token{}, fmt.Errorf("geckoterminal: decode token: %w", err)
	}
	if doc.Data.ID == "" {
		return domain.Token{}, fmt.Errorf("geckoterminal: token %s/%s: %w", chainName, address, domain.ErrNotFound)
	}

	tok, err := normalizeToken(doc.Data, network)
	if err != nil {
		return domain.Token{}, fmt.Errorf("geckoterminal: %w", err)
	}
	return tok, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) listPools(ctx context.Context, endpoint, path, network string, params url.Values) ([]domain.Pool, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("include", includeRelations)
	params.Set("page", "1")

	body, err := c.doGet(ctx, endpoint, path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var doc apiListDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode pools: %w", err)
	}
	return normalizePools(doc, network, c.now()), nil
}

// doGet sends a GET request and returns the body of a 2xx response.
func (c *Client) doGet(ctx context.Context, endpoint, path string) ([]byte, error) {
	if c.limiter != nil && c.limit > 0 {
		ok, err := c.limiter.Allow(ctx, rateLimitKey, c.limit, c.limitWindow)
		if err == nil && !ok {
			c.metrics.RecordUpstream(endpoint, "throttled")
			return nil, domain.ErrRateLimited
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(endpoint, "error")
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordUpstream(endpoint, "error")
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrUpstream, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrNotFound) {
			outcome = "not_found"
		}
		c.metrics.RecordUpstream(endpoint, outcome)
		return nil, err
	}

	c.metrics.RecordUpstream(endpoint, "ok")
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > maxErrorBody {
		bodyStr = bodyStr[:maxErrorBody]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstream, statusCode, bodyStr)
	}
}
