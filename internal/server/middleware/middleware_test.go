package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(okHandler)

	cases := []struct {
		name   string
		target string
		header [2]string
		want   int
	}{
		{"missing", "/api/tokens/trending", [2]string{}, http.StatusUnauthorized},
		{"wrong bearer", "/api/tokens/trending", [2]string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/api/tokens/trending", [2]string{"Authorization", "Bearer s3cret"}, http.StatusOK},
		{"api key header", "/api/tokens/trending", [2]string{"X-API-Key", "s3cret"}, http.StatusOK},
		{"query token", "/ws?token=s3cret", [2]string{}, http.StatusOK},
		{"public path", "/api/health", [2]string{}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			assert.Equal(t, tc.want, serve(h, req).Code)
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	h := Auth("")(okHandler)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/watchlist", nil)
	req.Header.Set("Origin", "https://app.example")
	rec = serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type countingLimiter struct {
	max  int
	seen map[string]int
	err  error
}

func (c *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.seen[key]++
	return c.seen[key] <= c.max, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{max: 2, seen: map[string]int{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(lim, 2, time.Minute, logger)(okHandler)

	newReq := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/tokens/new", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return req
	}

	assert.Equal(t, http.StatusOK, serve(h, newReq("1.2.3.4")).Code)
	assert.Equal(t, http.StatusOK, serve(h, newReq("1.2.3.4")).Code)
	rec := serve(h, newReq("1.2.3.4"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, serve(h, newReq("5.6.7.8")).Code)
	assert.Equal(t, 3, lim.seen["api:1.2.3.4"])

	failing := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute, logger)(okHandler)
	assert.Equal(t, http.StatusOK, serve(failing, newReq("1.2.3.4")).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	h := Logging(logger, "/metrics")(failing)
	serve(h, httptest.NewRequest(http.MethodGet, "/api/tokens/new", nil))
	require.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "status=502")

	buf.Reset()
	serve(Logging(logger, "/metrics")(okHandler), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, buf.String())
}
