package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upstream serves an empty pool list for every request and counts hits.
func upstream(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.GeckoTerminal.BaseURL = baseURL
	cfg.Server.Enabled = false
	return &cfg
}

func TestWire_InMemoryDefaults(t *testing.T) {
	cfg := config.Defaults()

	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Registry)
	assert.NotNil(t, deps.Metrics)
	assert.NotNil(t, deps.Market)
	assert.NotNil(t, deps.Tracker)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Leases)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Discoveries)
	assert.Nil(t, deps.Watchlist)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.HealthChecks)
	assert.False(t, deps.Notifier.Enabled())
	assert.Nil(t, deps.Alerter)
	assert.Equal(t, cfg.NormalizedChains(), deps.Market.Chains())
}

func TestWire_NotifierFromCredentials(t *testing.T) {
	cfg := config.Defaults()
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/webhook"

	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.True(t, deps.Notifier.Enabled())
	assert.NotNil(t, deps.Alerter)
}

func TestSubscribeListeners_Detach(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	unsubscribe := subscribeListeners(deps)
	unsubscribe()
	unsubscribe()
}

func TestRun_UnsupportedMode(t *testing.T) {
	srv, _ := upstream(t)
	cfg := testConfig(srv.URL)
	cfg.Mode = "trader"

	a := New(cfg, quietLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestRun_FullModeStopsOnCancel(t *testing.T) {
	srv, hits := upstream(t)
	cfg := testConfig(srv.URL)

	a := New(cfg, quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool { return hits.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("full mode did not stop")
	}
}

func TestRun_DetectorModeStopsOnCancel(t *testing.T) {
	srv, hits := upstream(t)
	cfg := testConfig(srv.URL)
	cfg.Mode = "detector"

	a := New(cfg, quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool { return hits.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("detector mode did not stop")
	}
}
