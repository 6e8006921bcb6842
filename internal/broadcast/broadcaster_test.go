package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/server/ws"
)

type published struct {
	topics []string
	event  string
	data   any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topics []string, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topics: topics, event: event, data: data})
	return f.err
}

func (f *fakePublisher) byEvent(event string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msgs {
		if m.event == event {
			out = append(out, m)
		}
	}
	return out
}

type fakeMarket struct {
	mu       sync.Mutex
	trending map[string][]domain.Pool
	panics   bool
	calls    []string
}

func (f *fakeMarket) TrendingPools(_ context.Context, ch string, limit int) []domain.Pool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ch)
	if f.panics {
		panic("upstream exploded")
	}
	pools := f.trending[ch]
	if len(pools) > limit {
		pools = pools[:limit]
	}
	return pools
}

type fakeTracker struct {
	mu        sync.Mutex
	listeners []domain.DiscoveryListener
	running   chan struct{}
	stats     domain.DetectorStats
}

func (f *fakeTracker) Subscribe(l domain.DiscoveryListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakeTracker) Run(ctx context.Context) error {
	close(f.running)
	<-ctx.Done()
	return nil
}

func (f *fakeTracker) Stats() domain.DetectorStats { return f.stats }

func (f *fakeTracker) emit(d domain.Discovery) {
	f.mu.Lock()
	ls := append([]domain.DiscoveryListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		_ = l.OnDiscovery(context.Background(), d)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makePools(ch string, n int) []domain.Pool {
	out := make([]domain.Pool, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Pool{
			Chain:       ch,
			Address:     ch + "-" + string(rune('a'+i)),
			PriceUSD:    float64(i + 1),
			PriceChange: domain.PriceChange{H24: 10, H1: 1},
			Volume:      domain.Volume{H24: 1000},
			Liquidity:   5000,
		})
	}
	return out
}

func TestRelay_TargetsGlobalAndChainTopics(t *testing.T) {
	pub := &fakePublisher{}
	d := domain.Discovery{Pool: domain.Pool{Chain: "solana", Address: "abc"}, IsNew: true}

	require.NoError(t, Relay(pub).OnDiscovery(context.Background(), d))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, []string{"newPools", "newPools:solana"}, pub.msgs[0].topics)
	assert.Equal(t, ws.EventNewPool, pub.msgs[0].event)
	assert.Equal(t, d, pub.msgs[0].data)
}

func TestPushPrices(t *testing.T) {
	pub := &fakePublisher{}
	market := &fakeMarket{trending: map[string][]domain.Pool{
		"bsc":  makePools("bsc", 12),
		"base": makePools("base", 2),
	}}
	now := time.UnixMilli(1_760_000_000_000)
	b := New(pub, market, &fakeTracker{}, DefaultConfig([]string{"bsc", "base"}), quietLogger(),
		WithClock(func() time.Time { return now }))

	require.NoError(t, b.PushPrices(context.Background()))

	prices := pub.byEvent(ws.EventPriceUpdate)
	require.Len(t, prices, 7)
	first := prices[0].data.(PriceUpdate)
	assert.Equal(t, "bsc-a", first.PairID)
	assert.Equal(t, []string{"price:bsc-a"}, prices[0].topics)
	assert.Equal(t, 1.0, first.Price)
	assert.Equal(t, 10.0, first.Change24h)
	assert.Equal(t, int64(1_760_000_000_000), first.Timestamp)

	raw, err := json.Marshal(first)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	for _, key := range []string{"pairId", "chain", "price", "change24h", "change1h", "volume24h", "liquidity", "timestamp"} {
		assert.Contains(t, wire, key)
	}
	assert.Len(t, wire, 8)
	assert.Equal(t, 10.0, wire["change24h"])
	assert.Equal(t, 1.0, wire["change1h"])

	chains := pub.byEvent(ws.EventChainUpdate)
	require.Len(t, chains, 2)
	bsc := chains[0].data.(ChainUpdate)
	assert.Equal(t, "bsc", bsc.Chain)
	assert.Len(t, bsc.Pools, 10)
	assert.Equal(t, []string{"chain:bsc"}, chains[0].topics)
	assert.Len(t, chains[1].data.(ChainUpdate).Pools, 2)
}

func TestPushTrending(t *testing.T) {
	pub := &fakePublisher{}
	market := &fakeMarket{trending: map[string][]domain.Pool{"": makePools("bsc", 25)}}
	b := New(pub, market, &fakeTracker{}, DefaultConfig([]string{"bsc"}), quietLogger())

	require.NoError(t, b.PushTrending(context.Background()))
	msgs := pub.byEvent(ws.EventTrendingUpdate)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{ws.TopicTrending}, msgs[0].topics)
	assert.Len(t, msgs[0].data.([]domain.Pool), 20)
}

func TestPushStats_AddsUptime(t *testing.T) {
	pub := &fakePublisher{}
	now := time.Unix(1_760_000_000, 0)
	clock := func() time.Time { return now }
	tracker := &fakeTracker{stats: domain.DetectorStats{TotalPoolsTracked: 3, PoolsByChain: map[string]int{"bsc": 3}}}
	b := New(pub, &fakeMarket{}, tracker, DefaultConfig(nil), quietLogger(), WithClock(clock))

	now = now.Add(90 * time.Second)
	require.NoError(t, b.PushStats(context.Background()))

	msgs := pub.byEvent(ws.EventDetectorStats)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{ws.TopicNewPools}, msgs[0].topics)
	stats := msgs[0].data.(domain.DetectorStats)
	require.NotNil(t, stats.Uptime)
	assert.Equal(t, int64(90), *stats.Uptime)
	assert.Equal(t, 3, stats.TotalPoolsTracked)
}

func TestRunTask_IsolatesFailures(t *testing.T) {
	b := New(&fakePublisher{}, &fakeMarket{panics: true}, &fakeTracker{}, DefaultConfig([]string{"bsc"}), quietLogger())

	require.NotPanics(t, func() { b.runTask(context.Background(), "prices", b.PushPrices) })
	require.NotPanics(t, func() {
		b.runTask(context.Background(), "x", func(context.Context) error { return errors.New("nope") })
	})
}

func TestPushPrices_ReportsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("bus down")}
	market := &fakeMarket{trending: map[string][]domain.Pool{"bsc": makePools("bsc", 1)}}
	b := New(pub, market, &fakeTracker{}, DefaultConfig([]string{"bsc"}), quietLogger())

	err := b.PushPrices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus down")
	// Both the price tick and the chain update were attempted.
	assert.Len(t, pub.msgs, 2)
}

func TestRun_RelaysAndTicks(t *testing.T) {
	pub := &fakePublisher{}
	market := &fakeMarket{trending: map[string][]domain.Pool{"bsc": makePools("bsc", 1)}}
	tracker := &fakeTracker{running: make(chan struct{})}
	cfg := DefaultConfig([]string{"bsc"})
	cfg.TrendingInterval = 20 * time.Millisecond
	cfg.PriceInterval = 20 * time.Millisecond
	cfg.StatsInterval = 20 * time.Millisecond
	b := New(pub, market, tracker, cfg, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case <-tracker.running:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker was not started")
	}
	tracker.emit(domain.Discovery{Pool: domain.Pool{Chain: "bsc", Address: "0x1"}})

	assert.Eventually(t, func() bool {
		return len(pub.byEvent(ws.EventTrendingUpdate)) > 0 &&
			len(pub.byEvent(ws.EventPriceUpdate)) > 0 &&
			len(pub.byEvent(ws.EventDetectorStats)) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, pub.byEvent(ws.EventNewPool), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	tracker.mu.Lock()
	assert.Empty(t, tracker.listeners)
	tracker.mu.Unlock()
}

func fastConfig(chains ...string) Config {
	cfg := DefaultConfig(chains)
	cfg.TrendingInterval = 20 * time.Millisecond
	cfg.PriceInterval = 20 * time.Millisecond
	cfg.StatsInterval = 20 * time.Millisecond
	return cfg
}

func TestRunTickers_LeavesTrackerAlone(t *testing.T) {
	pub := &fakePublisher{}
	market := &fakeMarket{trending: map[string][]domain.Pool{"bsc": makePools("bsc", 1)}}
	tracker := &fakeTracker{running: make(chan struct{})}
	b := New(pub, market, tracker, fastConfig("bsc"), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunTickers(ctx) }()

	assert.Eventually(t, func() bool {
		return len(pub.byEvent(ws.EventTrendingUpdate)) > 0 && len(pub.byEvent(ws.EventDetectorStats)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-tracker.running:
		t.Fatal("tickers started the tracker")
	default:
	}
	tracker.mu.Lock()
	assert.Empty(t, tracker.listeners)
	tracker.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunTickers did not return")
	}
}

func TestRunDiscovery_RelaysOnlyDiscoveries(t *testing.T) {
	pub := &fakePublisher{}
	tracker := &fakeTracker{running: make(chan struct{})}
	b := New(pub, &fakeMarket{}, tracker, fastConfig("bsc"), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunDiscovery(ctx) }()

	select {
	case <-tracker.running:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker was not started")
	}
	tracker.emit(domain.Discovery{Pool: domain.Pool{Chain: "bsc", Address: "0x1"}})
	time.Sleep(60 * time.Millisecond)

	assert.Len(t, pub.byEvent(ws.EventNewPool), 1)
	assert.Empty(t, pub.byEvent(ws.EventTrendingUpdate))
	assert.Empty(t, pub.byEvent(ws.EventDetectorStats))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunDiscovery did not return")
	}
	tracker.mu.Lock()
	assert.Empty(t, tracker.listeners)
	tracker.mu.Unlock()
}
