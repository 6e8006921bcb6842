package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

type fakeRecent struct {
	mu    sync.Mutex
	items []domain.Discovery
}

func (f *fakeRecent) set(items ...domain.Discovery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

func (f *fakeRecent) RecentDiscoveries(limit int, ch string) []domain.Discovery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Discovery{}
	for _, d := range f.items {
		if ch != "" && d.Chain != ch {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, recent RecentSource, bus domain.SignalBus, cfg Config) (*Hub, string) {
	t.Helper()
	h := NewHub(recent, bus, testLogger(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, h *Hub, url string) *websocket.Conn {
	t.Helper()
	before := h.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return h.ClientCount() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// expectSilence asserts nothing arrives within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f frame
	err := conn.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %s", f.Event)
}

// waitForTopic blocks until some client has joined topic.
func waitForTopic(t *testing.T, h *Hub, topic string) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			c.mu.RLock()
			ok := c.subs[topic]
			c.mu.RUnlock()
			if ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func discoveries(n int, ch string) []domain.Discovery {
	out := make([]domain.Discovery, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Discovery{
			Pool:  domain.Pool{Chain: ch, Address: ch + "-" + string(rune('a'+i%26)) + strings.Repeat("x", i/26)},
			IsNew: true,
		})
	}
	return out
}

func TestSubscribeNewPools_SnapshotFirst(t *testing.T) {
	recent := &fakeRecent{items: append(discoveries(25, "bsc"), discoveries(3, "solana")...)}
	h, url := startHub(t, recent, nil, Config{})
	conn := dial(t, h, url)

	send(t, conn, "subscribe:newPools", nil)
	snap := read(t, conn)
	assert.Equal(t, EventRecentPools, snap.Event)
	var items []domain.Discovery
	require.NoError(t, json.Unmarshal(snap.Data, &items))
	assert.Len(t, items, 20)

	require.NoError(t, h.Publish([]string{NewPoolsTopic(""), NewPoolsTopic("bsc")}, EventNewPool, domain.Discovery{Pool: domain.Pool{Address: "live"}}))
	live := read(t, conn)
	assert.Equal(t, EventNewPool, live.Event)
	// Subscribed only to newPools, delivered once even though two topics
	// were targeted.
	expectSilence(t, conn)
}

func TestSubscribeNewPools_ChainFiltered(t *testing.T) {
	recent := &fakeRecent{items: append(discoveries(2, "bsc"), discoveries(3, "solana")...)}
	h, url := startHub(t, recent, nil, Config{})
	conn := dial(t, h, url)

	send(t, conn, "subscribe:newPools", map[string]string{"chain": "sol"})
	snap := read(t, conn)
	var items []domain.Discovery
	require.NoError(t, json.Unmarshal(snap.Data, &items))
	require.Len(t, items, 3)
	for _, d := range items {
		assert.Equal(t, "solana", d.Chain)
	}

	require.NoError(t, h.Publish([]string{NewPoolsTopic(""), NewPoolsTopic("bsc")}, EventNewPool, "bsc-pool"))
	expectSilence(t, conn)

	require.NoError(t, h.Publish([]string{NewPoolsTopic(""), NewPoolsTopic("solana")}, EventNewPool, "sol-pool"))
	f := read(t, conn)
	assert.Equal(t, EventNewPool, f.Event)
	assert.JSONEq(t, `"sol-pool"`, string(f.Data))
}

func TestSubscribeNewPools_SkipsLiveCopyOfSnapshot(t *testing.T) {
	listed := domain.Discovery{Pool: domain.Pool{Chain: "bsc", Address: "0xlisted"}, IsNew: true}
	h, url := startHub(t, &fakeRecent{items: []domain.Discovery{listed}}, nil, Config{})
	conn := dial(t, h, url)

	send(t, conn, "subscribe:newPools", nil)
	snap := read(t, conn)
	require.Equal(t, EventRecentPools, snap.Event)
	assert.Contains(t, string(snap.Data), "0xlisted")

	// The tracker records a pool before emitting it, so its live frame can
	// land after the snapshot that already listed it.
	topics := []string{NewPoolsTopic(""), NewPoolsTopic("bsc")}
	require.NoError(t, h.Publish(topics, EventNewPool, listed))
	expectSilence(t, conn)

	fresh := domain.Discovery{Pool: domain.Pool{Chain: "bsc", Address: "0xfresh"}, IsNew: true}
	require.NoError(t, h.Publish(topics, EventNewPool, fresh))
	f := read(t, conn)
	assert.Equal(t, EventNewPool, f.Event)
	assert.Contains(t, string(f.Data), "0xfresh")

	// The skip is spent after one frame.
	require.NoError(t, h.Publish(topics, EventNewPool, listed))
	assert.Contains(t, string(read(t, conn).Data), "0xlisted")
}

func TestSubscribeNewPools_SnapshotSkipIsPerConnection(t *testing.T) {
	listed := domain.Discovery{Pool: domain.Pool{Chain: "bsc", Address: "0xlisted"}, IsNew: true}
	recent := &fakeRecent{}
	h, url := startHub(t, recent, nil, Config{})
	early := dial(t, h, url)
	send(t, early, "subscribe:newPools", nil)
	assert.JSONEq(t, `[]`, string(read(t, early).Data))

	recent.set(listed)
	late := dial(t, h, url)
	send(t, late, "subscribe:newPools", nil)
	read(t, late)

	require.NoError(t, h.Publish([]string{NewPoolsTopic("")}, EventNewPool, listed))
	assert.Equal(t, EventNewPool, read(t, early).Event)
	expectSilence(t, late)
}

func TestDuplicateMembershipDeliversOnce(t *testing.T) {
	h, url := startHub(t, &fakeRecent{}, nil, Config{})
	conn := dial(t, h, url)

	send(t, conn, "subscribe:newPools", nil)
	read(t, conn)
	send(t, conn, "subscribe:newPools", "base")
	read(t, conn)

	require.NoError(t, h.Publish([]string{NewPoolsTopic(""), NewPoolsTopic("base")}, EventNewPool, 1))
	read(t, conn)
	expectSilence(t, conn)
}

func TestTopicIsolation(t *testing.T) {
	h, url := startHub(t, &fakeRecent{}, nil, Config{})
	trending := dial(t, h, url)
	prices := dial(t, h, url)

	send(t, trending, "subscribe:trending", nil)
	waitForTopic(t, h, TopicTrending)
	send(t, prices, "subscribe:price", []string{"0xabc", "0xdef"})
	waitForTopic(t, h, PriceTopic("0xdef"))

	require.NoError(t, h.Publish([]string{TopicTrending}, EventTrendingUpdate, []int{1}))
	assert.Equal(t, EventTrendingUpdate, read(t, trending).Event)
	expectSilence(t, prices)

	require.NoError(t, h.Publish([]string{PriceTopic("0xabc")}, EventPriceUpdate, map[string]float64{"price": 1}))
	assert.Equal(t, EventPriceUpdate, read(t, prices).Event)
	expectSilence(t, trending)
}

func TestUnsubscribe(t *testing.T) {
	h, url := startHub(t, &fakeRecent{}, nil, Config{})
	conn := dial(t, h, url)

	send(t, conn, "subscribe:chain", "eth")
	waitForTopic(t, h, ChainTopic("ethereum"))
	require.NoError(t, h.Publish([]string{ChainTopic("ethereum")}, EventChainUpdate, nil))
	assert.Equal(t, EventChainUpdate, read(t, conn).Event)

	send(t, conn, "unsubscribe:chain", "ethereum")
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			c.mu.RLock()
			n := len(c.subs)
			c.mu.RUnlock()
			if n != 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish([]string{ChainTopic("ethereum")}, EventChainUpdate, nil))
	expectSilence(t, conn)
}

func TestTradesTopicJoinable(t *testing.T) {
	h, url := startHub(t, &fakeRecent{}, nil, Config{})
	conn := dial(t, h, url)

	send(t, conn, "subscribe:trades", map[string]string{"chain": "bsc", "pairAddress": "0xpair"})
	waitForTopic(t, h, TradesTopic("bsc", "0xpair"))
}

func TestErrorFrames(t *testing.T) {
	h, url := startHub(t, &fakeRecent{}, nil, Config{})
	conn := dial(t, h, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := read(t, conn)
	assert.Equal(t, EventError, f.Event)

	send(t, conn, "subscribe:everything", nil)
	f = read(t, conn)
	assert.Equal(t, EventError, f.Event)
	assert.Contains(t, string(f.Data), "unknown event")

	send(t, conn, "subscribe:trades", map[string]string{"chain": "bsc"})
	assert.Equal(t, EventError, read(t, conn).Event)

	send(t, conn, "subscribe:chain", nil)
	assert.Equal(t, EventError, read(t, conn).Event)
}

func TestDisconnectUnregisters(t *testing.T) {
	h, url := startHub(t, &fakeRecent{}, nil, Config{})
	conn := dial(t, h, url)
	require.Equal(t, 1, h.ClientCount())

	_ = conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub(&fakeRecent{}, nil, testLogger(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = h.Publish([]string{TopicTrending}, EventTrendingUpdate, i)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked after the hub stopped")
	}
}

// memoryBus is an in-process domain.SignalBus.
type memoryBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (b *memoryBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s <- payload
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

func TestBusRelayAcrossHubs(t *testing.T) {
	bus := &memoryBus{}
	cfg := Config{FanoutChannel: "poolwatch:fanout"}
	a, urlA := startHub(t, &fakeRecent{}, bus, cfg)
	b, urlB := startHub(t, &fakeRecent{}, bus, cfg)
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	onA := dial(t, a, urlA)
	onB := dial(t, b, urlB)
	send(t, onA, "subscribe:trending", nil)
	send(t, onB, "subscribe:trending", nil)
	waitForTopic(t, a, TopicTrending)
	waitForTopic(t, b, TopicTrending)

	require.NoError(t, a.Publish([]string{TopicTrending}, EventTrendingUpdate, "x"))
	assert.Equal(t, EventTrendingUpdate, read(t, onA).Event)
	assert.Equal(t, EventTrendingUpdate, read(t, onB).Event)
	// The origin hub skips its own relayed frame.
	expectSilence(t, onA)

	// A bus-only publisher reaches both hubs.
	pub := NewBusPublisher(bus, "poolwatch:fanout", "detector-1")
	require.NoError(t, pub.Publish([]string{TopicTrending}, EventTrendingUpdate, "y"))
	assert.Equal(t, EventTrendingUpdate, read(t, onA).Event)
	assert.Equal(t, EventTrendingUpdate, read(t, onB).Event)
}

func TestBusRelay_SingleProducerDeliversOnce(t *testing.T) {
	bus := &memoryBus{}
	var mu sync.Mutex
	var mirrored []domain.Discovery
	follower := Config{
		FanoutChannel: "poolwatch:fanout",
		OnRelayedDiscovery: func(d domain.Discovery) {
			mu.Lock()
			defer mu.Unlock()
			mirrored = append(mirrored, d)
		},
	}
	producer, urlP := startHub(t, &fakeRecent{}, bus, Config{FanoutChannel: "poolwatch:fanout"})
	replica, urlR := startHub(t, &fakeRecent{}, bus, follower)
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	onP := dial(t, producer, urlP)
	onR := dial(t, replica, urlR)
	send(t, onP, "subscribe:newPools", nil)
	send(t, onR, "subscribe:newPools", nil)
	read(t, onP)
	read(t, onR)

	d := domain.Discovery{Pool: domain.Pool{Chain: "base", Address: "0xpool", SnipeScore: 70}, IsNew: true}
	require.NoError(t, producer.Publish([]string{NewPoolsTopic(""), NewPoolsTopic("base")}, EventNewPool, d))

	for _, conn := range []*websocket.Conn{onP, onR} {
		f := read(t, conn)
		assert.Equal(t, EventNewPool, f.Event)
		expectSilence(t, conn)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(mirrored) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "base:0xpool", mirrored[0].Key())
	assert.Equal(t, 70, mirrored[0].SnipeScore)
}

func TestBusRelay_ObserverSeesOnlyDiscoveries(t *testing.T) {
	bus := &memoryBus{}
	seen := make(chan domain.Discovery, 4)
	_, _ = startHub(t, &fakeRecent{}, bus, Config{
		FanoutChannel:      "poolwatch:fanout",
		OnRelayedDiscovery: func(d domain.Discovery) { seen <- d },
	})
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	pub := NewBusPublisher(bus, "poolwatch:fanout", "detector-1")
	require.NoError(t, pub.Publish([]string{TopicTrending}, EventTrendingUpdate, []int{1}))
	require.NoError(t, pub.Publish([]string{NewPoolsTopic("")}, EventNewPool,
		domain.Discovery{Pool: domain.Pool{Chain: "solana", Address: "So1"}, IsNew: true}))

	select {
	case d := <-seen:
		assert.Equal(t, "solana:So1", d.Key())
	case <-time.After(2 * time.Second):
		t.Fatal("relayed discovery not observed")
	}
	select {
	case d := <-seen:
		t.Fatalf("unexpected observation %s", d.Key())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChainArg(t *testing.T) {
	ch, ok := chainArg(nil)
	assert.True(t, ok)
	assert.Empty(t, ch)

	ch, ok = chainArg(json.RawMessage(`"ETH"`))
	assert.True(t, ok)
	assert.Equal(t, "ethereum", ch)

	ch, ok = chainArg(json.RawMessage(`{"chain":"bsc"}`))
	assert.True(t, ok)
	assert.Equal(t, "bsc", ch)

	_, ok = chainArg(json.RawMessage(`[1]`))
	assert.False(t, ok)
}

func TestOriginChecker(t *testing.T) {
	allowAll := originChecker(nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.True(t, allowAll(r))

	restricted := originChecker([]string{"https://app.example"})
	assert.False(t, restricted(r))
	r.Header.Set("Origin", "https://app.example")
	assert.True(t, restricted(r))
}
