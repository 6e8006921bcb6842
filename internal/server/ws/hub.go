// Package ws serves the topic-based WebSocket fan-out. Clients join topics
// with subscribe:* frames; producers publish frames to sets of topics and
// the hub delivers each frame at most once per connection. Across instances
// sharing a signal bus that holds only while one instance produces each
// stream; the app elects that producer with a Redis lease.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/metrics"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// snapshotLimit caps the recentPools frame sent on subscribe.
	snapshotLimit = 20
)

// RecentSource supplies the discovery snapshot sent on subscribe.
// *discovery.Tracker satisfies it.
type RecentSource interface {
	RecentDiscoveries(limit int, chain string) []domain.Discovery
}

// Config holds optional hub settings.
type Config struct {
	// FanoutChannel is the signal bus channel used to relay frames between
	// instances. Ignored without a bus.
	FanoutChannel string

	// AllowedOrigins restricts the upgrade Origin header. Empty or "*"
	// allows any origin.
	AllowedOrigins []string

	Metrics *metrics.Metrics

	// OnRelayedDiscovery, when set, receives every newPool frame relayed
	// from another instance so followers can mirror the producer's
	// seen-set.
	OnRelayedDiscovery func(domain.Discovery)
}

type outbound struct {
	topics []string
	data   []byte
	// pool is the chain:address key of a newPool frame, empty otherwise.
	pool string
}

// Hub owns every connection and its topic memberships.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}
	doneOnce   sync.Once

	recent   RecentSource
	bus      domain.SignalBus
	channel  string
	origin   string
	upgrader websocket.Upgrader

	onRelayed func(domain.Discovery)

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates a hub. bus may be nil for a single-instance deployment.
func NewHub(recent RecentSource, bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		recent:     recent,
		bus:        bus,
		channel:    cfg.FanoutChannel,
		origin:     uuid.NewString(),
		logger:     logger.With(slog.String("component", "ws")),
		metrics:    cfg.Metrics,
		onRelayed:  cfg.OnRelayedDiscovery,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Origin identifies this hub on the signal bus.
func (h *Hub) Origin() string { return h.origin }

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every connection's send queue on the way out.
func (h *Hub) Run(ctx context.Context) error {
	defer h.doneOnce.Do(func() { close(h.done) })

	if h.bus != nil && h.channel != "" {
		go h.relayFromBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.metrics.SetWSClients(0)
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
			h.logger.Info("client connected",
				slog.String("client", c.id),
				slog.Int("total_clients", n),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
			h.logger.Info("client disconnected",
				slog.String("client", c.id),
				slog.Int("total_clients", n),
			)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.deliver(msg) == deliverDropped {
			h.metrics.RecordDroppedFrame()
			h.logger.Warn("dropping frame for slow client", slog.String("client", c.id))
		}
	}
}

// Publish sends {event, data} to every connection subscribed to any of
// topics, at most once per connection. With a signal bus configured the
// frame is also relayed to other instances.
func (h *Hub) Publish(topics []string, event string, data any) error {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", event, err)
	}

	msg := outbound{topics: topics, data: payload}
	if d, ok := data.(domain.Discovery); ok && event == EventNewPool {
		msg.pool = d.Key()
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
		return nil
	}

	if h.bus != nil && h.channel != "" {
		frame, err := encodeRelay(h.origin, topics, payload)
		if err != nil {
			return fmt.Errorf("ws: encode relay frame: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
		defer cancel()
		if err := h.bus.Publish(ctx, h.channel, frame); err != nil {
			return fmt.Errorf("ws: relay %s: %w", event, err)
		}
	}
	return nil
}

// relayFromBus delivers frames published by other instances.
func (h *Hub) relayFromBus(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("fanout subscribe failed",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("fanout relay subscribed", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				h.logger.Warn("fanout subscription closed", slog.String("channel", h.channel))
				return
			}
			var frame relayFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				h.logger.Warn("bad fanout frame", slog.String("error", err.Error()))
				continue
			}
			if frame.Origin == h.origin || len(frame.Topics) == 0 {
				continue
			}
			msg := outbound{topics: frame.Topics, data: frame.Payload, pool: h.relayedPool(frame.Payload)}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// relayedPool returns the pool key of a relayed newPool frame and hands the
// discovery to the relay observer. Other frames yield "".
func (h *Hub) relayedPool(payload []byte) string {
	var env inbound
	if err := json.Unmarshal(payload, &env); err != nil || env.Event != EventNewPool {
		return ""
	}
	var d domain.Discovery
	if err := json.Unmarshal(env.Data, &d); err != nil {
		h.logger.Warn("bad relayed discovery", slog.String("error", err.Error()))
		return ""
	}
	if h.onRelayed != nil {
		h.onRelayed(d)
	}
	return d.Key()
}

// HandleWS upgrades the request and attaches the connection to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot(ch string) []domain.Discovery {
	if h.recent == nil {
		return []domain.Discovery{}
	}
	return h.recent.RecentDiscoveries(snapshotLimit, ch)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
