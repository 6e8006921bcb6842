package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxSnapshotted bounds the per-connection record of snapshotted pools.
const maxSnapshotted = 4 * snapshotLimit

type deliverResult int

const (
	deliverSkipped deliverResult = iota
	deliverQueued
	deliverDropped
)

// client is a single WebSocket connection and its topic memberships.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	subs   map[string]bool
	closed bool
	// snapshotted holds pools already sent in a recentPools frame whose
	// live newPool may still be queued in the hub.
	snapshotted map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),

		snapshotted: make(map[string]bool),
	}
}

// deliver queues msg if the client belongs to any of its topics. A newPool
// for a pool the client already got in its snapshot is skipped once.
func (c *client) deliver(msg outbound) deliverResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.memberLocked(msg.topics) {
		return deliverSkipped
	}
	if msg.pool != "" && c.snapshotted[msg.pool] {
		delete(c.snapshotted, msg.pool)
		return deliverSkipped
	}
	select {
	case c.send <- msg.data:
		return deliverQueued
	default:
		return deliverDropped
	}
}

func (c *client) memberLocked(topics []string) bool {
	for _, t := range topics {
		if c.subs[t] {
			return true
		}
	}
	return false
}

// closeSend closes the send queue once. Only the hub loop calls it.
func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// enqueueLocked queues a frame without blocking. c.mu must be held.
func (c *client) enqueueLocked(data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.metrics.RecordDroppedFrame()
	}
}

func (c *client) sendEvent(event string, data any) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(payload)
}

func (c *client) sendError(msg string) {
	c.sendEvent(EventError, errorPayload{Message: msg})
}

func (c *client) join(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.subs[t] = true
	}
}

func (c *client) leave(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
}

// joinNewPools queues the recent-discovery snapshot and adds the membership
// under one lock, so the snapshot precedes any live newPool frame.
func (c *client) joinNewPools(ch string) {
	recent := c.hub.snapshot(ch)
	payload, err := json.Marshal(Envelope{Event: EventRecentPools, Data: recent})
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(payload)
	c.subs[NewPoolsTopic(ch)] = true
	if len(c.snapshotted) > maxSnapshotted {
		clear(c.snapshotted)
	}
	for _, d := range recent {
		c.snapshotted[d.Key()] = true
	}
}

// handle applies one client frame.
func (c *client) handle(msg inbound) {
	switch msg.Event {
	case cmdSubscribeNewPools:
		ch, ok := chainArg(msg.Data)
		if !ok {
			c.sendError("invalid chain")
			return
		}
		c.joinNewPools(ch)

	case cmdUnsubscribeNewPools:
		ch, ok := chainArg(msg.Data)
		if !ok {
			c.sendError("invalid chain")
			return
		}
		c.leave(NewPoolsTopic(ch))

	case cmdSubscribePrice, cmdUnsubscribePrice:
		ids, ok := pairsArg(msg.Data)
		if !ok {
			c.sendError("expected a list of pair ids")
			return
		}
		topics := make([]string, 0, len(ids))
		for _, id := range ids {
			topics = append(topics, PriceTopic(id))
		}
		if msg.Event == cmdSubscribePrice {
			c.join(topics...)
		} else {
			c.leave(topics...)
		}

	case cmdSubscribeTrades, cmdUnsubscribeTrades:
		ch, addr, ok := tradesArg(msg.Data)
		if !ok {
			c.sendError("expected {chain, pairAddress}")
			return
		}
		if msg.Event == cmdSubscribeTrades {
			c.join(TradesTopic(ch, addr))
		} else {
			c.leave(TradesTopic(ch, addr))
		}

	case cmdSubscribeTrending:
		c.join(TopicTrending)

	case cmdUnsubscribeTrending:
		c.leave(TopicTrending)

	case cmdSubscribeChain, cmdUnsubscribeChain:
		ch, ok := chainArg(msg.Data)
		if !ok || ch == "" {
			c.sendError("chain is required")
			return
		}
		if msg.Event == cmdSubscribeChain {
			c.join(ChainTopic(ch))
		} else {
			c.leave(ChainTopic(ch))
		}

	default:
		c.sendError("unknown event: " + msg.Event)
	}
}

// readPump reads client frames until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.String("client", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil || msg.Event == "" {
			c.sendError("malformed frame")
			continue
		}
		c.handle(msg)
	}
}

// writePump drains the send queue as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
