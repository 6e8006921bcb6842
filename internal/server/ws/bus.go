package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

const busPublishTimeout = 2 * time.Second

// relayFrame carries one published frame between instances over the signal
// bus. Origin lets a hub skip frames it published itself.
type relayFrame struct {
	Origin  string          `json:"origin"`
	Topics  []string        `json:"topics"`
	Payload json.RawMessage `json:"payload"`
}

func encodeRelay(origin string, topics []string, payload []byte) ([]byte, error) {
	return json.Marshal(relayFrame{Origin: origin, Topics: topics, Payload: payload})
}

// BusPublisher publishes frames to the signal bus only. Headless detector
// instances use it so hubs on other instances deliver their discoveries.
type BusPublisher struct {
	bus     domain.SignalBus
	channel string
	origin  string
}

// NewBusPublisher creates a BusPublisher writing to channel.
func NewBusPublisher(bus domain.SignalBus, channel, origin string) *BusPublisher {
	return &BusPublisher{bus: bus, channel: channel, origin: origin}
}

// Publish encodes event/data as an Envelope and relays it to topics.
func (p *BusPublisher) Publish(topics []string, event string, data any) error {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", event, err)
	}
	frame, err := encodeRelay(p.origin, topics, payload)
	if err != nil {
		return fmt.Errorf("ws: encode relay frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
	defer cancel()
	if err := p.bus.Publish(ctx, p.channel, frame); err != nil {
		return fmt.Errorf("ws: relay %s: %w", event, err)
	}
	return nil
}
