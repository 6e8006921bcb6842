package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Discovery is a pool surfaced for the first time by the tracker.
type Discovery struct {
	Pool
	IsNew        bool      `json:"isNew"`
	DiscoveredAt time.Time `json:"discoveredAt"`

	// TimeSinceDiscovery is filled in by query paths only, in seconds.
	TimeSinceDiscovery *int64 `json:"timeSinceDiscovery,omitempty"`
}

// MarshalJSON always writes snipeScore: every discovery is scored, and 0 is
// a valid score. Unscored Pool snapshots keep omitting it.
func (d Discovery) MarshalJSON() ([]byte, error) {
	type plain Discovery
	return json.Marshal(struct {
		plain
		SnipeScore int `json:"snipeScore"`
	}{plain: plain(d), SnipeScore: d.SnipeScore})
}

// DetectorStats summarises the tracker's seen-set.
type DetectorStats struct {
	TotalPoolsTracked int            `json:"totalPoolsTracked"`
	PoolsByChain      map[string]int `json:"poolsByChain"`
	AverageSnipeScore float64        `json:"averageSnipeScore"`
	Uptime            *int64         `json:"uptime,omitempty"`
}

// DiscoveryListener receives discoveries synchronously from the tracker.
type DiscoveryListener interface {
	OnDiscovery(ctx context.Context, d Discovery) error
}

// DiscoveryListenerFunc adapts a function to DiscoveryListener.
type DiscoveryListenerFunc func(ctx context.Context, d Discovery) error

// OnDiscovery calls f.
func (f DiscoveryListenerFunc) OnDiscovery(ctx context.Context, d Discovery) error {
	return f(ctx, d)
}
