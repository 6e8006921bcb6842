package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDiscoveryJSON_KeepsZeroScore(t *testing.T) {
	d := domain.Discovery{
		Pool:         domain.Pool{Chain: "bsc", Address: "0xabc", SnipeScore: 0},
		IsNew:        true,
		DiscoveredAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}

	wire := decode(t, d)
	require.Contains(t, wire, "snipeScore")
	assert.Equal(t, 0.0, wire["snipeScore"])
	assert.Equal(t, "0xabc", wire["address"])
	assert.Equal(t, "bsc", wire["chain"])
	assert.Equal(t, true, wire["isNew"])
	assert.Equal(t, "2026-10-16T12:00:00Z", wire["discoveredAt"])
	assert.NotContains(t, wire, "timeSinceDiscovery")
}

func TestDiscoveryJSON_ScoreAndSince(t *testing.T) {
	since := int64(42)
	d := domain.Discovery{
		Pool:               domain.Pool{Chain: "solana", Address: "So1", SnipeScore: 95},
		TimeSinceDiscovery: &since,
	}

	wire := decode(t, d)
	assert.Equal(t, 95.0, wire["snipeScore"])
	assert.Equal(t, 42.0, wire["timeSinceDiscovery"])
}

func TestDiscoveryJSON_RoundTrip(t *testing.T) {
	d := domain.Discovery{
		Pool:         domain.Pool{Chain: "base", Address: "0xdef", SnipeScore: 70, Liquidity: 12_000},
		IsNew:        true,
		DiscoveredAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var back domain.Discovery
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)
}

func TestPoolJSON_OmitsUnsetScore(t *testing.T) {
	wire := decode(t, domain.Pool{Chain: "bsc", Address: "0x1"})
	assert.NotContains(t, wire, "snipeScore")
}
