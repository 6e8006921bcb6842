package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordUpstream("new_pools", "ok")
		m.RecordCache(true)
		m.RecordTick("bsc")
		m.RecordDiscovery("bsc")
		m.SetSeenPools(3)
		m.SetWSClients(1)
		m.RecordDroppedFrame()
		m.RecordTaskFailure("trending")
	})
}

// counterValue gathers reg and returns the value of the counter with the
// given name whose label has the given value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)
	m.RecordDiscovery("solana")

	assert.Equal(t, 1.0, counterValue(t, reg, "poolwatch_cache_lookups_total", "result", "hit"))
	assert.Equal(t, 2.0, counterValue(t, reg, "poolwatch_cache_lookups_total", "result", "miss"))
	assert.Equal(t, 1.0, counterValue(t, reg, "poolwatch_discoveries_total", "chain", "solana"))
}

func TestNew_SeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
