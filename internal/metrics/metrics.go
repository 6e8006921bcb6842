// Package metrics holds the Prometheus instruments for poolwatch. Every
// recording method is safe to call on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the service.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	TrackerTicks     *prometheus.CounterVec
	Discoveries      *prometheus.CounterVec
	SeenPools        prometheus.Gauge
	WSClients        prometheus.Gauge
	DroppedFrames    prometheus.Counter
	TaskFailures     *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_upstream_requests_total",
			Help: "Upstream market-data requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_cache_lookups_total",
			Help: "Response cache lookups by result",
		}, []string{"result"}),

		TrackerTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_tracker_ticks_total",
			Help: "Discovery tracker poll ticks by chain",
		}, []string{"chain"}),

		Discoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_discoveries_total",
			Help: "New pools emitted by the tracker",
		}, []string{"chain"}),

		SeenPools: f.NewGauge(prometheus.GaugeOpts{
			Name: "poolwatch_seen_pools",
			Help: "Entries currently held in the seen-set",
		}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "poolwatch_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_ws_dropped_frames_total",
			Help: "Frames dropped because a client send buffer was full",
		}),

		TaskFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_task_failures_total",
			Help: "Failed or panicked background task runs by task",
		}, []string{"task"}),
	}
}

// RecordUpstream counts one upstream request.
func (m *Metrics) RecordUpstream(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordCache counts a cache hit or miss.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordTick counts one tracker poll for chain.
func (m *Metrics) RecordTick(chain string) {
	if m == nil {
		return
	}
	m.TrackerTicks.WithLabelValues(chain).Inc()
}

// RecordDiscovery counts one emitted discovery.
func (m *Metrics) RecordDiscovery(chain string) {
	if m == nil {
		return
	}
	m.Discoveries.WithLabelValues(chain).Inc()
}

// SetSeenPools records the seen-set size.
func (m *Metrics) SetSeenPools(n int) {
	if m == nil {
		return
	}
	m.SeenPools.Set(float64(n))
}

// SetWSClients records the connected client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// RecordDroppedFrame counts a frame dropped for a slow client.
func (m *Metrics) RecordDroppedFrame() {
	if m == nil {
		return
	}
	m.DroppedFrames.Inc()
}

// RecordTaskFailure counts a failed background task run.
func (m *Metrics) RecordTaskFailure(task string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(task).Inc()
}
