package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus instruments. A nil *Metrics is
// valid everywhere: all record methods are nil-safe so tests and tools
// can run without a registry.
type Metrics struct {
	nodesUpserted      prometheus.Counter
	cacheInvalidations prometheus.Counter
	snapshotsEmitted   *prometheus.CounterVec
	subgraphDuration   prometheus.Histogram
	metaGraphDuration  prometheus.Histogram
	runGraphDuration   prometheus.Histogram
	activeStreams      prometheus.Gauge
}

// NewMetrics creates and registers the service metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "navgraph",
			Name:      "nodes_upserted_total",
			Help:      "Node upserts applied to the graph store.",
		}),
		cacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "navgraph",
			Name:      "metagraph_cache_invalidations_total",
			Help:      "Meta-graph cache slot invalidations.",
		}),
		snapshotsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navgraph",
			Name:      "stream_events_emitted_total",
			Help:      "Stream events emitted to run subscribers, by type.",
		}, []string{"type"}),
		subgraphDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "navgraph",
			Name:      "subgraph_build_seconds",
			Help:      "Latency of BFS subgraph extraction.",
			Buckets:   prometheus.DefBuckets,
		}),
		metaGraphDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "navgraph",
			Name:      "metagraph_build_seconds",
			Help:      "Latency of meta-graph clustering.",
			Buckets:   prometheus.DefBuckets,
		}),
		runGraphDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "navgraph",
			Name:      "run_graph_build_seconds",
			Help:      "Latency of per-run graph reconstruction.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "navgraph",
			Name:      "active_stream_connections",
			Help:      "Currently registered push subscriptions.",
		}),
	}

	reg.MustRegister(
		m.nodesUpserted,
		m.cacheInvalidations,
		m.snapshotsEmitted,
		m.subgraphDuration,
		m.metaGraphDuration,
		m.runGraphDuration,
		m.activeStreams,
	)
	return m
}

// RecordNodeUpserted counts one applied node write
func (m *Metrics) RecordNodeUpserted() {
	if m != nil {
		m.nodesUpserted.Inc()
	}
}

// RecordCacheInvalidation counts one meta-graph cache clear
func (m *Metrics) RecordCacheInvalidation() {
	if m != nil {
		m.cacheInvalidations.Inc()
	}
}

// RecordEventEmitted counts one stream event by type
func (m *Metrics) RecordEventEmitted(eventType string) {
	if m != nil {
		m.snapshotsEmitted.WithLabelValues(eventType).Inc()
	}
}

// ObserveSubgraphBuild records BFS extraction latency
func (m *Metrics) ObserveSubgraphBuild(d time.Duration) {
	if m != nil {
		m.subgraphDuration.Observe(d.Seconds())
	}
}

// ObserveMetaGraphBuild records clustering latency
func (m *Metrics) ObserveMetaGraphBuild(d time.Duration) {
	if m != nil {
		m.metaGraphDuration.Observe(d.Seconds())
	}
}

// ObserveRunGraphBuild records per-run reconstruction latency
func (m *Metrics) ObserveRunGraphBuild(d time.Duration) {
	if m != nil {
		m.runGraphDuration.Observe(d.Seconds())
	}
}

// StreamConnected tracks a new push subscription
func (m *Metrics) StreamConnected() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

// StreamDisconnected tracks a released push subscription
func (m *Metrics) StreamDisconnected() {
	if m != nil {
		m.activeStreams.Dec()
	}
}
