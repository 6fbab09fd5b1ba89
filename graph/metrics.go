// Package graph provides the core graph execution engine.
package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible instrumentation for Engine runs.
//
// Grounded on the teacher's PrometheusMetrics (graph/metrics.go): kept the
// gauge/histogram/counter shape, the namespace convention, and the
// Enable/Disable/Reset lifecycle, but re-keyed every metric around
// supersteps rather than a continuous priority-queue scheduler, since this
// engine dispatches in discrete barriers instead of a queue with ongoing
// backpressure. Dropped the teacher's queue_depth gauge and
// merge_conflicts_total/backpressure_events_total counters (Non-goals:
// this engine has no continuous scheduler queue to report depth for, and
// merges happen deterministically at a single barrier with no concurrent
// conflict to detect — see DESIGN.md).
//
// Metrics exposed (all namespaced "flowgraph_"):
//   - inflight_nodes (gauge): nodes executing within the current superstep.
//   - node_latency_ms (histogram): per-node execution duration, labeled by
//     run_id, node_id, status (success/error/interrupt).
//   - checkpoints_total (counter): checkpoint save attempts, labeled by
//     run_id, outcome (saved/failed).
//   - interrupts_total (counter): interrupt suspensions, labeled by node_id.
//   - limit_exceeded_total (counter): loop/recursion limit violations,
//     labeled by kind (loop/recursion).
type Metrics struct {
	inflightNodes prometheus.Gauge
	nodeLatency   *prometheus.HistogramVec
	checkpoints   *prometheus.CounterVec
	interrupts    *prometheus.CounterVec
	limitExceeded *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers flowgraph's metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowgraph",
			Name:      "inflight_nodes",
			Help:      "Number of nodes executing concurrently within the current superstep",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowgraph",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"run_id", "node_id", "status"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "checkpoints_total",
			Help:      "Checkpoint save attempts",
		}, []string{"run_id", "outcome"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "interrupts_total",
			Help:      "Interrupt suspensions, by node",
		}, []string{"node_id"}),
		limitExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "limit_exceeded_total",
			Help:      "Loop and recursion limit violations",
		}, []string{"kind"}),
	}
}

// RecordNodeLatency records a node's execution duration and outcome.
func (m *Metrics) RecordNodeLatency(runID, nodeID string, latency time.Duration, status string) {
	if m == nil || !m.enabled {
		return
	}
	m.nodeLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// UpdateInflightNodes sets the number of nodes currently dispatched.
func (m *Metrics) UpdateInflightNodes(count int) {
	if m == nil || !m.enabled {
		return
	}
	m.inflightNodes.Set(float64(count))
}

// IncrementCheckpoints records a checkpoint save attempt's outcome
// ("saved" or "failed").
func (m *Metrics) IncrementCheckpoints(runID, outcome string) {
	if m == nil || !m.enabled {
		return
	}
	m.checkpoints.WithLabelValues(runID, outcome).Inc()
}

// IncrementInterrupts records an interrupt suspension at nodeID.
func (m *Metrics) IncrementInterrupts(nodeID string) {
	if m == nil || !m.enabled {
		return
	}
	m.interrupts.WithLabelValues(nodeID).Inc()
}

// IncrementLimitExceeded records a loop_limit or recursion_limit violation.
func (m *Metrics) IncrementLimitExceeded(kind string) {
	if m == nil || !m.enabled {
		return
	}
	m.limitExceeded.WithLabelValues(kind).Inc()
}

// Disable stops metric recording (useful for tests sharing a registry).
func (m *Metrics) Disable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes metric recording after Disable.
func (m *Metrics) Enable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative by
// Prometheus design and cannot be reset without unregistering them.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflightNodes.Set(0)
}
