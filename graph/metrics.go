package graph

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects graph execution metrics under the "stategraph"
// namespace:
//
//   - inflight_nodes (gauge): nodes currently executing.
//   - step_latency_ms (histogram): node duration; labels node_id, status.
//   - node_executions_total (counter): finished node runs; labels node_id, status.
//   - retries_total (counter): retry attempts; labels node_id, reason.
//   - merge_conflicts_total (counter): fan-out write conflicts; label conflict_type.
//   - checkpoint_ops_total (counter): store operations; labels op, status.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	g, _ := b.Compile(graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightNodes  prometheus.Gauge
	stepLatency    *prometheus.HistogramVec
	executions     *prometheus.CounterVec
	retries        *prometheus.CounterVec
	mergeConflicts *prometheus.CounterVec
	checkpointOps  *prometheus.CounterVec

	enabled atomic.Bool
}

// NewPrometheusMetrics registers all collectors with registry. A nil
// registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{}
	pm.enabled.Store(true)

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "stategraph",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stategraph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds, retries included",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"node_id", "status"})

	pm.executions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "node_executions_total",
		Help:      "Completed node executions by outcome",
	}, []string{"node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "retries_total",
		Help:      "Node retry attempts",
	}, []string{"node_id", "reason"})

	pm.mergeConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "merge_conflicts_total",
		Help:      "Replace-policy fields written by more than one fan-out branch",
	}, []string{"conflict_type"})

	pm.checkpointOps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "checkpoint_ops_total",
		Help:      "Checkpoint store operations by outcome",
	}, []string{"op", "status"}) // op: load, save

	return pm
}

// RecordStepLatency observes one node execution. status is one of
// "success", "error" or "cancelled".
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.enabled.Load() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
	pm.executions.WithLabelValues(nodeID, status).Inc()
}

// IncrementRetries counts a retry attempt for nodeID.
func (pm *PrometheusMetrics) IncrementRetries(nodeID, reason string) {
	if !pm.enabled.Load() {
		return
	}
	pm.retries.WithLabelValues(nodeID, reason).Inc()
}

// IncrementMergeConflicts counts one conflicting field in a fan-out merge.
func (pm *PrometheusMetrics) IncrementMergeConflicts(conflictType string) {
	if !pm.enabled.Load() {
		return
	}
	pm.mergeConflicts.WithLabelValues(conflictType).Inc()
}

// IncrementCheckpointOps counts a store operation.
func (pm *PrometheusMetrics) IncrementCheckpointOps(op, status string) {
	if !pm.enabled.Load() {
		return
	}
	pm.checkpointOps.WithLabelValues(op, status).Inc()
}

// IncInflight marks a node as started.
func (pm *PrometheusMetrics) IncInflight() {
	if !pm.enabled.Load() {
		return
	}
	pm.inflightNodes.Inc()
}

// DecInflight marks a node as finished.
func (pm *PrometheusMetrics) DecInflight() {
	if !pm.enabled.Load() {
		return
	}
	pm.inflightNodes.Dec()
}

// Disable stops recording. Useful in tests.
func (pm *PrometheusMetrics) Disable() { pm.enabled.Store(false) }

// Enable resumes recording after Disable.
func (pm *PrometheusMetrics) Enable() { pm.enabled.Store(true) }

// Reset zeroes the gauges. Counters and histograms are cumulative and are
// left alone.
func (pm *PrometheusMetrics) Reset() {
	pm.inflightNodes.Set(0)
}
