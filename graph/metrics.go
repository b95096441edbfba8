package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records engine activity.
//
// Metrics exposed (namespace "invoicegraph"):
//   - steps_total{node,outcome}: stage executions; outcome is ok or error
//   - step_latency_ms{node,outcome}: handler duration
//   - instances_total{event}: started, paused, resumed, completed, failed, evicted
//   - checkpoint_writes_total{outcome}: store writes; outcome is ok or error
//
// Labels never include instance ids, so cardinality stays bounded by the
// number of stages.
type PrometheusMetrics struct {
	steps            *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	instances        *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec
}

// NewPrometheusMetrics registers the engine metrics with registry, or with
// the default registerer when registry is nil.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(reg)
//	engine, err := graph.New(g, st, schema, graph.WithMetrics(metrics))
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoicegraph",
			Name:      "steps_total",
			Help:      "Stage executions by stage and outcome",
		}, []string{"node", "outcome"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invoicegraph",
			Name:      "step_latency_ms",
			Help:      "Stage handler duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node", "outcome"}),

		instances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoicegraph",
			Name:      "instances_total",
			Help:      "Workflow instance lifecycle events",
		}, []string{"event"}),

		checkpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoicegraph",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint store writes by outcome",
		}, []string{"outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one stage execution and observes its latency.
func (pm *PrometheusMetrics) RecordStep(node string, latency time.Duration, err error) {
	if pm == nil {
		return
	}
	o := outcome(err)
	pm.steps.WithLabelValues(node, o).Inc()
	pm.stepLatency.WithLabelValues(node, o).Observe(float64(latency.Microseconds()) / 1000)
}

// RecordInstance counts an instance lifecycle event.
func (pm *PrometheusMetrics) RecordInstance(event string) {
	if pm == nil {
		return
	}
	pm.instances.WithLabelValues(event).Inc()
}

// RecordCheckpointWrite counts a store write.
func (pm *PrometheusMetrics) RecordCheckpointWrite(err error) {
	if pm == nil {
		return
	}
	pm.checkpointWrites.WithLabelValues(outcome(err)).Inc()
}
