package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted  *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	toolInvoked    *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	queueWaitTime  prometheus.Histogram
	activeRuns     prometheus.Gauge
	inflightStages prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered
// against reg. A nil registerer leaves the metrics unregistered, which
// tests use to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phaseline_runs_submitted_total",
				Help: "Total number of pipeline runs submitted",
			},
			[]string{"outcome"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phaseline_runs_completed_total",
				Help: "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phaseline_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
		stagesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phaseline_stages_executed_total",
				Help: "Total number of stages executed",
			},
			[]string{"phase", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phaseline_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase"},
		),
		toolInvoked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phaseline_tool_invocations_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phaseline_tool_duration_seconds",
				Help:    "Tool invocation duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tool"},
		),
		queueWaitTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phaseline_queue_wait_seconds",
				Help:    "Time stages spent waiting for an admission slot",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "phaseline_active_runs",
				Help: "Number of currently executing runs",
			},
		),
		inflightStages: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "phaseline_inflight_stages",
				Help: "Number of stages currently holding an admission slot",
			},
		),
	}
}

// RecordRunSubmitted records a run submission and its admission outcome
func (c *Collector) RecordRunSubmitted(outcome string) {
	c.runsSubmitted.WithLabelValues(outcome).Inc()
}

// RecordRunCompleted records a finished run with its terminal status
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordStageExecuted records a stage reaching a terminal status
func (c *Collector) RecordStageExecuted(phase, status string, duration time.Duration) {
	c.stagesExecuted.WithLabelValues(phase, status).Inc()
	c.stageDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordToolInvocation records one tool adapter call
func (c *Collector) RecordToolInvocation(tool, status string, duration time.Duration) {
	c.toolInvoked.WithLabelValues(tool, status).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveQueueWait records how long a stage waited for admission
func (c *Collector) ObserveQueueWait(duration time.Duration) {
	c.queueWaitTime.Observe(duration.Seconds())
}

// SetActiveRuns sets the number of currently executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// SetInflightStages sets the number of stages holding admission slots
func (c *Collector) SetInflightStages(count int) {
	c.inflightStages.Set(float64(count))
}
