package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for plans and runs. Every method is
// safe to call on a nil or disabled *Metrics.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansBuilt        *prometheus.CounterVec
	plannedActions    *prometheus.HistogramVec
	destructiveAction *prometheus.CounterVec

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_built_total",
				Help:      "Total number of plans computed",
			},
			[]string{"backend"},
		),
		plannedActions: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_actions",
				Help:      "Number of actions per computed plan",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"backend"},
		),
		destructiveAction: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_destructive_actions_total",
				Help:      "Total number of destructive actions planned",
			},
			[]string{"backend"},
		),

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"backend"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"type", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"type"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
	}

	registry.MustRegister(
		m.plansBuilt,
		m.plannedActions,
		m.destructiveAction,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.actionsExecuted,
		m.actionDuration,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Plan Metrics

// RecordPlan records a computed plan.
func (m *Metrics) RecordPlan(backend string, actions, destructive int) {
	if m == nil || m.plansBuilt == nil {
		return
	}
	m.plansBuilt.WithLabelValues(backend).Inc()
	m.plannedActions.WithLabelValues(backend).Observe(float64(actions))
	m.destructiveAction.WithLabelValues(backend).Add(float64(destructive))
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(backend string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(backend).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Action Metrics

// RecordAction records the execution of one action.
func (m *Metrics) RecordAction(actionType, status string, duration time.Duration) {
	if m == nil || m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(actionType, status).Inc()
	m.actionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by code. Unclassified errors count as UNKNOWN.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// WriteTextfile writes the registry to path in the Prometheus text format.
// The path from the configuration is used when path is empty; with neither
// set, nothing is written.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return nil
	}
	if path == "" {
		path = m.config.TextfilePath
	}
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
