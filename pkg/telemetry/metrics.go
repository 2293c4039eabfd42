package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// activationBuckets cover package manager runs, from cache hits to slow
// mirrors.
var activationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Metrics holds the run metrics of one process. A disabled Metrics
// accepts every call and records nothing.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	activationsTotal   *prometheus.CounterVec
	activationDuration *prometheus.HistogramVec
	resourcesDeclared  prometheus.Gauge
	policyViolations   *prometheus.CounterVec
	errorsByClass      *prometheus.CounterVec
	lastRunTimestamp   prometheus.Gauge
}

var _ engine.ActivationObserver = (*Metrics)(nil)

// NewMetrics creates the metrics with their own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Total number of runs by final status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs in seconds",
			Buckets:   activationBuckets,
		}, []string{"status"}),
		activationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "activations_total",
			Help:      "Total number of resource activations",
		}, []string{"kind", "provider", "phase", "result"}),
		activationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "activation_duration_seconds",
			Help:      "Duration of resource activations in seconds",
			Buckets:   activationBuckets,
		}, []string{"kind", "provider"}),
		resourcesDeclared: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "resources_declared",
			Help:      "Number of resources declared by the last run",
		}),
		policyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_violations_total",
			Help:      "Total number of policy violations",
		}, []string{"policy", "severity"}),
		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of run errors by class and code",
		}, []string{"class", "code"}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activationsTotal,
		m.activationDuration,
		m.resourcesDeclared,
		m.policyViolations,
		m.errorsByClass,
		m.lastRunTimestamp,
	)
	return m, nil
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ActivationCompleted implements engine.ActivationObserver.
func (m *Metrics) ActivationCompleted(_ context.Context, a *engine.Activation) {
	if m.registry == nil {
		return
	}
	result := "unchanged"
	switch {
	case a.Error != "":
		result = "failed"
	case a.DryRun:
		result = "dry_run"
	case a.Changed:
		result = "changed"
	}
	m.activationsTotal.WithLabelValues(string(a.Ref.Kind), a.Provider, string(a.Phase), result).Inc()
	m.activationDuration.WithLabelValues(string(a.Ref.Kind), a.Provider).Observe(a.Duration.Seconds())
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(run *engine.Run) {
	if m.registry == nil {
		return
	}
	status := string(run.Status)
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(run.Duration.Seconds())
	m.resourcesDeclared.Set(float64(run.Summary.Declared))
	if run.CompletedAt != nil {
		m.lastRunTimestamp.Set(float64(run.CompletedAt.Unix()))
	}
	if run.Policy != nil {
		for _, v := range run.Policy.Violations {
			m.policyViolations.WithLabelValues(v.Policy, v.Severity).Inc()
		}
	}
}

// RecordError records a run error by class and code.
func (m *Metrics) RecordError(err error) {
	if m.registry == nil || err == nil {
		return
	}
	code := ""
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		code = ee.Code
	}
	m.errorsByClass.WithLabelValues(string(engine.ErrorClassOf(err)), code).Inc()
}

// WriteTextfile writes the metrics to the configured textfile path. It
// does nothing when metrics are disabled or no path is set.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
