package telemetry

import (
	"context"
	"errors"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of the process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

var (
	_ engine.ActivationObserver = (*Tracer)(nil)
	_ engine.ActivationObserver = (*Telemetry)(nil)
)

// New creates the telemetry components from cfg.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// ActivationCompleted fans an activation out to the tracer and metrics.
func (t *Telemetry) ActivationCompleted(ctx context.Context, a *engine.Activation) {
	t.Tracer.ActivationCompleted(ctx, a)
	t.Metrics.ActivationCompleted(ctx, a)
}

// Shutdown flushes traces, writes the metrics textfile and closes the
// log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.WriteTextfile(),
		t.Logger.Close(),
	)
}
