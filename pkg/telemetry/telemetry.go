package telemetry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/config"
)

const (
	// ServiceName identifies the tool in exported telemetry.
	ServiceName = "plangate"
)

// Telemetry bundles the logger, tracer, and metrics built from one
// configuration.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
}

// New builds all telemetry components from the tool configuration.
func New(cfg *config.Config, version string) (*Telemetry, error) {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, ServiceName, version, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
	}, nil
}

// Shutdown flushes and stops all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Metrics.StopServer(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}
