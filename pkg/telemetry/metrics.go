package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/config"
)

const metricsNamespace = "plangate"

// Metrics exposes Prometheus metrics for the gate.
type Metrics struct {
	config config.MetricsConfig

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	violationsTotal    *prometheus.CounterVec
	waiversApplied     prometheus.Counter
	lintFindingsTotal  *prometheus.CounterVec
	policiesLoaded     prometheus.Gauge
	pluginsLoaded      prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a metrics collector. When metrics are disabled a
// no-op instance is returned whose record methods do nothing.
func NewMetrics(cfg config.MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evaluations_total",
				Help:      "Total number of plan evaluations",
			},
			[]string{"environment", "decision"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of plan evaluations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"environment"},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "violations_total",
				Help:      "Total number of policy violations found",
			},
			[]string{"policy", "severity"},
		),
		waiversApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "waivers_applied_total",
				Help:      "Total number of violations downgraded by a waiver",
			},
		),
		lintFindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lint_findings_total",
				Help:      "Total number of trust policy lint findings",
			},
			[]string{"rule", "severity"},
		),
		policiesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "policies_loaded",
				Help:      "Current number of loaded policies",
			},
		),
		pluginsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "plugins_loaded",
				Help:      "Current number of loaded rule plugins",
			},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.violationsTotal,
		m.waiversApplied,
		m.lintFindingsTotal,
		m.policiesLoaded,
		m.pluginsLoaded,
	)

	return m, nil
}

// RecordEvaluation records one finished evaluation.
func (m *Metrics) RecordEvaluation(environment string, allowed bool, duration time.Duration) {
	if m.evaluationsTotal == nil {
		return
	}
	decision := "blocked"
	if allowed {
		decision = "allowed"
	}
	m.evaluationsTotal.WithLabelValues(environment, decision).Inc()
	m.evaluationDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// RecordViolation records one policy violation.
func (m *Metrics) RecordViolation(policy, severity string) {
	if m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(policy, severity).Inc()
}

// RecordWaiverApplied records one waived violation.
func (m *Metrics) RecordWaiverApplied() {
	if m.waiversApplied == nil {
		return
	}
	m.waiversApplied.Inc()
}

// RecordLintFinding records one trust policy lint finding.
func (m *Metrics) RecordLintFinding(rule, severity string) {
	if m.lintFindingsTotal == nil {
		return
	}
	m.lintFindingsTotal.WithLabelValues(rule, severity).Inc()
}

// SetPoliciesLoaded sets the current policy count.
func (m *Metrics) SetPoliciesLoaded(count int) {
	if m.policiesLoaded == nil {
		return
	}
	m.policiesLoaded.Set(float64(count))
}

// SetPluginsLoaded sets the current plugin count.
func (m *Metrics) SetPluginsLoaded(count int) {
	if m.pluginsLoaded == nil {
		return
	}
	m.pluginsLoaded.Set(float64(count))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer starts the metrics HTTP listener when metrics are enabled.
func (m *Metrics) StartServer(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	logger.Info().
		Str("address", m.config.ListenAddress).
		Str("path", path).
		Msg("Metrics server started")

	return nil
}

// StopServer shuts the metrics listener down.
func (m *Metrics) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
