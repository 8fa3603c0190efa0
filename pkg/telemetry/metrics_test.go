package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/config"
)

func enabledMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(config.MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
	})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestRecordEvaluation(t *testing.T) {
	m := enabledMetrics(t)

	m.RecordEvaluation("production", false, 250*time.Millisecond)
	m.RecordEvaluation("production", true, 100*time.Millisecond)
	m.RecordViolation("required-tags", "error")
	m.RecordWaiverApplied()
	m.RecordLintFinding("TP005", "critical")
	m.SetPoliciesLoaded(6)

	body := scrape(t, m)
	for _, want := range []string{
		`plangate_evaluations_total{decision="blocked",environment="production"} 1`,
		`plangate_evaluations_total{decision="allowed",environment="production"} 1`,
		`plangate_violations_total{policy="required-tags",severity="error"} 1`,
		`plangate_waivers_applied_total 1`,
		`plangate_lint_findings_total{rule="TP005",severity="critical"} 1`,
		`plangate_policies_loaded 6`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(config.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// Must not panic.
	m.RecordEvaluation("dev", true, time.Second)
	m.RecordViolation("x", "warning")
	m.RecordWaiverApplied()
	m.SetPoliciesLoaded(1)
	m.SetPluginsLoaded(1)

	if err := m.StartServer(zerolog.Nop()); err != nil {
		t.Errorf("StartServer on disabled metrics should be a no-op, got %v", err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("level = %s, want debug", logger.GetLevel())
	}

	logger, err = NewLogger(config.LoggingConfig{Level: "bogus", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %s", logger.GetLevel())
	}
}
