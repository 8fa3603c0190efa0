package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
environment: "production"
policy_paths: ["policies", "extra/iam.rego"]
waiver_file:  "waivers.yaml"
store_path:   "/var/lib/plangate/history.db"
severity_threshold: "error"

logging: {
	level:  "debug"
	format: "json"
}

metrics: {
	enabled:        true
	listen_address: ":9102"
}

tracing: {
	enabled:       true
	exporter:      "otlp"
	endpoint:      "collector:4317"
	sampling_rate: 0.25
}
`

func TestParseInline(t *testing.T) {
	cfg, err := NewCUEParser().ParseInline(sampleConfig)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("environment = %q, want production", cfg.Environment)
	}
	if len(cfg.PolicyPaths) != 2 {
		t.Errorf("policy_paths = %v", cfg.PolicyPaths)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != ":9102" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if cfg.Tracing.SamplingRate != 0.25 {
		t.Errorf("sampling_rate = %v", cfg.Tracing.SamplingRate)
	}
	// Defaults survive for fields the file does not set.
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics path default = %q", cfg.Metrics.Path)
	}
	if cfg.Remote.Port != 22 {
		t.Errorf("remote port default = %d", cfg.Remote.Port)
	}
}

func TestParseInlineNestedPlangateField(t *testing.T) {
	cfg, err := NewCUEParser().ParseInline(`plangate: {
	environment: "staging"
	severity_threshold: "critical"
}`)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("environment = %q, want staging", cfg.Environment)
	}
	if cfg.SeverityThreshold != "critical" {
		t.Errorf("severity_threshold = %q", cfg.SeverityThreshold)
	}
}

func TestParseInlineRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad severity", `severity_threshold: "panic"`},
		{"bad log level", `logging: level: "shout"`},
		{"bad sampling rate", `tracing: sampling_rate: 2.5`},
		{"otlp without endpoint", `tracing: {enabled: true, exporter: "otlp"}`},
		{"remote host without user", `remote: host: "bastion.internal"`},
		{"syntax error", `environment: "unterminated`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCUEParser().ParseInline(tt.content); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plangate.cue")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewCUEParser().ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if cfg.WaiverFile != "waivers.yaml" {
		t.Errorf("waiver_file = %q", cfg.WaiverFile)
	}
}

func TestLoadExplicitPathMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.cue")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadDefaultsWhenAbsent(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "development" {
		t.Errorf("environment = %q, want development", cfg.Environment)
	}
	if cfg.SeverityThreshold != "error" {
		t.Errorf("severity_threshold = %q, want error", cfg.SeverityThreshold)
	}
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.cue")
	if err := os.WriteFile(path, []byte(`environment: "staging"`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("environment = %q, want staging", cfg.Environment)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := NewCUEParser().Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
