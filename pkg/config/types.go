package config

import (
	"time"
)

// Config is the full tool configuration, typically loaded from a
// plangate.cue file.
type Config struct {
	// Environment is the deployment environment evaluations run against.
	// Policies receive it as input.context.environment.
	Environment string `json:"environment" validate:"required"`

	// PolicyPaths lists files and directories to load policies from.
	PolicyPaths []string `json:"policy_paths,omitempty"`

	// WaiverFile is an optional YAML file of violation waivers.
	WaiverFile string `json:"waiver_file,omitempty"`

	// PluginDir is an optional directory of WASM rule plugins.
	PluginDir string `json:"plugin_dir,omitempty"`

	// StorePath is the SQLite database path for evaluation history.
	StorePath string `json:"store_path,omitempty"`

	// SeverityThreshold is the lowest severity that blocks a plan.
	SeverityThreshold string `json:"severity_threshold" validate:"required,oneof=warning error critical"`

	// Logging configures structured log output.
	Logging LoggingConfig `json:"logging"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `json:"metrics"`

	// Tracing configures distributed tracing export.
	Tracing TracingConfig `json:"tracing"`

	// Remote configures the SFTP plan source for ssh:// plan paths.
	Remote RemoteConfig `json:"remote"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `json:"level" validate:"required,oneof=trace debug info warn error"`

	// Format specifies the log format (console, json).
	Format string `json:"format" validate:"required,oneof=console json"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP listener starts.
	Enabled bool `json:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `json:"listen_address,omitempty" validate:"required_if=Enabled true"`

	// Path is the HTTP path for metrics.
	Path string `json:"path,omitempty"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `json:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `json:"endpoint,omitempty"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `json:"insecure,omitempty"`
}

// RemoteConfig configures the SFTP source used for ssh:// plan paths.
type RemoteConfig struct {
	// Host is the remote host name or address.
	Host string `json:"host,omitempty"`

	// Port is the SSH port.
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the SSH user name.
	User string `json:"user,omitempty"`

	// KeyPath is the path to the private key file.
	KeyPath string `json:"key_path,omitempty"`

	// Password is the SSH password, used when no key is available.
	Password string `json:"password,omitempty"`

	// KnownHostsFile is the known_hosts file for host key verification.
	KnownHostsFile string `json:"known_hosts_file,omitempty"`

	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool `json:"insecure_ignore_host_key,omitempty"`

	// Timeout is the SSH connection timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ValidationError is a configuration error with source location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Environment:       "development",
		PolicyPaths:       []string{"policies"},
		StorePath:         "plangate.db",
		SeverityThreshold: "error",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Remote: RemoteConfig{
			Port:    22,
			Timeout: 30 * time.Second,
		},
	}
}
