package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

const (
	// EnvConfigPath names the environment variable that overrides the
	// default configuration file location.
	EnvConfigPath = "PLANGATE_CONFIG"

	// DefaultFileName is the configuration file looked up in the working
	// directory when no explicit path is given.
	DefaultFileName = "plangate.cue"
)

// CUEParser parses and validates CUE configuration files.
type CUEParser struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// Load resolves and loads the tool configuration. The path argument wins
// over the PLANGATE_CONFIG environment variable, which wins over
// plangate.cue in the working directory. When no file is found and none
// was explicitly requested, the defaults are returned.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFileName
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	return NewCUEParser().ParseFile(path)
}

// ParseFile parses a single CUE configuration file.
func (cp *CUEParser) ParseFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, validationErrorList(convertCUEErrors(err))
	}

	return cp.extractConfig(val)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, validationErrorList(convertCUEErrors(err))
	}

	return cp.extractConfig(val)
}

// extractConfig decodes a CUE value on top of the defaults and validates
// the result. Configuration may live either at the top level or under a
// `plangate` field.
func (cp *CUEParser) extractConfig(val cue.Value) (*Config, error) {
	if nested := val.LookupPath(cue.ParsePath("plangate")); nested.Exists() {
		val = nested
	}

	cfg := DefaultConfig()
	if err := val.Decode(cfg); err != nil {
		return nil, validationErrorList(convertCUEErrors(err))
	}

	if err := cp.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks a configuration against its struct tags and the
// constraints the tags cannot express.
func (cp *CUEParser) Validate(cfg *Config) error {
	if err := cp.validator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "otlp" && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required for the otlp exporter")
	}

	if cfg.Remote.Host != "" && cfg.Remote.User == "" {
		return fmt.Errorf("remote.user is required when remote.host is set")
	}

	return nil
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: errors.Details(e, nil),
		})
	}

	return validationErrors
}

// validationErrorList flattens validation errors into a single error.
func validationErrorList(errs []ValidationError) error {
	var parts []string
	for _, e := range errs {
		if e.File != "" {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, strings.TrimSpace(e.Message)))
		} else {
			parts = append(parts, strings.TrimSpace(e.Message))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, "; "))
}
