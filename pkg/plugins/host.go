package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/plangate/plangate/pkg/policy"
)

// HostConfig configures the WASM plugin host.
type HostConfig struct {
	// Timeout is the per-call evaluation timeout.
	Timeout time.Duration

	// MemoryLimitPages caps guest memory in 64KB pages.
	MemoryLimitPages uint32
}

// Host loads and runs WASM rule plugins.
type Host struct {
	config  HostConfig
	logger  zerolog.Logger
	plugins []*Plugin
}

// Plugin is one loaded WASM rule plugin.
type Plugin struct {
	manifest *Manifest
	runtime  wazero.Runtime
	module   api.Module

	allocate   api.Function
	deallocate api.Function
	evaluate   api.Function

	timeout time.Duration
}

// NewHost creates a plugin host.
func NewHost(cfg HostConfig, logger zerolog.Logger) *Host {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256 // 16MB
	}

	return &Host{
		config: cfg,
		logger: logger.With().Str("component", "plugin-host").Logger(),
	}
}

// LoadDirectory loads every plugin manifest (*.yaml, *.yml) under dir.
// A plugin that fails to load is skipped with a warning so one broken
// plugin cannot take the gate down.
func (h *Host) LoadDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		plugin, err := h.loadPlugin(ctx, path)
		if err != nil {
			h.logger.Warn().Err(err).Str("manifest", path).Msg("Failed to load plugin")
			continue
		}

		h.plugins = append(h.plugins, plugin)
		h.logger.Info().
			Str("plugin", plugin.manifest.Name).
			Str("version", plugin.manifest.Version).
			Msg("Plugin loaded")
	}

	return nil
}

// loadPlugin compiles and instantiates one plugin.
func (h *Host) loadPlugin(ctx context.Context, manifestPath string) (*Plugin, error) {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	wasmModule, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}
	if err := manifest.VerifyChecksum(wasmModule); err != nil {
		return nil, err
	}

	return NewPlugin(ctx, manifest, wasmModule, h.config)
}

// NewPlugin instantiates a plugin from its manifest and module bytes.
func NewPlugin(ctx context.Context, manifest *Manifest, wasmModule []byte, cfg HostConfig) (*Plugin, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmModule)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	p := &Plugin{
		manifest: manifest,
		runtime:  runtime,
		module:   module,
		timeout:  cfg.Timeout,
	}

	if p.module.Memory() == nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	for _, export := range []struct {
		name string
		fn   *api.Function
	}{
		{"allocate", &p.allocate},
		{"deallocate", &p.deallocate},
		{"evaluate", &p.evaluate},
	} {
		*export.fn = module.ExportedFunction(export.name)
		if *export.fn == nil {
			_ = runtime.Close(ctx)
			return nil, fmt.Errorf("WASM module does not export %s function", export.name)
		}
	}

	return p, nil
}

// Name returns the plugin name from its manifest.
func (p *Plugin) Name() string {
	return p.manifest.Name
}

// pluginResult is the JSON document a plugin returns from evaluate.
type pluginResult struct {
	Violations []pluginViolation `json:"violations"`
	Error      string            `json:"error,omitempty"`
}

type pluginViolation struct {
	Message     string `json:"message"`
	Resource    string `json:"resource,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// Evaluate runs the plugin against an input document. The guest ABI is
// evaluate(ptr, len) -> (ptr << 32) | len over JSON in both directions.
func (p *Plugin) Evaluate(ctx context.Context, input *policy.Input) ([]policy.Violation, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plugin input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outputJSON, err := p.call(ctx, inputJSON)
	if err != nil {
		return nil, fmt.Errorf("plugin %s failed: %w", p.manifest.Name, err)
	}

	var result pluginResult
	if err := json.Unmarshal(outputJSON, &result); err != nil {
		return nil, fmt.Errorf("plugin %s returned invalid JSON: %w", p.manifest.Name, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("plugin %s reported error: %s", p.manifest.Name, result.Error)
	}

	now := time.Now()
	violations := make([]policy.Violation, 0, len(result.Violations))
	for _, v := range result.Violations {
		severity := policy.Severity(v.Severity)
		if !severity.Valid() {
			severity = p.manifest.Severity
		}
		violations = append(violations, policy.Violation{
			Policy:      p.manifest.Name,
			Resource:    v.Resource,
			Message:     v.Message,
			Severity:    severity,
			Remediation: v.Remediation,
			DetectedAt:  now,
		})
	}

	return violations, nil
}

// call moves JSON through guest memory using the allocate/deallocate
// exports.
func (p *Plugin) call(ctx context.Context, input []byte) ([]byte, error) {
	memory := p.module.Memory()

	var inputPtr uint32
	if len(input) > 0 {
		results, err := p.allocate.Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, fmt.Errorf("allocate failed: %w", err)
		}
		if len(results) == 0 || uint32(results[0]) == 0 {
			return nil, fmt.Errorf("allocate returned null pointer")
		}
		inputPtr = uint32(results[0])
		defer func() { _, _ = p.deallocate.Call(ctx, uint64(inputPtr)) }()

		if !memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := p.evaluate.Call(ctx, uint64(inputPtr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("evaluate call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("evaluate returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return []byte(`{"violations":[]}`), nil
	}

	output, ok := memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}

	// Copy before the guest memory is released.
	copied := make([]byte, len(output))
	copy(copied, output)
	_, _ = p.deallocate.Call(ctx, uint64(outputPtr))

	return copied, nil
}

// Close releases the plugin's runtime.
func (p *Plugin) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// Plugins returns the loaded plugins.
func (h *Host) Plugins() []*Plugin {
	return h.plugins
}

// EvaluateAll runs every loaded plugin against the input. A failing
// plugin contributes a warning instead of failing the evaluation.
func (h *Host) EvaluateAll(ctx context.Context, input *policy.Input) ([]policy.Violation, []string) {
	var violations []policy.Violation
	var warnings []string

	for _, plugin := range h.plugins {
		found, err := plugin.Evaluate(ctx, input)
		if err != nil {
			h.logger.Warn().Err(err).Str("plugin", plugin.Name()).Msg("Plugin evaluation failed")
			warnings = append(warnings, err.Error())
			continue
		}
		violations = append(violations, found...)
	}

	return violations, warnings
}

// Close releases all loaded plugins.
func (h *Host) Close(ctx context.Context) error {
	var firstErr error
	for _, plugin := range h.plugins {
		if err := plugin.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.plugins = nil
	return firstErr
}
