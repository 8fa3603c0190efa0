package plugins

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/plangate/plangate/pkg/policy"
)

// Manifest describes one WASM rule plugin.
type Manifest struct {
	// Name is the plugin name, used as the policy name in violations.
	Name string `yaml:"name"`

	// Version is the plugin version.
	Version string `yaml:"version"`

	// Description explains what the plugin checks.
	Description string `yaml:"description,omitempty"`

	// Severity is the default severity for violations the plugin
	// reports without one.
	Severity policy.Severity `yaml:"severity,omitempty"`

	// Entrypoint is the WASM module path, relative to the manifest.
	Entrypoint string `yaml:"entrypoint"`

	// Checksum is an optional hex SHA-256 digest of the WASM module.
	Checksum string `yaml:"checksum,omitempty"`

	// Path is where the manifest was loaded from.
	Path string `yaml:"-"`

	// WasmPath is the resolved WASM module path.
	WasmPath string `yaml:"-"`
}

// LoadManifest reads and validates a plugin manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.Path = path

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	if filepath.IsAbs(m.Entrypoint) {
		m.WasmPath = m.Entrypoint
	} else {
		m.WasmPath = filepath.Join(filepath.Dir(path), m.Entrypoint)
	}
	if _, err := os.Stat(m.WasmPath); err != nil {
		return nil, fmt.Errorf("WASM module not found at %s: %w", m.WasmPath, err)
	}

	return &m, nil
}

// validate checks the required manifest fields.
func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("plugin version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if m.Severity == "" {
		m.Severity = policy.SeverityWarning
	}
	if !m.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", m.Severity)
	}
	return nil
}

// VerifyChecksum verifies the WASM module against the manifest checksum.
// A manifest without a checksum accepts any module.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Checksum == "" {
		return nil
	}

	hash := sha256.Sum256(wasmModule)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s", m.Checksum, computed)
	}

	return nil
}
