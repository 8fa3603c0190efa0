package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// rawPlan mirrors the subset of `terraform show -json` output the gate
// consumes. See the plan JSON format documentation for field semantics.
type rawPlan struct {
	FormatVersion    string                 `json:"format_version"`
	TerraformVersion string                 `json:"terraform_version"`
	Variables        map[string]rawVariable `json:"variables"`
	ResourceChanges  []rawResourceChange    `json:"resource_changes"`
}

type rawVariable struct {
	Value interface{} `json:"value"`
}

type rawResourceChange struct {
	Address       string    `json:"address"`
	ModuleAddress string    `json:"module_address"`
	Mode          string    `json:"mode"`
	Type          string    `json:"type"`
	Name          string    `json:"name"`
	ProviderName  string    `json:"provider_name"`
	Change        rawChange `json:"change"`
}

type rawChange struct {
	Actions      []string               `json:"actions"`
	Before       map[string]interface{} `json:"before"`
	After        map[string]interface{} `json:"after"`
	AfterUnknown map[string]interface{} `json:"after_unknown"`
}

// Parser decodes Terraform plan JSON into the normalized Plan model.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a new plan parser.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{
		logger: logger.With().Str("component", "plan-parser").Logger(),
	}
}

// Parse decodes a plan from the reader and normalizes it.
func (p *Parser) Parse(r io.Reader) (*Plan, error) {
	var raw rawPlan
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode plan JSON: %w", err)
	}

	return p.normalize(&raw)
}

// ParseFile decodes a plan from a file on disk.
func (p *Parser) ParseFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	plan, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return plan, nil
}

// explicitNoOp reports whether the raw action list is a genuine no-op
// rather than an unrecognized combination.
func explicitNoOp(actions []string) bool {
	return len(actions) == 0 || (len(actions) == 1 && actions[0] == "no-op")
}

// normalize converts the raw decoded plan into the domain model.
func (p *Parser) normalize(raw *rawPlan) (*Plan, error) {
	if raw.FormatVersion != "" && !strings.HasPrefix(raw.FormatVersion, "1.") {
		return nil, fmt.Errorf("unsupported plan format version: %s", raw.FormatVersion)
	}

	out := &Plan{
		FormatVersion:    raw.FormatVersion,
		TerraformVersion: raw.TerraformVersion,
		Changes:          make([]ResourceChange, 0, len(raw.ResourceChanges)),
	}

	if len(raw.Variables) > 0 {
		out.Variables = make(map[string]interface{}, len(raw.Variables))
		for name, v := range raw.Variables {
			out.Variables[name] = v.Value
		}
	}

	seen := make(map[string]struct{}, len(raw.ResourceChanges))
	for i := range raw.ResourceChanges {
		rc := &raw.ResourceChanges[i]
		if rc.Address == "" {
			p.logger.Warn().Int("index", i).Msg("Skipping resource change without address")
			continue
		}
		if _, dup := seen[rc.Address]; dup {
			return nil, fmt.Errorf("duplicate resource address in plan: %s", rc.Address)
		}
		seen[rc.Address] = struct{}{}

		action := NormalizeActions(rc.Change.Actions)
		if action == ActionNoOp && !explicitNoOp(rc.Change.Actions) {
			p.logger.Warn().
				Str("address", rc.Address).
				Strs("actions", rc.Change.Actions).
				Msg("Unknown action combination, treating as no-op")
		}

		out.Changes = append(out.Changes, ResourceChange{
			Address:       rc.Address,
			ModuleAddress: rc.ModuleAddress,
			Mode:          rc.Mode,
			Type:          rc.Type,
			Name:          rc.Name,
			Provider:      shortProvider(rc.ProviderName),
			ProviderName:  rc.ProviderName,
			Action:        action,
			Actions:       rc.Change.Actions,
			Before:        rc.Change.Before,
			After:         rc.Change.After,
			AfterUnknown:  rc.Change.AfterUnknown,
		})
	}

	summary := out.Summary()
	p.logger.Debug().
		Str("terraform_version", out.TerraformVersion).
		Int("changes", summary.Total).
		Int("adds", summary.Adds).
		Int("destroys", summary.Destroys).
		Msg("Plan parsed")

	return out, nil
}
