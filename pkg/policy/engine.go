package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/plan"
	"github.com/plangate/plangate/pkg/trust"
)

// Engine evaluates governance policies against Terraform plans and trust
// policy documents.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	starlark        *StarlarkEvaluator
	builtinPolicies []Policy
}

// compiledPolicy is a policy prepared for evaluation.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module // nil for starlark policies
	compiled time.Time
}

// NewEngine creates a new policy engine with the builtin policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		starlark:        NewStarlarkEvaluator(10 * time.Second),
		builtinPolicies: BuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluatePlan evaluates all enabled policies against a plan.
func (e *Engine) EvaluatePlan(ctx context.Context, p *plan.Plan, evalCtx *Context) (*Result, error) {
	input := &Input{Plan: p, Context: withDefaults(evalCtx, "plan")}
	return e.evaluate(ctx, input)
}

// EvaluateResource evaluates all enabled policies against a single change.
func (e *Engine) EvaluateResource(ctx context.Context, rc *plan.ResourceChange, evalCtx *Context) (*Result, error) {
	input := &Input{Resource: rc, Context: withDefaults(evalCtx, "validate")}
	return e.evaluate(ctx, input)
}

// EvaluateTrustDocument evaluates all enabled policies against an IAM trust
// policy document.
func (e *Engine) EvaluateTrustDocument(ctx context.Context, doc *trust.Document, evalCtx *Context) (*Result, error) {
	input := &Input{TrustDocument: doc, Context: withDefaults(evalCtx, "lint")}
	return e.evaluate(ctx, input)
}

// evaluate runs every enabled policy against the input. A policy that fails
// to evaluate produces a warning rather than aborting the run.
func (e *Engine) evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []Violation
	var warnings []string
	evaluated := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		allViolations = append(allViolations, violations...)
	}

	result := &Result{
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluated,
		EvaluatedAt:       time.Now(),
		Duration:          time.Since(startTime),
	}
	result.Allowed = result.BlockingCount() == 0

	e.logger.Debug().
		Int("policies", len(evaluated)).
		Int("violations", len(allViolations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Evaluation completed")

	return result, nil
}

// evaluatePolicy dispatches a single policy by language.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	switch cp.policy.Language {
	case LanguageStarlark:
		return e.starlark.EvaluateRule(ctx, cp.policy, input)
	default:
		return e.evaluateRego(ctx, cp, input)
	}
}

// evaluateRego queries data.<package>.deny for the policy.
func (e *Engine) evaluateRego(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(cp.policy.Source))

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Source),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, makeViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "plangate.policies"
}

// makeViolation converts a raw deny result into a Violation.
func makeViolation(p *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:     p.Name,
		Severity:   p.Severity,
		DetectedAt: time.Now(),
	}
	if input.Resource != nil {
		violation.Resource = input.Resource.Address
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// LoadPolicies loads policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies compiles and installs the given policies alongside builtins.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, p *Policy) error {
	cp := &compiledPolicy{policy: p, compiled: time.Now()}

	if p.Language == LanguageRego || p.Language == "" {
		p.Language = LanguageRego
		module, err := ast.ParseModule(p.Name, p.Source)
		if err != nil {
			return fmt.Errorf("failed to parse policy: %w", err)
		}
		cp.module = module
	}

	e.policies[p.Name] = cp

	e.logger.Debug().
		Str("policy", p.Name).
		Str("language", string(p.Language)).
		Msg("Policy compiled")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops loaded policies and reinstalls builtins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	e.policies = make(map[string]*compiledPolicy)
	e.mu.Unlock()

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// ApplyWaivers downgrades violations matched by an active waiver and
// recomputes the result's admissibility. The mutated result is returned.
func ApplyWaivers(result *Result, waivers []Waiver, now time.Time) *Result {
	for i := range result.Violations {
		v := &result.Violations[i]
		for j := range waivers {
			w := &waivers[j]
			if w.Expired(now) || w.Policy != v.Policy {
				continue
			}
			if w.Resource != "" {
				matched, err := path.Match(w.Resource, v.Resource)
				if err != nil || !matched {
					continue
				}
			}
			v.Waived = true
			v.WaiverJustification = w.Justification
			break
		}
	}
	result.Allowed = result.BlockingCount() == 0
	return result
}

// withDefaults fills in the context operation and timestamp.
func withDefaults(c *Context, operation string) *Context {
	if c == nil {
		c = &Context{}
	}
	if c.Operation == "" {
		c.Operation = operation
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	return c
}

// inputToMap converts an Input into plain maps for non-Rego evaluators.
func inputToMap(input *Input) (map[string]interface{}, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	return out, nil
}
