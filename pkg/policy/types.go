package policy

import (
	"time"

	"github.com/plangate/plangate/pkg/plan"
	"github.com/plangate/plangate/pkg/trust"
)

// Language identifies the rule language a policy is written in.
type Language string

const (
	// LanguageRego is an OPA Rego policy.
	LanguageRego Language = "rego"

	// LanguageStarlark is a Starlark rule script.
	LanguageStarlark Language = "starlark"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a plan.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be waived silently.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity fails the gate.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities from info (0) to critical (3). Unknown
// severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Policy represents a governance rule with its source code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Language is the rule language (rego or starlark).
	Language Language `json:"language"`

	// Source contains the policy source code.
	Source string `json:"source"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was loaded.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the plan address of the offending resource.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`

	// Waived indicates the violation was downgraded by a waiver.
	Waived bool `json:"waived,omitempty"`

	// WaiverJustification records why the violation was waived.
	WaiverJustification string `json:"waiver_justification,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the outcome of evaluating a plan against all policies.
type Result struct {
	// Allowed indicates if the plan is admissible.
	Allowed bool `json:"allowed"`

	// Violations lists blocking and non-blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not abort the run.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// BlockingCount returns the number of un-waived blocking violations.
func (r *Result) BlockingCount() int {
	n := 0
	for i := range r.Violations {
		if r.Violations[i].Severity.Blocking() && !r.Violations[i].Waived {
			n++
		}
	}
	return n
}

// CountAtOrAbove returns the number of un-waived violations at or above
// the given severity.
func (r *Result) CountAtOrAbove(threshold Severity) int {
	n := 0
	for i := range r.Violations {
		if r.Violations[i].Waived {
			continue
		}
		if r.Violations[i].Severity.Rank() >= threshold.Rank() {
			n++
		}
	}
	return n
}

// Gate recomputes Allowed against a severity threshold: the plan is
// admissible when no un-waived violation at or above the threshold
// remains.
func (r *Result) Gate(threshold Severity) {
	if !threshold.Valid() {
		threshold = SeverityError
	}
	r.Allowed = r.CountAtOrAbove(threshold) == 0
}

// Input is the document handed to every policy evaluation.
type Input struct {
	// Plan is the execution plan under evaluation, if any.
	Plan *plan.Plan `json:"plan,omitempty"`

	// Resource is the single resource change under evaluation, if any.
	Resource *plan.ResourceChange `json:"resource,omitempty"`

	// TrustDocument is an IAM trust policy under evaluation, if any.
	TrustDocument *trust.Document `json:"trust_document,omitempty"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the deployment environment (e.g. "production").
	Environment string `json:"environment,omitempty"`

	// Operation is the gate operation ("plan", "lint", "validate").
	Operation string `json:"operation,omitempty"`

	// Actor is the identity that produced the plan.
	Actor string `json:"actor,omitempty"`

	// DryRun indicates the gate decision will not be enforced.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Waiver suppresses matching violations with a recorded justification.
type Waiver struct {
	// Policy is the policy name the waiver applies to.
	Policy string `yaml:"policy" json:"policy"`

	// Resource is a glob-style pattern matched against resource addresses.
	// Empty matches every resource.
	Resource string `yaml:"resource,omitempty" json:"resource,omitempty"`

	// Justification explains why the waiver exists. Required.
	Justification string `yaml:"justification" json:"justification"`

	// ExpiresAt is when the waiver stops applying. Zero means no expiry.
	ExpiresAt time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Expired reports whether the waiver is past its expiry at the given time.
func (w *Waiver) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && now.After(w.ExpiresAt)
}
