package stores

import (
	"time"
)

// Evaluation is one recorded plan evaluation.
type Evaluation struct {
	// ID is the unique evaluation identifier.
	ID string `json:"id"`

	// PlanPath is where the plan was read from (file path, "-", or URL).
	PlanPath string `json:"plan_path"`

	// Environment is the environment the evaluation ran against.
	Environment string `json:"environment"`

	// Allowed reports whether the plan passed the gate.
	Allowed bool `json:"allowed"`

	// ResourceCount is the number of resource changes in the plan.
	ResourceCount int `json:"resource_count"`

	// PolicyCount is the number of policies evaluated.
	PolicyCount int `json:"policy_count"`

	// ViolationCount is the number of violations found.
	ViolationCount int `json:"violation_count"`

	// WarningCount is the number of evaluation warnings.
	WarningCount int `json:"warning_count"`

	// StartedAt is when the evaluation began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// Finding is one violation recorded for an evaluation.
type Finding struct {
	// ID is the database row ID.
	ID int64 `json:"id"`

	// EvaluationID links the finding to its evaluation.
	EvaluationID string `json:"evaluation_id"`

	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Resource is the address of the offending resource, if any.
	Resource string `json:"resource,omitempty"`

	// Severity is the finding severity (info, warning, error, critical).
	Severity string `json:"severity"`

	// Message describes the finding.
	Message string `json:"message"`

	// Remediation suggests how to fix the finding.
	Remediation string `json:"remediation,omitempty"`

	// Waived reports whether the finding was waived.
	Waived bool `json:"waived"`

	// Justification is the waiver justification, when waived.
	Justification string `json:"justification,omitempty"`
}

// Summary aggregates the stored evaluation history.
type Summary struct {
	// TotalEvaluations is the number of recorded evaluations.
	TotalEvaluations int `json:"total_evaluations"`

	// Allowed is the number of evaluations that passed.
	Allowed int `json:"allowed"`

	// Blocked is the number of evaluations that failed the gate.
	Blocked int `json:"blocked"`

	// TotalFindings is the number of recorded findings.
	TotalFindings int `json:"total_findings"`

	// FindingsBySeverity counts findings per severity.
	FindingsBySeverity map[string]int `json:"findings_by_severity"`
}
