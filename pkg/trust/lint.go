package trust

import (
	"fmt"
	"strings"
)

// GitHub Actions OIDC federation constants.
const (
	// GitHubOIDCHost is the GitHub Actions token issuer host.
	GitHubOIDCHost = "token.actions.githubusercontent.com"

	// STSAudience is the audience value AWS expects for role assumption.
	STSAudience = "sts.amazonaws.com"

	// AssumeRoleAction is the only action a web identity trust statement needs.
	AssumeRoleAction = "sts:AssumeRoleWithWebIdentity"
)

// Finding severity levels mirror policy severities but stay local so the
// trust package has no dependency on the policy engine.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Finding is a single lint finding against a trust policy document.
type Finding struct {
	// Rule is the lint rule identifier (e.g. "TP004").
	Rule string `json:"rule"`

	// Path locates the finding within the document (e.g. "Statement[0]").
	Path string `json:"path"`

	// Message describes the problem.
	Message string `json:"message"`

	// Severity is one of info, warning, error, critical.
	Severity string `json:"severity"`
}

// Blocking reports whether the finding should fail a lint run.
func (f Finding) Blocking() bool {
	return f.Severity == SeverityError || f.Severity == SeverityCritical
}

// Lint checks a trust policy document against the GitHub Actions OIDC
// federation rules and returns all findings. Statements that do not use a
// federated GitHub principal are skipped.
func Lint(doc *Document) []Finding {
	var findings []Finding

	for i := range doc.Statement {
		stmt := &doc.Statement[i]
		path := fmt.Sprintf("Statement[%d]", i)

		if stmt.Principal.AnyPrincipal {
			findings = append(findings, Finding{
				Rule:     "TP001",
				Path:     path,
				Message:  "trust policy must not allow any principal (\"*\")",
				Severity: SeverityCritical,
			})
			continue
		}

		if !isGitHubFederated(stmt) {
			continue
		}

		findings = append(findings, lintFederatedStatement(stmt, path)...)
	}

	return findings
}

// isGitHubFederated reports whether the statement trusts the GitHub OIDC
// provider.
func isGitHubFederated(stmt *Statement) bool {
	for _, p := range stmt.Principal.Federated {
		if strings.Contains(p, GitHubOIDCHost) {
			return true
		}
	}
	return false
}

// lintFederatedStatement applies the OIDC federation rules to one statement.
func lintFederatedStatement(stmt *Statement, path string) []Finding {
	var findings []Finding

	if stmt.Effect != "Allow" {
		// Deny statements narrow access; nothing to enforce.
		return nil
	}

	// Action must be exactly sts:AssumeRoleWithWebIdentity.
	for _, action := range stmt.Action {
		if action == AssumeRoleAction {
			continue
		}
		findings = append(findings, Finding{
			Rule:     "TP002",
			Path:     path,
			Message:  fmt.Sprintf("federated trust statement grants %q; only %q is needed", action, AssumeRoleAction),
			Severity: SeverityError,
		})
	}

	if len(stmt.Condition) == 0 {
		findings = append(findings, Finding{
			Rule:     "TP003",
			Path:     path,
			Message:  "federated trust statement has no Condition block; any GitHub repository could assume this role",
			Severity: SeverityCritical,
		})
		return findings
	}

	findings = append(findings, lintAudience(stmt, path)...)
	findings = append(findings, lintSubject(stmt, path)...)
	findings = append(findings, lintForAllValues(stmt, path)...)

	return findings
}

// lintAudience checks the aud condition is pinned with StringEquals.
func lintAudience(stmt *Statement, path string) []Finding {
	audKey := GitHubOIDCHost + ":aud"

	if vals, ok := conditionValues(stmt.Condition, "StringEquals", audKey); ok {
		if !vals.Contains(STSAudience) {
			return []Finding{{
				Rule:     "TP004",
				Path:     path,
				Message:  fmt.Sprintf("audience condition does not pin %q", STSAudience),
				Severity: SeverityError,
			}}
		}
		return nil
	}

	if _, ok := conditionValues(stmt.Condition, "StringLike", audKey); ok {
		return []Finding{{
			Rule:     "TP004",
			Path:     path,
			Message:  "audience should be pinned with StringEquals, not StringLike",
			Severity: SeverityWarning,
		}}
	}

	return []Finding{{
		Rule:     "TP004",
		Path:     path,
		Message:  fmt.Sprintf("missing audience condition %q = %q", audKey, STSAudience),
		Severity: SeverityError,
	}}
}

// lintSubject checks the sub condition scoping.
func lintSubject(stmt *Statement, path string) []Finding {
	subKey := GitHubOIDCHost + ":sub"
	var findings []Finding
	found := false

	for op, keys := range stmt.Condition {
		vals, ok := keys[subKey]
		if !ok {
			continue
		}
		found = true
		baseOp := strings.TrimPrefix(strings.TrimPrefix(op, "ForAllValues:"), "ForAnyValue:")

		for _, v := range vals {
			switch {
			case baseOp == "StringLike" && (v == "*" || v == "repo:*"):
				findings = append(findings, Finding{
					Rule:     "TP005",
					Path:     path,
					Message:  fmt.Sprintf("subject pattern %q trusts every GitHub repository", v),
					Severity: SeverityCritical,
				})
			case baseOp == "StringLike" && wildcardRepoPortion(v):
				findings = append(findings, Finding{
					Rule:     "TP005",
					Path:     path,
					Message:  fmt.Sprintf("subject pattern %q wildcards the repository; every matching repository can assume the role", v),
					Severity: SeverityCritical,
				})
			case baseOp == "StringLike" && strings.HasSuffix(v, ":*"):
				findings = append(findings, Finding{
					Rule:     "TP005",
					Path:     path,
					Message:  fmt.Sprintf("subject pattern %q trusts all refs and workflows of the repository; consider pinning a branch or environment", v),
					Severity: SeverityWarning,
				})
			case baseOp == "StringEquals" && strings.Contains(v, "*"):
				findings = append(findings, Finding{
					Rule:     "TP006",
					Path:     path,
					Message:  fmt.Sprintf("StringEquals matches %q literally; the wildcard will never match a real subject", v),
					Severity: SeverityError,
				})
			case !strings.HasPrefix(v, "repo:"):
				findings = append(findings, Finding{
					Rule:     "TP006",
					Path:     path,
					Message:  fmt.Sprintf("subject %q does not use the repo:<org>/<name> form", v),
					Severity: SeverityWarning,
				})
			}
		}
	}

	if !found {
		findings = append(findings, Finding{
			Rule:     "TP005",
			Path:     path,
			Message:  fmt.Sprintf("missing subject condition %q; the role is not scoped to a repository", subKey),
			Severity: SeverityCritical,
		})
	}

	return findings
}

// wildcardRepoPortion reports whether the repo:<org>/<name> portion of a
// subject pattern contains a wildcard. Wildcards there broaden which
// repositories are trusted, unlike a ref wildcard within a pinned repo.
func wildcardRepoPortion(v string) bool {
	if !strings.HasPrefix(v, "repo:") {
		return false
	}
	parts := strings.SplitN(v, ":", 3)
	return strings.Contains(parts[1], "*")
}

// lintForAllValues flags set-operator conditions that vacuously match
// requests missing the key. AWS evaluates ForAllValues as true when the
// request carries no values for the key.
func lintForAllValues(stmt *Statement, path string) []Finding {
	var findings []Finding

	for op, keys := range stmt.Condition {
		if !strings.HasPrefix(op, "ForAllValues:") {
			continue
		}
		for key := range keys {
			if hasNullGuard(stmt.Condition, key) {
				continue
			}
			findings = append(findings, Finding{
				Rule:     "TP007",
				Path:     path,
				Message:  fmt.Sprintf("%s on %q matches requests that omit the key; pair it with a Null condition", op, key),
				Severity: SeverityWarning,
			})
		}
	}

	return findings
}

// hasNullGuard reports whether a Null condition pins the key to present.
func hasNullGuard(cond Condition, key string) bool {
	vals, ok := conditionValues(cond, "Null", key)
	return ok && vals.Contains("false")
}

// conditionValues looks up the values for an operator/key pair.
func conditionValues(cond Condition, op, key string) (StringOrSlice, bool) {
	keys, ok := cond[op]
	if !ok {
		return nil, false
	}
	vals, ok := keys[key]
	return vals, ok
}
