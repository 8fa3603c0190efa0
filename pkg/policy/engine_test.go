package policy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/plan"
	"github.com/plangate/plangate/pkg/trust"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func violationsFor(result *Result, policy string) []Violation {
	var out []Violation
	for _, v := range result.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expected := []string{
		"required-tags",
		"iam-no-wildcards",
		"destroy-budget",
		"stateful-deletes",
		"public-ingress",
		"oidc-audience",
	}
	for _, name := range expected {
		if _, err := eng.GetPolicy(name); err != nil {
			t.Errorf("Expected built-in policy not found: %s", name)
		}
	}
}

func TestEvaluatePlan_RequiredTags(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name       string
		after      map[string]interface{}
		violations int
	}{
		{
			name: "all tags present",
			after: map[string]interface{}{
				"tags": map[string]interface{}{"env": "production", "owner": "platform"},
			},
			violations: 0,
		},
		{
			name: "missing owner",
			after: map[string]interface{}{
				"tags": map[string]interface{}{"env": "production"},
			},
			violations: 1,
		},
		{
			name:       "no tags at all",
			after:      map[string]interface{}{},
			violations: 2,
		},
		{
			name: "empty env tag",
			after: map[string]interface{}{
				"tags": map[string]interface{}{"env": "", "owner": "platform"},
			},
			violations: 1,
		},
		{
			name: "tags_all takes precedence",
			after: map[string]interface{}{
				"tags":     map[string]interface{}{},
				"tags_all": map[string]interface{}{"env": "staging", "owner": "platform"},
			},
			violations: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &plan.Plan{
				FormatVersion: "1.2",
				Changes: []plan.ResourceChange{{
					Address: "aws_s3_bucket.test",
					Mode:    "managed",
					Type:    "aws_s3_bucket",
					Action:  plan.ActionCreate,
					After:   tt.after,
				}},
			}

			result, err := eng.EvaluatePlan(context.Background(), p, nil)
			if err != nil {
				t.Fatalf("EvaluatePlan failed: %v", err)
			}
			got := violationsFor(result, "required-tags")
			if len(got) != tt.violations {
				t.Errorf("got %d tag violations, want %d: %v", len(got), tt.violations, got)
			}
		})
	}
}

func TestEvaluatePlan_IAMWildcards(t *testing.T) {
	eng := testEngine(t)

	p := &plan.Plan{
		Changes: []plan.ResourceChange{{
			Address: "aws_iam_policy.admin",
			Mode:    "managed",
			Type:    "aws_iam_policy",
			Action:  plan.ActionCreate,
			After: map[string]interface{}{
				"policy": `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"*","Resource":"*"}]}`,
				"tags":   map[string]interface{}{"env": "production", "owner": "platform"},
			},
		}},
	}

	result, err := eng.EvaluatePlan(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	got := violationsFor(result, "iam-no-wildcards")
	if len(got) != 2 { // wildcard action + wildcard resource
		t.Fatalf("got %d IAM violations, want 2: %v", len(got), got)
	}
	if result.Allowed {
		t.Error("plan with wildcard IAM policy should be blocked")
	}

	var critical bool
	for _, v := range got {
		if v.Severity == SeverityCritical {
			critical = true
		}
		if v.Resource != "aws_iam_policy.admin" {
			t.Errorf("violation resource = %q, want aws_iam_policy.admin", v.Resource)
		}
	}
	if !critical {
		t.Error("wildcard action should be critical")
	}
}

func TestEvaluatePlan_StatefulDeletes(t *testing.T) {
	eng := testEngine(t)

	p := &plan.Plan{
		Changes: []plan.ResourceChange{{
			Address: "aws_dynamodb_table.orders",
			Mode:    "managed",
			Type:    "aws_dynamodb_table",
			Action:  plan.ActionDelete,
			Before:  map[string]interface{}{"name": "orders"},
		}},
	}

	prod := &Context{Environment: "production"}
	result, err := eng.EvaluatePlan(context.Background(), p, prod)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(violationsFor(result, "stateful-deletes")) != 1 {
		t.Errorf("expected stateful delete violation in production, got %v", result.Violations)
	}
	if result.Allowed {
		t.Error("production stateful delete should block")
	}

	staging := &Context{Environment: "staging"}
	result, err = eng.EvaluatePlan(context.Background(), p, staging)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(violationsFor(result, "stateful-deletes")) != 0 {
		t.Errorf("stateful delete should not trigger outside production: %v", result.Violations)
	}
}

func TestEvaluatePlan_DestroyBudget(t *testing.T) {
	eng := testEngine(t)

	changes := make([]plan.ResourceChange, 0, 7)
	for i := 0; i < 7; i++ {
		changes = append(changes, plan.ResourceChange{
			Address: "aws_instance.web[" + string(rune('0'+i)) + "]",
			Mode:    "managed",
			Type:    "aws_instance",
			Action:  plan.ActionDelete,
		})
	}
	p := &plan.Plan{Changes: changes}

	result, err := eng.EvaluatePlan(context.Background(), p, &Context{Environment: "production"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	got := violationsFor(result, "destroy-budget")
	if len(got) != 1 {
		t.Fatalf("got %d destroy-budget violations, want 1: %v", len(got), got)
	}
	if got[0].Severity != SeverityError {
		t.Errorf("production destroy budget severity = %s, want error", got[0].Severity)
	}
}

func TestEvaluatePlan_PublicIngress(t *testing.T) {
	eng := testEngine(t)

	p := &plan.Plan{
		Changes: []plan.ResourceChange{{
			Address: "aws_security_group.web",
			Mode:    "managed",
			Type:    "aws_security_group",
			Action:  plan.ActionCreate,
			After: map[string]interface{}{
				"tags": map[string]interface{}{"env": "production", "owner": "platform"},
				"ingress": []interface{}{
					map[string]interface{}{
						"from_port":   float64(443),
						"cidr_blocks": []interface{}{"0.0.0.0/0"},
					},
				},
			},
		}},
	}

	result, err := eng.EvaluatePlan(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(violationsFor(result, "public-ingress")) != 1 {
		t.Errorf("expected public ingress violation, got %v", result.Violations)
	}
}

func TestEvaluatePlan_EmptyPlanAllowed(t *testing.T) {
	eng := testEngine(t)

	result, err := eng.EvaluatePlan(context.Background(), &plan.Plan{}, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("empty plan should be allowed: %v", result.Violations)
	}
	if len(result.EvaluatedPolicies) == 0 {
		t.Error("builtin policies should have been evaluated")
	}
}

func TestEvaluateTrustDocument(t *testing.T) {
	eng := testEngine(t)

	doc, err := trust.ParseDocument([]byte(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"Federated": "arn:aws:iam::123456789012:oidc-provider/token.actions.githubusercontent.com"},
			"Action": "sts:AssumeRoleWithWebIdentity",
			"Condition": {"StringEquals": {"token.actions.githubusercontent.com:aud": "sts.amazonaws.com"}}
		}]
	}`))
	if err != nil {
		t.Fatal(err)
	}

	result, err := eng.EvaluateTrustDocument(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("EvaluateTrustDocument failed: %v", err)
	}
	// Builtin plan policies do not fire without a plan in the input.
	if !result.Allowed {
		t.Errorf("trust document evaluation should pass builtins: %v", result.Violations)
	}
}

func TestStarlarkPolicy(t *testing.T) {
	eng := testEngine(t)

	script := `def violations(input):
    out = []
    for rc in input["plan"]["changes"]:
        if rc["type"] == "aws_instance" and rc["after"]["instance_type"] == "m5.24xlarge":
            out.append({
                "message": "oversized instance: " + rc["address"],
                "resource": rc["address"],
                "severity": "error",
            })
    return out
`
	err := eng.SetPolicies(context.Background(), []Policy{{
		Name:     "max-instance-size",
		Language: LanguageStarlark,
		Source:   script,
		Severity: SeverityError,
		Enabled:  true,
	}})
	if err != nil {
		t.Fatalf("SetPolicies failed: %v", err)
	}

	p := &plan.Plan{
		Changes: []plan.ResourceChange{{
			Address: "aws_instance.huge",
			Mode:    "managed",
			Type:    "aws_instance",
			Action:  plan.ActionCreate,
			After: map[string]interface{}{
				"instance_type": "m5.24xlarge",
				"tags":          map[string]interface{}{"env": "test", "owner": "qa"},
			},
		}},
	}

	result, err := eng.EvaluatePlan(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	got := violationsFor(result, "max-instance-size")
	if len(got) != 1 {
		t.Fatalf("got %d starlark violations, want 1: %v", len(got), result.Violations)
	}
	if got[0].Resource != "aws_instance.huge" {
		t.Errorf("violation resource = %q, want aws_instance.huge", got[0].Resource)
	}
	if got[0].Severity != SeverityError {
		t.Errorf("violation severity = %s, want error", got[0].Severity)
	}
}

func TestStarlarkPolicyErrorBecomesWarning(t *testing.T) {
	eng := testEngine(t)

	err := eng.SetPolicies(context.Background(), []Policy{{
		Name:     "broken-rule",
		Language: LanguageStarlark,
		Source:   `x = 1`, // no violations() function
		Severity: SeverityError,
		Enabled:  true,
	}})
	if err != nil {
		t.Fatalf("SetPolicies failed: %v", err)
	}

	result, err := eng.EvaluatePlan(context.Background(), &plan.Plan{}, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("broken policy should surface as a warning")
	}
	if !result.Allowed {
		t.Error("broken policy must not block the plan")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := testEngine(t)

	if err := eng.DisablePolicy("required-tags"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	p := &plan.Plan{
		Changes: []plan.ResourceChange{{
			Address: "aws_s3_bucket.untagged",
			Mode:    "managed",
			Type:    "aws_s3_bucket",
			Action:  plan.ActionCreate,
			After:   map[string]interface{}{},
		}},
	}
	result, err := eng.EvaluatePlan(context.Background(), p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(violationsFor(result, "required-tags")) != 0 {
		t.Error("disabled policy still produced violations")
	}

	if err := eng.EnablePolicy("required-tags"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = eng.EvaluatePlan(context.Background(), p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(violationsFor(result, "required-tags")) == 0 {
		t.Error("re-enabled policy produced no violations")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestApplyWaivers(t *testing.T) {
	now := time.Now()
	result := &Result{
		Violations: []Violation{
			{Policy: "stateful-deletes", Resource: "aws_s3_bucket.legacy", Severity: SeverityCritical},
			{Policy: "required-tags", Resource: "aws_instance.web", Severity: SeverityError},
		},
	}

	waivers := []Waiver{
		{
			Policy:        "stateful-deletes",
			Resource:      "aws_s3_bucket.*",
			Justification: "Data migrated to the new bucket, CHG-1042",
		},
		{
			Policy:        "required-tags",
			Resource:      "aws_instance.web",
			Justification: "expired waiver",
			ExpiresAt:     now.Add(-time.Hour),
		},
	}

	ApplyWaivers(result, waivers, now)

	if !result.Violations[0].Waived {
		t.Error("matching waiver did not apply")
	}
	if result.Violations[0].WaiverJustification == "" {
		t.Error("waiver justification not recorded")
	}
	if result.Violations[1].Waived {
		t.Error("expired waiver applied")
	}
	if result.Allowed {
		t.Error("un-waived error violation should still block")
	}

	// Waive the remaining violation with a fresh waiver.
	ApplyWaivers(result, []Waiver{{
		Policy:        "required-tags",
		Justification: "tagging backfill tracked in OPS-77",
	}}, now)
	if !result.Allowed {
		t.Error("fully waived result should be allowed")
	}
}
