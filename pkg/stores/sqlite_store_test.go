package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvaluation(started time.Time) *Evaluation {
	return &Evaluation{
		PlanPath:       "plan.json",
		Environment:    "production",
		Allowed:        false,
		ResourceCount:  12,
		PolicyCount:    6,
		ViolationCount: 2,
		WarningCount:   1,
		StartedAt:      started,
		Duration:       340 * time.Millisecond,
	}
}

func sampleFindings() []Finding {
	return []Finding{
		{
			Policy:   "stateful-deletes",
			Resource: "aws_s3_bucket.data",
			Severity: "critical",
			Message:  "stateful resource aws_s3_bucket.data is destroyed in production",
		},
		{
			Policy:        "required-tags",
			Resource:      "aws_instance.web",
			Severity:      "error",
			Message:       "resource aws_instance.web is missing required tag owner",
			Remediation:   "add the owner tag",
			Waived:        true,
			Justification: "tag backfill tracked in OPS-77",
		},
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSaveAndGetEvaluation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	eval := sampleEvaluation(time.Now().UTC().Truncate(time.Second))
	if err := store.SaveEvaluation(ctx, eval, sampleFindings()); err != nil {
		t.Fatalf("SaveEvaluation failed: %v", err)
	}
	if eval.ID == "" {
		t.Fatal("SaveEvaluation should assign an ID")
	}

	got, findings, err := store.GetEvaluation(ctx, eval.ID)
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}

	if got.PlanPath != "plan.json" || got.Environment != "production" {
		t.Errorf("evaluation = %+v", got)
	}
	if got.Allowed {
		t.Error("evaluation should be blocked")
	}
	if got.Duration != 340*time.Millisecond {
		t.Errorf("duration = %v, want 340ms", got.Duration)
	}
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}
	if findings[0].Policy != "stateful-deletes" || findings[0].Severity != "critical" {
		t.Errorf("finding[0] = %+v", findings[0])
	}
	if !findings[1].Waived || findings[1].Justification == "" {
		t.Errorf("finding[1] should carry its waiver, got %+v", findings[1])
	}
}

func TestGetEvaluationNotFound(t *testing.T) {
	store := testStore(t)

	if _, _, err := store.GetEvaluation(context.Background(), "no-such-id"); err == nil {
		t.Fatal("expected error for unknown evaluation")
	}
}

func TestListEvaluationsOrderAndPagination(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		eval := sampleEvaluation(base.Add(time.Duration(i) * time.Minute))
		eval.Allowed = i != 0
		if err := store.SaveEvaluation(ctx, eval, nil); err != nil {
			t.Fatalf("SaveEvaluation %d failed: %v", i, err)
		}
	}

	evals, err := store.ListEvaluations(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListEvaluations failed: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("got %d evaluations, want 2", len(evals))
	}
	if !evals[0].StartedAt.After(evals[1].StartedAt) {
		t.Error("evaluations should be newest first")
	}

	rest, err := store.ListEvaluations(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListEvaluations with offset failed: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("got %d evaluations after offset, want 1", len(rest))
	}
}

func TestDeleteEvaluationCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	eval := sampleEvaluation(time.Now().UTC())
	if err := store.SaveEvaluation(ctx, eval, sampleFindings()); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteEvaluation(ctx, eval.ID); err != nil {
		t.Fatalf("DeleteEvaluation failed: %v", err)
	}
	if _, _, err := store.GetEvaluation(ctx, eval.ID); err == nil {
		t.Error("evaluation should be gone")
	}

	summary, err := store.GetSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalFindings != 0 {
		t.Errorf("findings should cascade on delete, got %d", summary.TotalFindings)
	}

	if err := store.DeleteEvaluation(ctx, eval.ID); err == nil {
		t.Error("expected error deleting missing evaluation")
	}
}

func TestPruneBefore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	old := sampleEvaluation(base.Add(-48 * time.Hour))
	recent := sampleEvaluation(base)
	if err := store.SaveEvaluation(ctx, old, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEvaluation(ctx, recent, nil); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	evals, err := store.ListEvaluations(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].ID != recent.ID {
		t.Errorf("unexpected survivors: %+v", evals)
	}
}

func TestGetSummary(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	blocked := sampleEvaluation(time.Now().UTC())
	if err := store.SaveEvaluation(ctx, blocked, sampleFindings()); err != nil {
		t.Fatal(err)
	}
	allowed := sampleEvaluation(time.Now().UTC())
	allowed.Allowed = true
	allowed.ViolationCount = 0
	if err := store.SaveEvaluation(ctx, allowed, nil); err != nil {
		t.Fatal(err)
	}

	summary, err := store.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.TotalEvaluations != 2 || summary.Allowed != 1 || summary.Blocked != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TotalFindings != 2 {
		t.Errorf("total findings = %d, want 2", summary.TotalFindings)
	}
	if summary.FindingsBySeverity["critical"] != 1 || summary.FindingsBySeverity["error"] != 1 {
		t.Errorf("findings by severity = %v", summary.FindingsBySeverity)
	}
}

func TestPolicyOverrides(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SetPolicyEnabled(ctx, "required-tags", false); err != nil {
		t.Fatalf("SetPolicyEnabled failed: %v", err)
	}
	if err := store.SetPolicyEnabled(ctx, "destroy-budget", false); err != nil {
		t.Fatal(err)
	}
	if err := store.SetPolicyEnabled(ctx, "destroy-budget", true); err != nil {
		t.Fatalf("updating an override failed: %v", err)
	}

	disabled, err := store.ListDisabledPolicies(ctx)
	if err != nil {
		t.Fatalf("ListDisabledPolicies failed: %v", err)
	}
	if len(disabled) != 1 || disabled[0] != "required-tags" {
		t.Errorf("disabled = %v, want [required-tags]", disabled)
	}

	if err := store.ClearPolicyOverride(ctx, "required-tags"); err != nil {
		t.Fatalf("ClearPolicyOverride failed: %v", err)
	}
	disabled, err = store.ListDisabledPolicies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(disabled) != 0 {
		t.Errorf("disabled after clear = %v", disabled)
	}

	if err := store.SetPolicyEnabled(ctx, "", false); err == nil {
		t.Error("expected error for empty policy name")
	}
}
