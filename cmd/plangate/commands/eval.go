package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/config"
	"github.com/plangate/plangate/pkg/plan"
	"github.com/plangate/plangate/pkg/plugins"
	"github.com/plangate/plangate/pkg/policy"
	"github.com/plangate/plangate/pkg/sources"
	"github.com/plangate/plangate/pkg/stores"
	"github.com/plangate/plangate/pkg/telemetry"
)

func newEvalCommand() *cobra.Command {
	var (
		environment string
		waiverFile  string
		pluginDir   string
		checksum    string
		noStore     bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "eval <plan>",
		Short: "Evaluate a Terraform plan against the loaded policies",
		Long: `Evaluate a Terraform plan JSON document against all loaded policies
and report the gate decision.

The plan argument is a local file path, "-" for standard input, or an
ssh:// URL fetched over SFTP. The command exits non-zero when the plan
is blocked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := setup()
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			if environment != "" {
				cfg.Environment = environment
			}
			if waiverFile != "" {
				cfg.WaiverFile = waiverFile
			}
			if pluginDir != "" {
				cfg.PluginDir = pluginDir
			}

			return runEval(cmd.Context(), cfg, tel, args[0], checksum, noStore, dryRun)
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "deployment environment (overrides config)")
	cmd.Flags().StringVar(&waiverFile, "waivers", "", "waiver file path (overrides config)")
	cmd.Flags().StringVar(&pluginDir, "plugins", "", "WASM plugin directory (overrides config)")
	cmd.Flags().StringVar(&checksum, "checksum", "", "expected SHA-256 of the plan document")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "skip recording the evaluation in history")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the decision without failing the command")

	return cmd
}

func runEval(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, planPath, checksum string, noStore, dryRun bool) error {
	logger := tel.Logger
	started := time.Now()

	// Fetch and parse the plan, verifying the digest when one is given.
	source, err := sources.Resolve(planPath, cfg.Remote, logger)
	if err != nil {
		return err
	}
	data, err := sources.FetchVerified(ctx, source, checksum)
	if err != nil {
		return err
	}
	p, err := plan.NewParser(logger).Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}

	summary := p.Summary()
	logger.Info().
		Str("source", source.Description()).
		Int("resources", summary.Total).
		Int("adds", summary.Adds).
		Int("changes", summary.Changes).
		Int("destroys", summary.Destroys).
		Msg("Plan parsed")

	// Load policies and apply any persistent overrides.
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return err
	}
	if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
		if err := applyOverrides(ctx, engine, store, logger); err != nil {
			return err
		}
	}
	tel.Metrics.SetPoliciesLoaded(len(engine.ListPolicies()))

	evalID := uuid.NewString()
	spanCtx, span := tel.Tracer.StartEvaluationSpan(ctx, evalID, planPath, cfg.Environment)
	defer span.End()

	result, err := engine.EvaluatePlan(spanCtx, p, &policy.Context{
		Environment: cfg.Environment,
		Operation:   "eval",
		DryRun:      dryRun,
		Timestamp:   started,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	// Plugins contribute additional violations. A failing plugin is a
	// warning, not a gate failure.
	if cfg.PluginDir != "" {
		host := plugins.NewHost(plugins.HostConfig{}, logger)
		if err := host.LoadDirectory(ctx, cfg.PluginDir); err != nil {
			return err
		}
		defer func() { _ = host.Close(ctx) }()
		tel.Metrics.SetPluginsLoaded(len(host.Plugins()))

		violations, warnings := host.EvaluateAll(spanCtx, &policy.Input{
			Plan: p,
			Context: &policy.Context{
				Environment: cfg.Environment,
				Operation:   "eval",
				DryRun:      dryRun,
				Timestamp:   started,
			},
		})
		result.Violations = append(result.Violations, violations...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	// Waivers downgrade matching violations but keep them visible.
	if cfg.WaiverFile != "" {
		waivers, err := policy.LoadWaivers(cfg.WaiverFile)
		if err != nil {
			return err
		}
		result = policy.ApplyWaivers(result, waivers, time.Now())
	}

	result.Gate(policy.Severity(cfg.SeverityThreshold))
	duration := time.Since(started)

	recordEvalMetrics(tel, cfg.Environment, result, duration)
	telemetry.RecordSuccess(span)

	if store != nil && !noStore {
		eval, findings := toStoreRecords(planPath, cfg.Environment, p, result, started, duration)
		eval.ID = evalID
		if err := store.SaveEvaluation(ctx, eval, findings); err != nil {
			logger.Warn().Err(err).Msg("Failed to record evaluation history")
		} else {
			logger.Debug().Str("evaluation_id", eval.ID).Msg("Evaluation recorded")
		}
	}

	if err := renderResult(result, summary, cfg.SeverityThreshold); err != nil {
		return err
	}

	if !result.Allowed && !dryRun {
		return fmt.Errorf("plan blocked: %d violation(s) at or above %s",
			result.CountAtOrAbove(policy.Severity(cfg.SeverityThreshold)), cfg.SeverityThreshold)
	}
	return nil
}

// applyOverrides disables policies with a persistent disable override.
// Overrides for policies that are no longer loaded are ignored.
func applyOverrides(ctx context.Context, engine *policy.Engine, store *stores.SQLiteStore, logger zerolog.Logger) error {
	disabled, err := store.ListDisabledPolicies(ctx)
	if err != nil {
		return err
	}
	for _, name := range disabled {
		if err := engine.DisablePolicy(name); err != nil {
			logger.Debug().Str("policy", name).Msg("Skipping override for unknown policy")
			continue
		}
		logger.Debug().Str("policy", name).Msg("Policy disabled by override")
	}
	return nil
}

func recordEvalMetrics(tel *telemetry.Telemetry, environment string, result *policy.Result, duration time.Duration) {
	tel.Metrics.RecordEvaluation(environment, result.Allowed, duration)
	for i := range result.Violations {
		v := &result.Violations[i]
		tel.Metrics.RecordViolation(v.Policy, string(v.Severity))
		if v.Waived {
			tel.Metrics.RecordWaiverApplied()
		}
	}
}

// toStoreRecords converts an evaluation result into history records.
func toStoreRecords(planPath, environment string, p *plan.Plan, result *policy.Result, started time.Time, duration time.Duration) (*stores.Evaluation, []stores.Finding) {
	eval := &stores.Evaluation{
		PlanPath:       planPath,
		Environment:    environment,
		Allowed:        result.Allowed,
		ResourceCount:  len(p.Changes),
		PolicyCount:    len(result.EvaluatedPolicies),
		ViolationCount: len(result.Violations),
		WarningCount:   len(result.Warnings),
		StartedAt:      started,
		Duration:       duration,
	}

	findings := make([]stores.Finding, 0, len(result.Violations))
	for i := range result.Violations {
		v := &result.Violations[i]
		findings = append(findings, stores.Finding{
			Policy:        v.Policy,
			Resource:      v.Resource,
			Severity:      string(v.Severity),
			Message:       v.Message,
			Remediation:   v.Remediation,
			Waived:        v.Waived,
			Justification: v.WaiverJustification,
		})
	}

	return eval, findings
}

// renderResult writes the gate decision to stdout, as JSON when the
// --json flag is set.
func renderResult(result *policy.Result, summary plan.Summary, threshold string) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*policy.Result
			Summary plan.Summary `json:"plan_summary"`
		}{result, summary})
	}

	fmt.Printf("Plan: %d to add, %d to change, %d to destroy (%d replacements)\n",
		summary.Adds, summary.Changes, summary.Destroys, summary.Replaces)
	fmt.Printf("Policies evaluated: %d\n", len(result.EvaluatedPolicies))

	for i := range result.Violations {
		v := &result.Violations[i]
		marker := "✗"
		if v.Waived {
			marker = "~"
		}
		fmt.Printf("  %s [%s] %s: %s\n", marker, v.Severity, v.Policy, v.Message)
		if v.Resource != "" {
			fmt.Printf("      resource: %s\n", v.Resource)
		}
		if v.Remediation != "" {
			fmt.Printf("      remediation: %s\n", v.Remediation)
		}
		if v.Waived {
			fmt.Printf("      waived: %s\n", v.WaiverJustification)
		}
	}
	for _, w := range result.Warnings {
		fmt.Printf("  ! warning: %s\n", w)
	}

	if result.Allowed {
		fmt.Printf("\nALLOWED (threshold: %s)\n", threshold)
	} else {
		fmt.Printf("\nBLOCKED (threshold: %s)\n", threshold)
	}
	return nil
}

// shutdownTelemetry flushes telemetry with a bounded grace period.
func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
}
