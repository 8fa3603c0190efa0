package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/config"
	"github.com/plangate/plangate/pkg/plan"
	"github.com/plangate/plangate/pkg/policy"
	"github.com/plangate/plangate/pkg/sources"
	"github.com/plangate/plangate/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "watch <plan>",
		Short: "Re-evaluate a plan whenever a policy file changes",
		Long: `Watch the configured policy paths and re-evaluate the given plan on
every change. The metrics endpoint is served while watching when
metrics are enabled. Runs until interrupted.`,
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

			return runWatch(cmd.Context(), cfg, tel, args[0])
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "deployment environment (overrides config)")

	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, planPath string) error {
	logger := tel.Logger

	// The plan is parsed once up front. Policy changes trigger
	// re-evaluation of the same document.
	source, err := sources.Resolve(planPath, cfg.Remote, logger)
	if err != nil {
		return err
	}
	reader, err := source.Fetch(ctx)
	if err != nil {
		return err
	}
	p, err := plan.NewParser(logger).Parse(reader)
	_ = reader.Close()
	if err != nil {
		return err
	}

	engine, err := policy.NewEngine(logger)
	if err != nil {
		return err
	}
	if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
		return err
	}
	tel.Metrics.SetPoliciesLoaded(len(engine.ListPolicies()))

	if err := tel.Metrics.StartServer(logger); err != nil {
		return err
	}

	evaluate := func() {
		started := time.Now()
		result, err := engine.EvaluatePlan(ctx, p, &policy.Context{
			Environment: cfg.Environment,
			Operation:   "watch",
			Timestamp:   started,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Evaluation failed")
			return
		}
		result.Gate(policy.Severity(cfg.SeverityThreshold))
		tel.Metrics.RecordEvaluation(cfg.Environment, result.Allowed, time.Since(started))

		if err := renderResult(result, p.Summary(), cfg.SeverityThreshold); err != nil {
			logger.Error().Err(err).Msg("Failed to render result")
		}
	}

	evaluate()

	loader := policy.NewLoader(logger)
	err = loader.Watch(ctx, cfg.PolicyPaths, func(policies []policy.Policy) error {
		logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
		if err := engine.SetPolicies(ctx, policies); err != nil {
			return err
		}
		tel.Metrics.SetPoliciesLoaded(len(engine.ListPolicies()))
		evaluate()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch policy paths: %w", err)
	}
	defer func() { _ = loader.StopWatching() }()

	logger.Info().Strs("paths", cfg.PolicyPaths).Msg("Watching for policy changes")
	<-ctx.Done()
	return nil
}
