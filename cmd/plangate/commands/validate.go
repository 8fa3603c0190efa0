package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/plan"
	"github.com/plangate/plangate/pkg/policy"
	"github.com/plangate/plangate/pkg/sources"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plan]",
		Short: "Validate the configuration, policies, and waivers without gating",
		Long: `Validate the configuration file, compile every configured policy, and
parse the waiver file. When a plan path is given the plan document is
parsed as well. No gate decision is made.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := setup()
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			ctx := cmd.Context()
			logger := tel.Logger

			engine, err := policy.NewEngine(logger)
			if err != nil {
				return err
			}
			if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
				return err
			}
			fmt.Printf("Policies: %d compiled\n", len(engine.ListPolicies()))

			if cfg.WaiverFile != "" {
				waivers, err := policy.LoadWaivers(cfg.WaiverFile)
				if err != nil {
					return err
				}
				fmt.Printf("Waivers: %d loaded\n", len(waivers))
			}

			if len(args) == 1 {
				source, err := sources.Resolve(args[0], cfg.Remote, logger)
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
				summary := p.Summary()
				fmt.Printf("Plan: %d resource change(s) (%d add, %d change, %d destroy)\n",
					summary.Total, summary.Adds, summary.Changes, summary.Destroys)
			}

			fmt.Println("Configuration valid")
			return nil
		},
	}
}
