package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Manage governance policies",
	}

	cmd.AddCommand(newPoliciesListCommand())
	cmd.AddCommand(newPoliciesEnableCommand())
	cmd.AddCommand(newPoliciesDisableCommand())

	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := setup()
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			ctx := cmd.Context()
			engine, err := policy.NewEngine(tel.Logger)
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
				if err := applyOverrides(ctx, engine, store, tel.Logger); err != nil {
					return err
				}
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLANGUAGE\tSEVERITY\tENABLED\tDESCRIPTION")
			for i := range policies {
				p := &policies[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					p.Name, p.Language, p.Severity, p.Enabled, p.Description)
			}
			return w.Flush()
		},
	}
}

func newPoliciesEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a policy (persisted across runs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPolicyOverride(cmd, args[0], true)
		},
	}
}

func newPoliciesDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a policy (persisted across runs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPolicyOverride(cmd, args[0], false)
		},
	}
}

func setPolicyOverride(cmd *cobra.Command, name string, enabled bool) error {
	cfg, tel, err := setup()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	ctx := cmd.Context()

	// Refuse to persist an override for a policy that does not exist.
	engine, err := policy.NewEngine(tel.Logger)
	if err != nil {
		return err
	}
	if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
		return err
	}
	if _, err := engine.GetPolicy(name); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("policy overrides require a configured store_path")
	}
	defer func() { _ = store.Close() }()

	if err := store.SetPolicyEnabled(ctx, name, enabled); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Policy %s %s\n", name, state)
	return nil
}
