package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/config"
	"github.com/plangate/plangate/pkg/stores"
	"github.com/plangate/plangate/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// toolVersion is the build version, used in telemetry.
	toolVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	toolVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plangate",
		Short: "Plangate - Terraform plan policy gate",
		Long: `Plangate gates Terraform plans against declarative governance
policies before anything is applied.

Features:
  - Rego and Starlark policies evaluated against plan JSON
  - IAM trust policy linting for GitHub Actions OIDC federation
  - Waivers with recorded justifications
  - WASM rule plugins
  - Evaluation history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newLintCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadConfig loads the tool configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setup builds the configuration and telemetry stack shared by all
// commands.
func setup() (*config.Config, *telemetry.Telemetry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	tel, err := telemetry.New(cfg, toolVersion)
	if err != nil {
		return nil, nil, err
	}

	return cfg, tel, nil
}

// openStore opens and migrates the evaluation history store. It returns
// nil without error when no store path is configured.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	if cfg.StorePath == "" {
		return nil, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StorePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return store, nil
}
