package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past evaluation decisions",
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistorySummaryCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

// withHistoryStore runs fn against the configured history store.
func withHistoryStore(cmd *cobra.Command, fn func(ctx context.Context, store *stores.SQLiteStore) error) error {
	cfg, tel, err := setup()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history requires a configured store_path")
	}
	defer func() { _ = store.Close() }()

	return fn(ctx, store)
}

func newHistoryListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent evaluations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistoryStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				evals, err := store.ListEvaluations(ctx, limit, offset)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(evals)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTARTED\tENVIRONMENT\tDECISION\tVIOLATIONS\tDURATION")
				for i := range evals {
					e := evals[i]
					decision := "blocked"
					if e.Allowed {
						decision = "allowed"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						e.ID, e.StartedAt.Format(time.RFC3339), e.Environment,
						decision, e.ViolationCount, e.Duration)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of evaluations to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of evaluations to skip")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one evaluation with its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistoryStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				eval, findings, err := store.GetEvaluation(ctx, args[0])
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(struct {
						Evaluation *stores.Evaluation `json:"evaluation"`
						Findings   []stores.Finding   `json:"findings"`
					}{eval, findings})
				}

				decision := "BLOCKED"
				if eval.Allowed {
					decision = "ALLOWED"
				}
				fmt.Printf("Evaluation %s\n", eval.ID)
				fmt.Printf("  plan:        %s\n", eval.PlanPath)
				fmt.Printf("  environment: %s\n", eval.Environment)
				fmt.Printf("  started:     %s\n", eval.StartedAt.Format(time.RFC3339))
				fmt.Printf("  duration:    %s\n", eval.Duration)
				fmt.Printf("  decision:    %s\n", decision)
				fmt.Printf("  resources:   %d, policies: %d, warnings: %d\n",
					eval.ResourceCount, eval.PolicyCount, eval.WarningCount)

				for i := range findings {
					f := &findings[i]
					marker := "✗"
					if f.Waived {
						marker = "~"
					}
					fmt.Printf("  %s [%s] %s: %s\n", marker, f.Severity, f.Policy, f.Message)
					if f.Resource != "" {
						fmt.Printf("      resource: %s\n", f.Resource)
					}
					if f.Waived {
						fmt.Printf("      waived: %s\n", f.Justification)
					}
				}
				return nil
			})
		},
	}
}

func newHistorySummaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show aggregate decision statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistoryStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				summary, err := store.GetSummary(ctx)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(summary)
				}

				fmt.Printf("Evaluations: %d (%d allowed, %d blocked)\n",
					summary.TotalEvaluations, summary.Allowed, summary.Blocked)
				fmt.Printf("Findings:    %d\n", summary.TotalFindings)
				for _, sev := range []string{"critical", "error", "warning", "info"} {
					if n := summary.FindingsBySeverity[sev]; n > 0 {
						fmt.Printf("  %s: %d\n", sev, n)
					}
				}
				return nil
			})
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete evaluations older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistoryStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				pruned, err := store.PruneBefore(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d evaluation(s)\n", pruned)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete evaluations older than this duration")

	return cmd
}
