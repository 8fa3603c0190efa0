package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/plangate/plangate/pkg/trust"
)

func newLintCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint <document>...",
		Short: "Lint IAM trust policy documents for OIDC federation mistakes",
		Long: `Lint one or more IAM trust policy JSON documents against the GitHub
Actions OIDC federation rules.

When more than one document is given, documents with identical canonical
content are reported as duplicates. The command exits non-zero when any
blocking finding is reported.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tel, err := setup()
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			_, span := tel.Tracer.StartLintSpan(cmd.Context(), args[0])
			defer span.End()

			docs := make(map[string]*trust.Document, len(args))
			report := lintReport{Findings: map[string][]trust.Finding{}}

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read trust document: %w", err)
				}
				doc, err := trust.ParseDocument(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				docs[path] = doc

				findings := trust.Lint(doc)
				report.Findings[path] = findings
				for _, f := range findings {
					tel.Metrics.RecordLintFinding(f.Rule, f.Severity)
					if f.Blocking() {
						report.blocking++
					}
				}
			}

			if len(docs) > 1 {
				dupes, err := trust.Duplicates(docs)
				if err != nil {
					return err
				}
				report.Duplicates = dupes
			}

			if err := report.render(); err != nil {
				return err
			}
			if report.blocking > 0 {
				return fmt.Errorf("lint failed: %d blocking finding(s)", report.blocking)
			}
			return nil
		},
	}

	return cmd
}

type lintReport struct {
	Findings   map[string][]trust.Finding `json:"findings"`
	Duplicates map[string][]string        `json:"duplicates,omitempty"`

	blocking int
}

func (r *lintReport) render() error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	paths := make([]string, 0, len(r.Findings))
	for path := range r.Findings {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		findings := r.Findings[path]
		if len(findings) == 0 {
			fmt.Printf("%s: ok\n", path)
			continue
		}
		fmt.Printf("%s:\n", path)
		for _, f := range findings {
			fmt.Printf("  [%s] %s at %s: %s\n", f.Severity, f.Rule, f.Path, f.Message)
		}
	}

	for hash, paths := range r.Duplicates {
		fmt.Printf("duplicate trust policy (%s):\n", hash[:12])
		for _, p := range paths {
			fmt.Printf("  %s\n", p)
		}
	}

	return nil
}
