package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Raoof128/ILAE/pkg/engine"
)

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a compliance report over the evidence corpus",
		Long: `Summarize every evidence chain: identities covered, step outcomes per
platform, settled runs per status. Each chain is verified as part of the
report; broken chains are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.chain.Report(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}

			fmt.Printf("identities:     %d\n", report.Identities)
			fmt.Printf("total records:  %d\n", report.TotalRecords)
			fmt.Printf("steps:          %d ok / %d failed / %d skipped\n",
				report.Steps.Succeeded, report.Steps.Failed, report.Steps.Skipped)

			if len(report.Runs) > 0 {
				fmt.Println("runs:")
				statuses := make([]string, 0, len(report.Runs))
				for status := range report.Runs {
					statuses = append(statuses, status)
				}
				sort.Strings(statuses)
				for _, status := range statuses {
					fmt.Printf("  %-24s %d\n", status, report.Runs[status])
				}
			}

			if len(report.Platforms) > 0 {
				fmt.Println("platforms:")
				platforms := make([]string, 0, len(report.Platforms))
				for platform := range report.Platforms {
					platforms = append(platforms, string(platform))
				}
				sort.Strings(platforms)
				for _, platform := range platforms {
					breakdown := report.Platforms[engine.Platform(platform)]
					fmt.Printf("  %-8s %d ok / %d failed / %d skipped\n",
						platform, breakdown.Succeeded, breakdown.Failed, breakdown.Skipped)
				}
			}

			if len(report.BrokenChains) > 0 {
				fmt.Println("broken chains:")
				for _, key := range report.BrokenChains {
					fmt.Printf("  %s\n", key)
				}
				return fmt.Errorf("%d evidence chains failed verification", len(report.BrokenChains))
			}
			return nil
		},
	}
	return cmd
}
