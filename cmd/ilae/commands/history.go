package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var runsOnly bool

	cmd := &cobra.Command{
		Use:   "history <identity>",
		Short: "Show an identity's evidence chain",
		Long: `Show an identity's evidence chain in order: one record per step attempt,
one per terminal step outcome, and one per settled run. With --runs, list
the identity's workflow runs instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if runsOnly {
				runs, err := app.store.ListRuns(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(runs)
				}
				for _, run := range runs {
					fmt.Println(runSummaryLine(run))
				}
				return nil
			}

			records, err := app.engine.GetIdentityHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}
			for _, record := range records {
				line := fmt.Sprintf("%4d  %-11s  %s", record.Sequence, record.Kind,
					record.RecordedAt.Format("2006-01-02 15:04:05"))
				if record.Kind != "run_summary" {
					line += fmt.Sprintf("  %-8s %-16s", record.Platform, record.Action)
				}
				if record.Outcome != "" {
					line += "  " + string(record.Outcome)
				}
				if record.Summary != nil {
					line += fmt.Sprintf("  %s (%d ok / %d failed / %d skipped)",
						record.Detail["status"], record.Summary.Succeeded,
						record.Summary.Failed, record.Summary.Skipped)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&runsOnly, "runs", false, "list workflow runs instead of evidence")
	return cmd
}
