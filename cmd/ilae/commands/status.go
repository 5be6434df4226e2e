package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status of a workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			run, err := app.engine.GetRunStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(run)
			}
			fmt.Println(runSummaryLine(run))
			if run.Plan != nil {
				fmt.Printf("  planned steps: %d across %d platforms\n", run.Plan.StepCount(), len(run.Plan.Lanes))
			}
			for _, outcome := range run.Outcomes {
				target := string(outcome.Step.Platform)
				if outcome.Step.Entitlement != nil {
					target = outcome.Step.Entitlement.Key()
				}
				fmt.Printf("  %-10s %-16s %s (attempts: %d)\n",
					outcome.Status, outcome.Step.Action, target, len(outcome.Attempts))
			}
			for _, msg := range run.Errors {
				fmt.Printf("  - %s\n", msg)
			}
			return nil
		},
	}
	return cmd
}
