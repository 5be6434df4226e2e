package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Raoof128/ILAE/pkg/engine"
)

func newSubmitCommand() *cobra.Command {
	var (
		identityKey  string
		kind         string
		name         string
		email        string
		department   string
		title        string
		manager      string
		contractType string
		prevDept     string
		source       string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a lifecycle transition and run it to completion",
		Long: `Submit a JOIN, MOVE, or LEAVE transition for an identity and execute it
synchronously. The run settles as completed, completed_with_errors, or
failed; partial failures never roll back the steps that succeeded.`,
		Example: `  # Onboard a new engineer
  ilae submit --identity EMP001 --kind JOIN --name "Ada Park" \
      --email ada.park@example.com --department engineering --title "Engineer"

  # Move an identity to another department
  ilae submit --identity EMP002 --kind MOVE --name "Sam Idris" \
      --email sam.idris@example.com --department finance --prev-department sales

  # Offboard an identity
  ilae submit --identity EMP003 --kind LEAVE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			req := engine.TransitionRequest{
				IdentityKey: identityKey,
				Kind:        engine.TransitionKind(kind),
				Attributes: engine.IdentityAttributes{
					DisplayName:  name,
					Email:        email,
					Department:   department,
					Title:        title,
					Manager:      manager,
					ContractType: contractType,
				},
				PreviousDepartment: prevDept,
				EffectiveAt:        time.Now().UTC(),
				Source:             source,
			}

			run, err := app.engine.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(run)
			}
			fmt.Println(runSummaryLine(run))
			for _, msg := range run.Errors {
				fmt.Printf("  - %s\n", msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&identityKey, "identity", "", "identity key (e.g. employee ID)")
	cmd.Flags().StringVar(&kind, "kind", "", "transition kind: JOIN, MOVE, or LEAVE")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "work email address")
	cmd.Flags().StringVar(&department, "department", "", "department")
	cmd.Flags().StringVar(&title, "title", "", "job title")
	cmd.Flags().StringVar(&manager, "manager", "", "manager identity key")
	cmd.Flags().StringVar(&contractType, "contract-type", "", "contract type (e.g. contractor)")
	cmd.Flags().StringVar(&prevDept, "prev-department", "", "department before a MOVE")
	cmd.Flags().StringVar(&source, "source", "cli", "source system of the event")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}
