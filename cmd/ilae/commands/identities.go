package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIdentitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "List known identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			identities, err := app.engine.ListIdentities(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(identities)
			}
			for _, identity := range identities {
				fmt.Printf("%-12s  %-10s  %-24s  %s\n",
					identity.Key, identity.Status,
					identity.Attributes.Department, identity.Attributes.Email)
			}
			return nil
		},
	}
	return cmd
}
