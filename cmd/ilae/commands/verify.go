package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [identity]",
		Short: "Verify evidence chain integrity",
		Long: `Recompute an identity's evidence chain from its first record and report
the first divergence, if any. With --all, verify every identity's chain.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			var keys []string
			switch {
			case all:
				identities, err := app.engine.ListIdentities(cmd.Context())
				if err != nil {
					return err
				}
				for _, identity := range identities {
					keys = append(keys, identity.Key)
				}
			case len(args) == 1:
				keys = args
			default:
				return fmt.Errorf("an identity argument or --all is required")
			}

			broken := 0
			for _, key := range keys {
				if err := app.engine.VerifyEvidence(cmd.Context(), key); err != nil {
					broken++
					fmt.Printf("BROKEN  %s: %v\n", key, err)
					continue
				}
				fmt.Printf("ok      %s\n", key)
			}
			if broken > 0 {
				return fmt.Errorf("%d of %d chains failed verification", broken, len(keys))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "verify every identity's chain")
	return cmd
}
