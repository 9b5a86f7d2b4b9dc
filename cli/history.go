package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Fetch and print messages from the retention window.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{chain: true, logOut: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.controller.Refresh(cmd.Context()); err != nil {
				return err
			}

			now := time.Now()
			messages := a.controller.Messages(now)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), messages)
			}
			printMessages(cmd.OutOrStdout(), messages, now)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON.")
	return cmd
}
