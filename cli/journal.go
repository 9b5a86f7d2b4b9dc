package cli

import (
	"time"

	"github.com/spf13/cobra"

	"chainchat/storage"
)

func newJournalCommand() *cobra.Command {
	var (
		filter storage.JournalFilter
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List submitted transactions and their outcomes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{logOut: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.ListJournal(filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printJournal(cmd.OutOrStdout(), entries, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only show entries with this status (pending, confirmed, failed).")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of entries.")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Number of entries to skip.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON.")
	return cmd
}
