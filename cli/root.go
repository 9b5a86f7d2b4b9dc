package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"chainchat/config"
)

// Version is the build version, set with -ldflags "-X chainchat/cli.Version=...".
var Version = "dev"

// Flag variables.
var (
	dataDir string
)

// NewRootCommand builds the chainchat command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chainchat",
		Short:         "Send and read messages stored by an on-chain messenger contract.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dataDir != "" {
				return os.Setenv(config.DataDirEnv, dataDir)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"Data directory holding config.yaml, the database and the wallet key. "+
			"Overrides "+config.DataDirEnv+".")

	root.AddCommand(
		newAccountCommand(),
		newSendCommand(),
		newHistoryCommand(),
		newJournalCommand(),
		newServeCommand(),
		newDiscoverCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
