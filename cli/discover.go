package cli

import (
	"time"

	"github.com/spf13/cobra"

	"chainchat/discovery"
)

func newDiscoverCommand() *cobra.Command {
	var (
		timeout time.Duration
		all     bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List chainchat API nodes advertised on the local network.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{logOut: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := discovery.Config{
				InstanceID:      a.cfg.InstanceID,
				ScanTimeout:     timeout,
				RefreshInterval: time.Hour,
			}
			if !all {
				cfg.Contract = a.cfg.ContractAddress
				cfg.ChainID = uint64(a.cfg.ChainID)
			}
			scanner, err := discovery.NewNodeScanner(cfg)
			if err != nil {
				return err
			}
			if err := scanner.Start(); err != nil {
				return err
			}
			defer scanner.Stop()

			if err := scanner.Refresh(cmd.Context()); err != nil {
				return err
			}

			nodes := scanner.ListNodes()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), nodes)
			}
			printNodes(cmd.OutOrStdout(), nodes, a.cfg.ContractAddress, uint64(a.cfg.ChainID))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for announcements.")
	cmd.Flags().BoolVar(&all, "all", false, "Include nodes on other contracts or chains.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print nodes as JSON.")
	return cmd
}
