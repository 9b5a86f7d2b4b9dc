package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chainchat/models"
)

// ErrDeliveryFailed is returned by send when the message did not confirm.
var ErrDeliveryFailed = errors.New("message was not confirmed")

func newSendCommand() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message and wait for its on-chain confirmation.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			opts := appOptions{chain: true, logOut: cmd.ErrOrStderr()}
			if !assumeYes {
				opts.approve = promptApprove(cmd.InOrStdin(), out)
			}
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			controller := a.controller
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for notice := range controller.Notices() {
					printNotice(out, notice)
				}
			}()

			settled := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					controller.Stop()
				case <-settled:
				}
			}()

			finish := func() {
				close(settled)
				controller.Stop()
				<-printed
			}

			if _, err := controller.Connect(ctx); err != nil {
				finish()
				return err
			}

			msg, err := controller.Send(ctx, strings.Join(args, " "))
			if err != nil {
				finish()
				return err
			}
			controller.Wait()

			final, _ := controller.Message(msg.ID)
			finish()

			if final.Status != models.StatusConfirmed {
				return ErrDeliveryFailed
			}
			fmt.Fprintf(out, "Confirmed: %s\n", controller.ExplorerURL(final.TxHash))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Sign without asking for confirmation.")
	return cmd
}
