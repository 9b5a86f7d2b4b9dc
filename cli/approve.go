package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chainchat/wallet"
)

// promptApprove asks on out and reads the answer from in before every
// signature. Account requests are approved without asking.
func promptApprove(in io.Reader, out io.Writer) wallet.ApproveFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req wallet.Request) (bool, error) {
		if req.Kind != wallet.RequestSign {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		to := "contract creation"
		if req.To != nil {
			to = req.To.Hex()
		}
		value := "0"
		if req.Value != nil {
			value = req.Value.String()
		}
		fmt.Fprintf(out, "Sign transaction from %s to %s, value %s wei (%d bytes of data)? [y/N] ",
			req.Account.Hex(), to, value, len(req.Data))

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
