package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"chainchat/config"
	"chainchat/crypto"
	"chainchat/wallet"
)

func newAccountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show the wallet account, creating the key file on first run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{logOut: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			source := a.cfg.KeyPath
			var address common.Address
			if hexKey := strings.TrimSpace(os.Getenv(config.PrivateKeyEnv)); hexKey != "" {
				provider, err := wallet.NewKeyProviderFromHex(hexKey, nil)
				if err != nil {
					return fmt.Errorf("%s: %w", config.PrivateKeyEnv, err)
				}
				address = provider.Address()
				source = config.PrivateKeyEnv
			} else {
				key, created, err := crypto.EnsureWalletKey(a.cfg.KeyPath, os.Getenv(config.KeyPassphraseEnv))
				if err != nil {
					return fmt.Errorf("prepare wallet key: %w", err)
				}
				if created {
					a.logger.Info("wallet key created", "path", a.cfg.KeyPath)
				}
				address = ethcrypto.PubkeyToAddress(key.PublicKey)
			}

			fmt.Fprintf(out, "Account:         %s\n", address.Hex())
			fmt.Fprintf(out, "Fingerprint:     %s\n", crypto.FormatFingerprint(crypto.AddressFingerprint(address)))
			fmt.Fprintf(out, "Key Source:      %s\n", source)
			fmt.Fprintf(out, "Instance ID:     %s\n", a.cfg.InstanceID)
			fmt.Fprintf(out, "Contract:        %s (%s)\n", a.cfg.ContractAddress, a.cfg.ContractVariant)
			fmt.Fprintf(out, "RPC:             %s\n", a.cfg.RPCURL)
			fmt.Fprintf(out, "Config File:     %s\n", a.cfgPath)
			fmt.Fprintf(out, "Data Directory:  %s\n", a.dataDir)
			return nil
		},
	}
}
