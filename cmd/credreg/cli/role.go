package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/regerr"
)

var roleCmd = &cobra.Command{
	Use:   "role [address]",
	Short: "Check whether an account holds ISSUER_ROLE",
	Long: `Report whether an account may issue and revoke credentials directly. Without an
address the configured signer's account is checked.

Examples:
  credreg role 0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRole,
}

func init() {
	rootCmd.AddCommand(roleCmd)
}

type roleResult struct {
	Account common.Address `json:"account"`
	Issuer  bool           `json:"issuer"`
}

func runRole(cmd *cobra.Command, args []string) error {
	var account common.Address
	if len(args) == 1 {
		if !common.IsHexAddress(args[0]) {
			return regerr.Input("invalid address %q", args[0])
		}
		account = common.HexToAddress(args[0])
	} else {
		provider, err := cfg.Signer.Provider()
		if err != nil {
			return err
		}
		account = common.HexToAddress(provider.GetAddress())
	}

	anchor, closeAnchor, err := openAnchor(cmd, false)
	if err != nil {
		return err
	}
	defer closeAnchor()

	ok, err := anchor.Client().IsIssuer(cmd.Context(), account)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("%s holds ISSUER_ROLE", account.Hex())
	if !ok {
		text = fmt.Sprintf("%s does not hold ISSUER_ROLE", account.Hex())
	}
	return output(cmd, roleResult{Account: account, Issuer: ok}, text)
}
