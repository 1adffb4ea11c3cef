package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/registry"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file|digest>",
	Short: "Check a document against the registry",
	Long: `Look up the registry record for a document or a 0x-prefixed digest.
No signer is needed.

Examples:
  credreg verify diploma.pdf
  credreg verify 0x9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

type verifyResult struct {
	DocHash fingerprint.Digest `json:"docHash"`
	Valid   bool               `json:"valid"`
	registry.VerificationResult
}

func runVerify(cmd *cobra.Command, args []string) error {
	digest, err := resolveDigest(args[0])
	if err != nil {
		return err
	}

	anchor, closeAnchor, err := openAnchor(cmd, false)
	if err != nil {
		return err
	}
	defer closeAnchor()

	res, err := anchor.Verify(cmd.Context(), digest)
	if err != nil {
		return err
	}

	var text string
	switch {
	case !res.Issued:
		text = fmt.Sprintf("%s: not issued", digest)
	case res.Revoked:
		text = fmt.Sprintf("%s: REVOKED (issued at %d by %s)", digest, res.IssuedAt, res.Issuer.Hex())
	default:
		text = fmt.Sprintf("%s: valid, issued at %d by %s", digest, res.IssuedAt, res.Issuer.Hex())
	}
	if res.IPFSCID != "" {
		text += ", ipfs " + res.IPFSCID
	}
	return output(cmd, verifyResult{DocHash: digest, Valid: res.Valid(), VerificationResult: *res}, text)
}
