package cli

import (
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/issuer"
)

var signIssueFlags recordFlags
var signatureHex string

var signIssueCmd = &cobra.Command{
	Use:   "sign-issue [file|digest]",
	Short: "Issue a credential through an EIP-712 signature",
	Long: `Sign a credential record as the issuer and submit it with issueWithSignature.
The credential is attributed to the signer. With --signature, a signature produced
elsewhere (for example by a browser wallet over the output of typed-data) is
submitted instead, and the configured account only pays for the transaction.

Examples:
  credreg sign-issue diploma.pdf --name "Ada Lovelace" --course "Analytical Engines"
  credreg sign-issue --record record.json --signature 0x...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSignIssue,
}

func init() {
	signIssueFlags.register(signIssueCmd)
	signIssueCmd.Flags().StringVar(&signatureHex, "signature", "", "65-byte signature over the record, from typed-data")
	rootCmd.AddCommand(signIssueCmd)
}

func runSignIssue(cmd *cobra.Command, args []string) error {
	p, err := cfg.ProtocolVersion()
	if err != nil {
		return err
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	record, err := buildRecord(path, p, signIssueFlags)
	if err != nil {
		return err
	}

	anchor, closeAnchor, err := openAnchor(cmd, true)
	if err != nil {
		return err
	}
	defer closeAnchor()

	var signed *issuer.SignedCredential
	if signatureHex != "" {
		signed, err = externallySigned(anchor.TypedData, record, signatureHex)
	} else {
		signed, err = anchor.Sign(cmd.Context(), record)
	}
	if err != nil {
		return err
	}

	op, err := anchor.IssueSigned(cmd.Context(), signed)
	if err != nil {
		return err
	}
	return finish(cmd, anchor, op)
}
