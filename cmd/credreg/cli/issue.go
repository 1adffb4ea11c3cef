package cli

import (
	"github.com/spf13/cobra"
)

var issueCmd = &cobra.Command{
	Use:   "issue <file|digest>",
	Short: "Anchor a document from the configured issuer account",
	Long: `Issue a credential for a document directly. The configured signer must hold
ISSUER_ROLE and pays for the transaction.

Examples:
  credreg issue diploma.pdf
  credreg issue --wait 0 0x9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08`,
	Args: cobra.ExactArgs(1),
	RunE: runIssue,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <file|digest>",
	Short: "Revoke an issued credential",
	Long: `Mark an issued credential as revoked. The configured signer must hold ISSUER_ROLE.

Examples:
  credreg revoke diploma.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func init() {
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(revokeCmd)
}

func runIssue(cmd *cobra.Command, args []string) error {
	digest, err := resolveDigest(args[0])
	if err != nil {
		return err
	}

	anchor, closeAnchor, err := openAnchor(cmd, true)
	if err != nil {
		return err
	}
	defer closeAnchor()

	op, err := anchor.Issue(cmd.Context(), digest)
	if err != nil {
		return err
	}
	return finish(cmd, anchor, op)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	digest, err := resolveDigest(args[0])
	if err != nil {
		return err
	}

	anchor, closeAnchor, err := openAnchor(cmd, true)
	if err != nil {
		return err
	}
	defer closeAnchor()

	op, err := anchor.Revoke(cmd.Context(), digest)
	if err != nil {
		return err
	}
	return finish(cmd, anchor, op)
}
