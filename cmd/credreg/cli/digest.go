package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/fingerprint"
)

var digestCmd = &cobra.Command{
	Use:   "digest <file>...",
	Short: "Print the fingerprint of documents",
	Long: `Compute the SHA-256 fingerprint the registry stores for each document.
No network access is needed.

Examples:
  credreg digest diploma.pdf
  credreg digest --json a.pdf b.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDigest,
}

func init() {
	rootCmd.AddCommand(digestCmd)
}

type digestResult struct {
	Path   string             `json:"path"`
	Digest fingerprint.Digest `json:"digest"`
}

func runDigest(cmd *cobra.Command, args []string) error {
	results := make([]digestResult, 0, len(args))
	lines := make([]string, 0, len(args))
	for _, path := range args {
		d, err := fingerprint.FromFile(path, cfg.MaxDocumentBytes)
		if err != nil {
			return err
		}
		results = append(results, digestResult{Path: path, Digest: d})
		lines = append(lines, fmt.Sprintf("%s  %s", d.Hex(), path))
	}
	return output(cmd, results, strings.Join(lines, "\n"))
}
