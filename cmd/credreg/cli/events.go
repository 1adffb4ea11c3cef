package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/audit"
	"github.com/pilacorp/go-credential-registry/regerr"
)

var (
	eventsFrom uint64
	eventsTo   uint64
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the issuance and revocation history",
	Long: `Show recent Issued and Revoked events in block order. Without --from and --to the
last lookback_blocks blocks are scanned and the audit_window most recent events shown;
with an explicit range every event in it is listed.

Examples:
  credreg events
  credreg events --from 6000000 --to 6100000 --json`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsFrom, "from", 0, "first block of the range")
	eventsCmd.Flags().Uint64Var(&eventsTo, "to", 0, "last block of the range")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	anchor, closeAnchor, err := openAnchor(cmd, false)
	if err != nil {
		return err
	}
	defer closeAnchor()

	var events []audit.Event
	if eventsFrom == 0 && eventsTo == 0 {
		events, err = anchor.Audit(cmd.Context())
	} else {
		if eventsTo == 0 {
			return regerr.Input("--to is required with --from")
		}
		var issued, revoked []audit.Event
		issued, revoked, err = anchor.Client().FetchEvents(cmd.Context(), eventsFrom, eventsTo)
		events = audit.Timeline(issued, revoked)
	}
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		line := fmt.Sprintf("%-10d %-8s %s %s", e.BlockNumber, e.Kind, e.DocHash, e.Issuer.Hex())
		if e.IPFSCID != "" {
			line += " " + e.IPFSCID
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, "no events")
	}
	return output(cmd, events, strings.Join(lines, "\n"))
}
