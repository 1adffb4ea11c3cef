package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	credregistry "github.com/pilacorp/go-credential-registry"
	"github.com/pilacorp/go-credential-registry/config"
	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/registry"
	"github.com/pilacorp/go-credential-registry/signer"
	"github.com/pilacorp/go-credential-registry/txtracker"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

// Ledger is the node surface the CLI needs: registry reads and transaction submission.
type Ledger interface {
	registry.Ledger
	signer.Backend
}

// now stamps credential records built from the command line.
var now = time.Now

// dialLedger connects to the configured node. Tests replace it.
var dialLedger = func(ctx context.Context, c *config.Config) (Ledger, func(), error) {
	client, err := registry.DialLedger(ctx, c.RPCURL, c.ChainID)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// openAnchor connects to the configured registry. withWallet also loads the configured signer.
func openAnchor(cmd *cobra.Command, withWallet bool) (*credregistry.Anchor, func(), error) {
	rc, err := cfg.Registry()
	if err != nil {
		return nil, nil, err
	}

	var provider signer.SignerProvider
	if withWallet {
		if provider, err = cfg.Signer.Provider(); err != nil {
			return nil, nil, err
		}
	}

	ledger, closeLedger, err := dialLedger(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}

	options := []credregistry.Option{
		credregistry.WithDomain(cfg.DomainName, cfg.DomainVersion),
		credregistry.WithMaxDocumentBytes(cfg.MaxDocumentBytes),
		credregistry.WithIssueDateSkew(cfg.IssueDateSkew),
		credregistry.WithRoleCheck(cfg.RoleCheck),
		credregistry.WithLogger(slog.Default()),
	}
	if provider != nil {
		wallet := signer.NewKeyWallet(provider, ledger, signer.WithLogger(slog.Default()))
		options = append(options, credregistry.WithWallet(wallet))
	}

	anchor, err := credregistry.New(ledger, rc, options...)
	if err != nil {
		closeLedger()
		return nil, nil, err
	}
	return anchor, func() {
		anchor.Close()
		closeLedger()
	}, nil
}

// resolveDigest accepts either a 0x-prefixed digest or a path to fingerprint.
func resolveDigest(arg string) (fingerprint.Digest, error) {
	if strings.HasPrefix(arg, "0x") && len(arg) == 2+2*fingerprint.Size {
		if _, err := os.Stat(arg); err != nil {
			return fingerprint.Parse(arg)
		}
	}
	return fingerprint.FromFile(arg, cfg.MaxDocumentBytes)
}

// buildRecord reads the credential record from --record, or builds one for the document at path.
func buildRecord(path string, p typedcredential.Protocol, f recordFlags) (typedcredential.Record, error) {
	if f.recordFile != "" {
		data, err := os.ReadFile(f.recordFile)
		if err != nil {
			return typedcredential.Record{}, regerr.Wrap(regerr.CodeIO, err, "failed to read record file")
		}
		return typedcredential.ParseRecordJSON(data, p)
	}

	if path == "" {
		return typedcredential.Record{}, regerr.Input("a document or --record is required")
	}
	digest, err := resolveDigest(path)
	if err != nil {
		return typedcredential.Record{}, err
	}
	record := typedcredential.NewRecord(digest, f.studentName, f.course, now())
	if f.ipfsCID != "" {
		record = record.WithIPFSCID(f.ipfsCID)
	}
	return record, nil
}

type recordFlags struct {
	studentName string
	course      string
	ipfsCID     string
	recordFile  string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.studentName, "name", "", "student name")
	cmd.Flags().StringVar(&f.course, "course", "", "course")
	cmd.Flags().StringVar(&f.ipfsCID, "cid", "", "IPFS CID of the document (protocol v2)")
	cmd.Flags().StringVar(&f.recordFile, "record", "", "JSON file holding the full credential record")
}

type txResult struct {
	Operation   txtracker.Operation `json:"operation"`
	DocHash     fingerprint.Digest  `json:"docHash"`
	TxHash      common.Hash         `json:"txHash"`
	State       string              `json:"state"`
	BlockNumber uint64              `json:"blockNumber,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// finish waits for op according to --wait and reports its state.
func finish(cmd *cobra.Command, anchor *credregistry.Anchor, op *credregistry.Operation) error {
	res := txResult{Operation: op.Kind, DocHash: op.DocHash, TxHash: op.Handle.TxHash}

	var err error
	if wait > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()

		var outcome *txtracker.Outcome
		outcome, err = anchor.Await(ctx, op)
		if outcome != nil {
			res.BlockNumber = outcome.BlockNumber
		}
		if err != nil {
			res.Error = regerr.Reason(err)
		}
	}
	res.State = op.State().String()

	text := fmt.Sprintf("%s %s: %s (tx %s)", op.Kind, op.DocHash, res.State, res.TxHash.Hex())
	if res.BlockNumber > 0 {
		text += fmt.Sprintf(" in block %d", res.BlockNumber)
	}
	if errors.Is(err, regerr.ErrUnresolved) {
		text += "; still pending, check again later"
	}
	if printErr := output(cmd, res, text); printErr != nil {
		return printErr
	}
	return err
}

func output(cmd *cobra.Command, v any, text string) error {
	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
