package cli

import (
	"encoding/json"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/issuer"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

var typedDataFlags recordFlags

var typedDataCmd = &cobra.Command{
	Use:   "typed-data [file|digest]",
	Short: "Print the EIP-712 payload for a credential",
	Long: `Print the eth_signTypedData_v4 payload for a credential record under the
configured registry's domain, for signing with an external wallet. No network access
is needed. Pass the resulting signature to sign-issue --signature together with the
same record.

Examples:
  credreg typed-data diploma.pdf --name "Ada Lovelace" --course "Analytical Engines"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTypedData,
}

func init() {
	typedDataFlags.register(typedDataCmd)
	rootCmd.AddCommand(typedDataCmd)
}

func runTypedData(cmd *cobra.Command, args []string) error {
	p, err := cfg.ProtocolVersion()
	if err != nil {
		return err
	}
	rc, err := cfg.Registry()
	if err != nil {
		return err
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	record, err := buildRecord(path, p, typedDataFlags)
	if err != nil {
		return err
	}

	encoder, err := typedcredential.NewEncoder(p, typedcredential.WithIssueDateSkew(cfg.IssueDateSkew))
	if err != nil {
		return err
	}
	domain := typedcredential.NewDomain(big.NewInt(rc.ChainID), rc.Address())
	domain.Name = cfg.DomainName
	domain.Version = cfg.DomainVersion

	encoded, err := encoder.Encode(domain, record)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(encoded)
}

// externallySigned pairs a signature produced outside credreg with the record it covers.
func externallySigned(encode func(typedcredential.Record) (*typedcredential.EncodedCredential, error), record typedcredential.Record, sigHex string) (*issuer.SignedCredential, error) {
	encoded, err := encode(record)
	if err != nil {
		return nil, err
	}
	sig, err := issuer.SignatureFromHex(sigHex)
	if err != nil {
		return nil, err
	}
	signerAddr, err := sig.Recover(encoded.Hash)
	if err != nil {
		return nil, err
	}
	return &issuer.SignedCredential{Credential: encoded, Signature: sig, Signer: signerAddr}, nil
}
