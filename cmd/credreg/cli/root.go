// Package cli implements the credreg command-line interface using Cobra.
// It fingerprints documents, issues and revokes credentials, and verifies and audits them
// against a configured registry deployment.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-credential-registry/config"
	"github.com/pilacorp/go-credential-registry/internal/log"
)

var (
	verbose    bool
	jsonOut    bool
	configPath string
	rpcURL     string
	wait       time.Duration

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "credreg",
	Short: "Anchor and verify document credentials on-chain",
	Long: `credreg binds the SHA-256 fingerprint of a document to a credential registry
contract and verifies it later.

Settings come from ~/.credreg/config.yaml (or --config) and CREDREG_* environment
variables. The signing key is read from the variable named by signer.private_key_env,
CREDREG_PRIVATE_KEY by default.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut,
			Stderr:     cmd.ErrOrStderr(),
		})

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if rpcURL != "" {
			loaded.RPCURL = rpcURL
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.credreg/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "JSON-RPC endpoint (env: CREDREG_RPC_URL)")
	rootCmd.PersistentFlags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for a submitted transaction; 0 returns once it is sent")
}
