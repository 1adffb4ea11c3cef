// Package config loads credreg settings from ~/.credreg/config.yaml (or an explicit file) and
// CREDREG_* environment variables, in that order of precedence from lowest to highest.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/pilacorp/go-credential-registry/audit"
	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/registry"
	"github.com/pilacorp/go-credential-registry/signer"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CREDREG_"

// Config holds the settings of one registry deployment and the signer used against it.
type Config struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id"`
	// ContractAddress defaults to the v1 Sepolia deployment for protocol v1 and is required for
	// protocol v2.
	ContractAddress string `yaml:"contract_address"`
	Protocol        string `yaml:"protocol"`
	DomainName      string `yaml:"domain_name"`
	DomainVersion   string `yaml:"domain_version"`

	Confirmations  uint64        `yaml:"confirmations"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	TxTimeout      time.Duration `yaml:"tx_timeout"`
	LookbackBlocks uint64        `yaml:"lookback_blocks"`
	MaxLogRange    uint64        `yaml:"max_log_range"`
	AuditWindow    int           `yaml:"audit_window"`

	MaxDocumentBytes int64         `yaml:"max_document_bytes"`
	IssueDateSkew    time.Duration `yaml:"issue_date_skew"`
	RoleCheck        bool          `yaml:"role_check"`

	Signer SignerConfig `yaml:"signer"`
}

// SignerConfig selects the key that signs credentials and transactions. Secrets are never stored
// in the file, only the names of the environment variables holding them.
type SignerConfig struct {
	PrivateKeyEnv   string `yaml:"private_key_env"`
	RemoteEndpoint  string `yaml:"remote_endpoint"`
	RemoteAPIKeyEnv string `yaml:"remote_api_key_env"`
	Address         string `yaml:"address"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RPCURL:           registry.DefaultRPCURL,
		ChainID:          registry.DefaultChainID,
		Protocol:         typedcredential.ProtocolV1.String(),
		DomainName:       typedcredential.DefaultDomainName,
		DomainVersion:    typedcredential.DefaultDomainVersion,
		Confirmations:    registry.DefaultConfirmations,
		PollInterval:     registry.DefaultPollInterval,
		TxTimeout:        registry.DefaultTxTimeout,
		LookbackBlocks:   registry.DefaultLookbackBlocks,
		MaxLogRange:      registry.DefaultMaxLogRange,
		MaxDocumentBytes: fingerprint.DefaultMaxDocumentBytes,
		IssueDateSkew:    typedcredential.DefaultIssueDateSkew,
		Signer: SignerConfig{
			PrivateKeyEnv:   EnvPrefix + "PRIVATE_KEY",
			RemoteAPIKeyEnv: EnvPrefix + "REMOTE_SIGNER_API_KEY",
		},
	}
}

// Dir returns the path to ~/.credreg.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".credreg")
	}
	return filepath.Join(homeDir, ".credreg")
}

// Load reads the config file at path and applies environment overrides. An empty path reads
// ~/.credreg/config.yaml if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(Dir(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, regerr.Input("invalid config file %s: %v", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, regerr.Wrap(regerr.CodeIO, err, "failed to read config file")
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from CREDREG_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("RPC_URL", &c.RPCURL)
	str("CONTRACT_ADDRESS", &c.ContractAddress)
	str("PROTOCOL", &c.Protocol)
	str("DOMAIN_NAME", &c.DomainName)
	str("DOMAIN_VERSION", &c.DomainVersion)
	str("REMOTE_SIGNER", &c.Signer.RemoteEndpoint)
	str("SIGNER_ADDRESS", &c.Signer.Address)

	if v, ok := lookup(EnvPrefix + "CHAIN_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return regerr.Input("invalid %sCHAIN_ID %q", EnvPrefix, v)
		}
		c.ChainID = id
	}
	if v, ok := lookup(EnvPrefix + "CONFIRMATIONS"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return regerr.Input("invalid %sCONFIRMATIONS %q", EnvPrefix, v)
		}
		c.Confirmations = n
	}
	if v, ok := lookup(EnvPrefix + "POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return regerr.Input("invalid %sPOLL_INTERVAL %q", EnvPrefix, v)
		}
		c.PollInterval = d
	}
	if v, ok := lookup(EnvPrefix + "AUDIT_WINDOW"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > audit.DefaultWindow {
			return regerr.Input("invalid %sAUDIT_WINDOW %q, must be between 1 and %d", EnvPrefix, v, audit.DefaultWindow)
		}
		c.AuditWindow = n
	}
	if v, ok := lookup(EnvPrefix + "ROLE_CHECK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return regerr.Input("invalid %sROLE_CHECK %q", EnvPrefix, v)
		}
		c.RoleCheck = b
	}
	return nil
}

// ProtocolVersion parses the configured protocol.
func (c *Config) ProtocolVersion() (typedcredential.Protocol, error) {
	p, err := typedcredential.ParseProtocol(c.Protocol)
	if err != nil {
		return 0, regerr.Input("%v", err)
	}
	return p, nil
}

// Registry converts c into a validated registry client config.
func (c *Config) Registry() (*registry.Config, error) {
	p, err := c.ProtocolVersion()
	if err != nil {
		return nil, err
	}

	address := c.ContractAddress
	if address == "" && p == typedcredential.ProtocolV1 {
		address = registry.DefaultV1ContractAddress
	}

	rc := &registry.Config{
		RPCURL:          c.RPCURL,
		ChainID:         c.ChainID,
		ContractAddress: address,
		Protocol:        p,
		LookbackBlocks:  c.LookbackBlocks,
		MaxLogRange:     c.MaxLogRange,
		AuditWindow:     c.AuditWindow,
		Confirmations:   c.Confirmations,
		PollInterval:    c.PollInterval,
		TxTimeout:       c.TxTimeout,
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// Provider builds the configured signer: the remote signing API when an endpoint is set,
// otherwise the private key held in the PrivateKeyEnv variable.
func (s SignerConfig) Provider() (signer.SignerProvider, error) {
	if s.RemoteEndpoint != "" {
		if !common.IsHexAddress(s.Address) {
			return nil, regerr.Input("signer address is required with a remote signer")
		}
		return signer.NewRemoteSigner(s.RemoteEndpoint, os.Getenv(s.RemoteAPIKeyEnv), common.HexToAddress(s.Address))
	}

	if s.PrivateKeyEnv == "" {
		return nil, regerr.New(regerr.CodeWalletNotConnected, "no signer is configured")
	}
	key := os.Getenv(s.PrivateKeyEnv)
	if key == "" {
		return nil, regerr.New(regerr.CodeWalletNotConnected, "%s is not set", s.PrivateKeyEnv)
	}
	provider, err := signer.NewDefaultProvider(key)
	if err != nil {
		return nil, regerr.Input("%s: %v", s.PrivateKeyEnv, err)
	}
	return provider, nil
}
