package registry

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-credential-registry/audit"
	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

const (
	// DefaultChainID is Sepolia, where the v1 registry is deployed.
	DefaultChainID int64 = 11155111
	// DefaultRPCURL is a public Sepolia endpoint.
	DefaultRPCURL = "https://gateway.tenderly.co/public/sepolia"
	// DefaultV1ContractAddress is the v1 registry deployment on Sepolia.
	DefaultV1ContractAddress = "0x0C6Fe5983595528E2B27294bc6b9a5C7736989EB"

	DefaultLookbackBlocks uint64 = 5000
	DefaultMaxLogRange    uint64 = 5000
	DefaultConfirmations  uint64 = 1
	DefaultPollInterval          = 4 * time.Second
	DefaultTxTimeout             = 10 * time.Minute
)

// Config holds configuration for the registry Client.
type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	Protocol        typedcredential.Protocol

	// LookbackBlocks is how far back RecentEvents looks from the head block.
	LookbackBlocks uint64
	// MaxLogRange is the widest block range requested in one eth_getLogs call.
	MaxLogRange uint64
	// AuditWindow is the number of events RecentEvents returns, at most audit.DefaultWindow.
	AuditWindow int

	Confirmations uint64
	PollInterval  time.Duration
	// TxTimeout fails a transaction that is not mined in time. Zero waits indefinitely.
	TxTimeout time.Duration
}

// DefaultConfig returns the v1 Sepolia deployment configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		RPCURL:          DefaultRPCURL,
		ChainID:         DefaultChainID,
		ContractAddress: DefaultV1ContractAddress,
		Protocol:        typedcredential.ProtocolV1,
		TxTimeout:       DefaultTxTimeout,
	}
	cfg.Standardize()
	return cfg
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if !c.Protocol.Valid() {
		return regerr.Input("unsupported registry protocol %s", c.Protocol)
	}
	if !common.IsHexAddress(c.ContractAddress) || common.HexToAddress(c.ContractAddress) == (common.Address{}) {
		return regerr.Input("contract address is required for protocol %s", c.Protocol)
	}
	if c.ChainID <= 0 {
		return regerr.Input("chain ID must be greater than 0, it's required")
	}
	if c.AuditWindow < 0 || c.AuditWindow > audit.DefaultWindow {
		return regerr.Input("audit window must be between 1 and %d", audit.DefaultWindow)
	}
	return nil
}

// Standardize sets default values for optional fields.
func (c *Config) Standardize() {
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = DefaultLookbackBlocks
	}
	if c.MaxLogRange == 0 {
		c.MaxLogRange = DefaultMaxLogRange
	}
	if c.AuditWindow == 0 {
		c.AuditWindow = audit.DefaultWindow
	}
	if c.Confirmations == 0 {
		c.Confirmations = DefaultConfirmations
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Address returns the contract address.
func (c *Config) Address() common.Address {
	return common.HexToAddress(c.ContractAddress)
}
