// Package registry is the client for the on-chain credential registry.
//
// Writes (IssueDirect, Revoke, IssueWithSignature) are simulated with eth_call from the
// connected account first, so reverts such as an already-issued digest are reported before the
// wallet is asked for anything. Accepted submissions return a txtracker.Handle; the client never
// assumes success before that handle confirms. Reads (Verify, HasRole, events) need no wallet.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/issuer"
	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/signer"
	"github.com/pilacorp/go-credential-registry/txtracker"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

const tracerName = "github.com/pilacorp/go-credential-registry/registry"

// Ledger is the node surface the client reads from. *ethclient.Client satisfies it.
type Ledger interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// VerificationResult is the registry's record for one digest.
type VerificationResult struct {
	Issued   bool           `json:"issued"`
	Revoked  bool           `json:"revoked"`
	IssuedAt uint64         `json:"issuedAt"`
	Issuer   common.Address `json:"issuer"`
	// IPFSCID is only reported by protocol v2 registries.
	IPFSCID string `json:"ipfsCid,omitempty"`
}

// Valid reports whether the credential is issued and not revoked.
func (r VerificationResult) Valid() bool {
	return r.Issued && !r.Revoked
}

// Option configures a Client.
type Option func(*Client)

// WithWallet binds the wallet that signs and pays for writes.
func WithWallet(w signer.TxSender) Option {
	return func(c *Client) { c.wallet = w }
}

// WithTracker replaces the transaction tracker built from the config.
func WithTracker(t *txtracker.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithTrackerOptions adds options to the tracker built from the config, applied after the
// config-derived ones. It has no effect together with WithTracker.
func WithTrackerOptions(options ...txtracker.Option) Option {
	return func(c *Client) { c.trackerOptions = append(c.trackerOptions, options...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client talks to one registry deployment speaking one protocol version.
type Client struct {
	cfg      *Config
	address  common.Address
	abi      abi.ABI
	ledger   Ledger
	contract *bind.BoundContract
	wallet   signer.TxSender
	tracker  *txtracker.Tracker
	log      *slog.Logger

	trackerOptions []txtracker.Option

	// trackCtx bounds receipt polling; it ends with Close.
	trackCtx context.Context
	stop     context.CancelFunc
}

// NewClient creates a client over ledger.
func NewClient(ledger Ledger, cfg *Config, options ...Option) (*Client, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	contractABI, err := ABI(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		address: cfg.Address(),
		abi:     contractABI,
		ledger:  ledger,
		log:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	c.contract = bind.NewBoundContract(c.address, contractABI, ledger, nil, nil)
	if c.tracker == nil {
		trackerOptions := append([]txtracker.Option{
			txtracker.WithConfirmations(cfg.Confirmations),
			txtracker.WithPollInterval(cfg.PollInterval),
			txtracker.WithMaxWait(cfg.TxTimeout),
			txtracker.WithLogger(c.log),
		}, c.trackerOptions...)
		c.tracker = txtracker.New(ledger, trackerOptions...)
	}
	c.log = c.log.With("registry", c.address.Hex(), "protocol", cfg.Protocol.String())
	c.trackCtx, c.stop = context.WithCancel(context.Background())

	return c, nil
}

// Close stops polling for every pending handle. Handles that were still pending stay pending.
func (c *Client) Close() {
	c.stop()
}

// Protocol returns the protocol version the client is configured for.
func (c *Client) Protocol() typedcredential.Protocol {
	return c.cfg.Protocol
}

// Address returns the registry contract address.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int {
	return big.NewInt(c.cfg.ChainID)
}

// Tracker returns the tracker following this client's submissions.
func (c *Client) Tracker() *txtracker.Tracker {
	return c.tracker
}

// Await waits for h with the caller's deadline. See txtracker.Handle.Await.
func (c *Client) Await(ctx context.Context, h *txtracker.Handle) (*txtracker.Outcome, error) {
	return c.tracker.Await(ctx, h)
}

// IssueDirect anchors digest, signed and paid for by the connected account.
func (c *Client) IssueDirect(ctx context.Context, digest fingerprint.Digest) (*txtracker.Handle, error) {
	if digest.IsZero() {
		return nil, regerr.Input("docHash is required")
	}
	return c.submit(ctx, txtracker.OpIssue, digest, MethodIssue, digest.Bytes32())
}

// Revoke marks digest as revoked.
func (c *Client) Revoke(ctx context.Context, digest fingerprint.Digest) (*txtracker.Handle, error) {
	if digest.IsZero() {
		return nil, regerr.Input("docHash is required")
	}
	return c.submit(ctx, txtracker.OpRevoke, digest, MethodRevoke, digest.Bytes32())
}

// IssueWithSignature submits a delegated issuance. The connected account pays; the credential is
// attributed to whoever signed it. A signature the contract does not accept is reported as
// SignatureRejectedOnChain.
func (c *Client) IssueWithSignature(ctx context.Context, signed *issuer.SignedCredential) (*txtracker.Handle, error) {
	if signed == nil || signed.Credential == nil {
		return nil, regerr.Input("signed credential is required")
	}
	cred := signed.Credential
	if cred.Protocol != c.cfg.Protocol {
		return nil, regerr.Input("credential was signed for %s, registry speaks %s", cred.Protocol, c.cfg.Protocol)
	}
	if cred.Domain.VerifyingContract != c.address || cred.Domain.ChainID.Cmp(c.ChainID()) != 0 {
		return nil, regerr.Input("credential was signed for registry %s on chain %v", cred.Domain.VerifyingContract.Hex(), cred.Domain.ChainID)
	}

	sig := signed.Signature
	return c.submit(ctx, txtracker.OpIssueWithSignature, cred.Record.DocHash, MethodIssueWithSignature,
		credentialTuple(c.cfg.Protocol, cred.Record), sig.V, sig.R, sig.S)
}

func (c *Client) submit(ctx context.Context, op txtracker.Operation, digest fingerprint.Digest, method string, args ...any) (_ *txtracker.Handle, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry."+method)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, regerr.Reason(err))
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("doc_hash", digest.Hex()), attribute.String("op", string(op)))

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, regerr.Input("failed to encode %s call: %v", method, err)
	}

	from, err := c.account(ctx)
	if err != nil {
		return nil, err
	}

	// Simulate first so reverts surface before the wallet prompts.
	msg := ethereum.CallMsg{From: from, To: &c.address, Data: data}
	if _, err := c.ledger.CallContract(ctx, msg, nil); err != nil {
		err = classifyCallError(c.abi, method, err)
		c.log.WarnContext(ctx, "pre-flight call reverted", "op", string(op), "doc_hash", digest.Hex(), "error", err)
		return nil, err
	}

	hash, err := c.wallet.SendTransaction(ctx, c.address, data)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			return nil, regerr.Wrap(regerr.CodeTransactionRejected, err, "transaction declined in wallet")
		}
		return nil, classifyCallError(c.abi, method, err)
	}

	span.SetAttributes(attribute.String("tx_hash", hash.Hex()))
	c.log.InfoContext(ctx, "transaction submitted", "op", string(op), "doc_hash", digest.Hex(), "tx_hash", hash.Hex(), "from", from.Hex())

	return c.tracker.Track(c.trackCtx, op, hash, c.revertReason(method, msg)), nil
}

// account returns the connected account after checking the wallet is on the registry's chain.
func (c *Client) account(ctx context.Context) (common.Address, error) {
	if c.wallet == nil {
		return common.Address{}, regerr.New(regerr.CodeWalletNotConnected, "no wallet is connected")
	}

	accounts, err := c.wallet.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			return common.Address{}, regerr.Wrap(regerr.CodeWalletNotConnected, err, "account access was declined")
		}
		return common.Address{}, regerr.Wrap(regerr.CodeWalletNotConnected, err, "failed to access wallet accounts")
	}
	if len(accounts) == 0 {
		return common.Address{}, regerr.New(regerr.CodeWalletNotConnected, "wallet exposes no accounts")
	}

	chainID, err := c.wallet.ChainID(ctx)
	if err != nil {
		return common.Address{}, regerr.Wrap(regerr.CodeWalletNotConnected, err, "failed to read the wallet's network")
	}
	if chainID.Cmp(c.ChainID()) != 0 {
		return common.Address{}, regerr.New(regerr.CodeNetworkMismatch, "wallet is on chain %v, registry is on chain %d", chainID, c.cfg.ChainID)
	}

	return accounts[0], nil
}

// revertReason replays a reverted call at its block to recover why it failed.
func (c *Client) revertReason(method string, msg ethereum.CallMsg) txtracker.ReasonFunc {
	return func(ctx context.Context, receipt *types.Receipt) error {
		_, err := c.ledger.CallContract(ctx, msg, receipt.BlockNumber)
		if err == nil {
			return regerr.New(regerr.CodeChainFailure, "%s reverted in block %v, reason unavailable", method, receipt.BlockNumber)
		}
		return classifyCallError(c.abi, method, err)
	}
}

// Verify reads the registry's record for digest. It needs no wallet and fails only with chain
// errors.
func (c *Client) Verify(ctx context.Context, digest fingerprint.Digest) (_ *VerificationResult, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry.verify")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, regerr.Reason(err))
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("doc_hash", digest.Hex()))

	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodVerify, digest.Bytes32()); err != nil {
		return nil, classifyCallError(c.abi, MethodVerify, err)
	}

	want := 4
	if c.cfg.Protocol.HasIPFSCID() {
		want = 5
	}
	if len(out) != want {
		return nil, regerr.New(regerr.CodeChainFailure, "verify returned %d values, expected %d", len(out), want)
	}

	res := &VerificationResult{}
	var ok [4]bool
	res.Issued, ok[0] = out[0].(bool)
	res.Revoked, ok[1] = out[1].(bool)
	res.IssuedAt, ok[2] = out[2].(uint64)
	res.Issuer, ok[3] = out[3].(common.Address)
	if ok != [4]bool{true, true, true, true} {
		return nil, regerr.New(regerr.CodeChainFailure, "verify returned unexpected types")
	}
	if want == 5 {
		cid, isString := out[4].(string)
		if !isString {
			return nil, regerr.New(regerr.CodeChainFailure, "verify returned a non-string ipfsCid")
		}
		res.IPFSCID = cid
	}

	return res, nil
}

// HasRole reports whether account holds role.
func (c *Client) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodHasRole, role, account); err != nil {
		return false, classifyCallError(c.abi, MethodHasRole, err)
	}
	if len(out) != 1 {
		return false, regerr.New(regerr.CodeChainFailure, "hasRole returned %d values", len(out))
	}
	has, ok := out[0].(bool)
	if !ok {
		return false, regerr.New(regerr.CodeChainFailure, "hasRole returned %T", out[0])
	}
	return has, nil
}

// IsIssuer reports whether account may issue and revoke directly.
func (c *Client) IsIssuer(ctx context.Context, account common.Address) (bool, error) {
	return c.HasRole(ctx, IssuerRole, account)
}

// RequireIssuer fails with NotIssuer unless account holds the issuer role.
func (c *Client) RequireIssuer(ctx context.Context, account common.Address) error {
	ok, err := c.IsIssuer(ctx, account)
	if err != nil {
		return err
	}
	if !ok {
		return regerr.New(regerr.CodeNotIssuer, "%s does not hold ISSUER_ROLE", account.Hex())
	}
	return nil
}
