// Package credregistry anchors document credentials in an on-chain credential registry.
//
// Anchor runs the issuer's pipeline end to end: a document is fingerprinted, optionally signed
// as an EIP-712 credential, submitted, and tracked until its transaction settles. Verification
// and the audit timeline are read-only and work without a wallet.
//
//	anchor, err := credregistry.New(ledger, cfg, credregistry.WithWallet(wallet))
//	op, err := anchor.IssueFile(ctx, "diploma.pdf")
//	outcome, err := anchor.Await(ctx, op)
package credregistry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pilacorp/go-credential-registry/audit"
	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/issuer"
	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/registry"
	"github.com/pilacorp/go-credential-registry/signer"
	"github.com/pilacorp/go-credential-registry/txtracker"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

type options struct {
	wallet        signer.Wallet
	relayer       signer.TxSender
	roleCheck     bool
	maxDocBytes   int64
	issueDateSkew time.Duration
	clock         func() time.Time
	domainName    string
	domainVersion string
	registerer    prometheus.Registerer
	logger        *slog.Logger
}

// Option configures an Anchor.
type Option func(*options)

// WithWallet sets the wallet that signs credentials and, unless a relayer is set, submits
// transactions.
func WithWallet(w signer.Wallet) Option {
	return func(o *options) { o.wallet = w }
}

// WithRelayer submits transactions from a different account than the one signing credentials.
func WithRelayer(r signer.TxSender) Option {
	return func(o *options) { o.relayer = r }
}

// WithRoleCheck makes direct issuance and revocation check ISSUER_ROLE before anything is sent
// to the wallet.
func WithRoleCheck(enabled bool) Option {
	return func(o *options) { o.roleCheck = enabled }
}

// WithMaxDocumentBytes bounds the documents that can be fingerprinted.
func WithMaxDocumentBytes(n int64) Option {
	return func(o *options) { o.maxDocBytes = n }
}

// WithIssueDateSkew sets how far a credential's issue date may be from now. Zero disables the
// check.
func WithIssueDateSkew(d time.Duration) Option {
	return func(o *options) { o.issueDateSkew = d }
}

// WithClock sets the clock used for issue dates.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithDomain overrides the EIP-712 domain name and version the registry was deployed with.
func WithDomain(name, version string) Option {
	return func(o *options) {
		o.domainName = name
		o.domainVersion = version
	}
}

// WithRegisterer registers transaction metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Anchor issues, revokes and verifies credentials against one registry deployment.
type Anchor struct {
	client     *registry.Client
	encoder    *typedcredential.Encoder
	opts       options
	operations *OperationStore
	log        *slog.Logger
}

// New creates an Anchor for the registry described by cfg, reached through ledger.
func New(ledger registry.Ledger, cfg *registry.Config, opts ...Option) (*Anchor, error) {
	o := options{
		maxDocBytes:   fingerprint.DefaultMaxDocumentBytes,
		issueDateSkew: typedcredential.DefaultIssueDateSkew,
		clock:         time.Now,
		domainName:    typedcredential.DefaultDomainName,
		domainVersion: typedcredential.DefaultDomainVersion,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []registry.Option{registry.WithLogger(o.logger)}
	if o.registerer != nil {
		clientOpts = append(clientOpts, registry.WithTrackerOptions(txtracker.WithRegisterer(o.registerer)))
	}
	if sender := o.sender(); sender != nil {
		clientOpts = append(clientOpts, registry.WithWallet(sender))
	}

	client, err := registry.NewClient(ledger, cfg, clientOpts...)
	if err != nil {
		return nil, err
	}

	encoder, err := typedcredential.NewEncoder(client.Protocol(),
		typedcredential.WithIssueDateSkew(o.issueDateSkew),
		typedcredential.WithClock(o.clock),
	)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Anchor{
		client:     client,
		encoder:    encoder,
		opts:       o,
		operations: NewOperationStore(),
		log:        o.logger,
	}, nil
}

func (o options) sender() signer.TxSender {
	if o.relayer != nil {
		return o.relayer
	}
	if o.wallet != nil {
		return o.wallet
	}
	return nil
}

// Close stops tracking pending transactions.
func (a *Anchor) Close() {
	a.client.Close()
}

// Client returns the underlying registry client.
func (a *Anchor) Client() *registry.Client {
	return a.client
}

// Operations returns the writes submitted through this Anchor.
func (a *Anchor) Operations() *OperationStore {
	return a.operations
}

// Fingerprint computes the digest of the document at path.
func (a *Anchor) Fingerprint(path string) (fingerprint.Digest, error) {
	return fingerprint.FromFile(path, a.opts.maxDocBytes)
}

// NewRecord fingerprints the document at path and builds the credential record for it, dated
// now.
func (a *Anchor) NewRecord(path, studentName, course string) (typedcredential.Record, error) {
	digest, err := a.Fingerprint(path)
	if err != nil {
		return typedcredential.Record{}, err
	}
	return typedcredential.NewRecord(digest, studentName, course, a.opts.clock()), nil
}

// Issue anchors digest directly from the submitting account.
func (a *Anchor) Issue(ctx context.Context, digest fingerprint.Digest) (*Operation, error) {
	if err := a.checkRole(ctx); err != nil {
		return nil, err
	}
	h, err := a.client.IssueDirect(ctx, digest)
	if err != nil {
		return nil, err
	}
	return a.record(ctx, digest, h)
}

// IssueFile fingerprints the document at path and anchors it directly.
func (a *Anchor) IssueFile(ctx context.Context, path string) (*Operation, error) {
	digest, err := a.Fingerprint(path)
	if err != nil {
		return nil, err
	}
	return a.Issue(ctx, digest)
}

// Revoke revokes digest.
func (a *Anchor) Revoke(ctx context.Context, digest fingerprint.Digest) (*Operation, error) {
	if err := a.checkRole(ctx); err != nil {
		return nil, err
	}
	h, err := a.client.Revoke(ctx, digest)
	if err != nil {
		return nil, err
	}
	return a.record(ctx, digest, h)
}

// RevokeFile fingerprints the document at path and revokes it.
func (a *Anchor) RevokeFile(ctx context.Context, path string) (*Operation, error) {
	digest, err := a.Fingerprint(path)
	if err != nil {
		return nil, err
	}
	return a.Revoke(ctx, digest)
}

// TypedData encodes record under the registry's configured domain for signing elsewhere.
func (a *Anchor) TypedData(record typedcredential.Record) (*typedcredential.EncodedCredential, error) {
	domain := typedcredential.NewDomain(a.client.ChainID(), a.client.Address())
	domain.Name = a.opts.domainName
	domain.Version = a.opts.domainVersion
	return a.encoder.Encode(domain, record)
}

// Sign has the wallet sign record for delegated issuance. Each call opens a fresh session bound
// to the wallet's current network, which must be the registry's. An invalid record is rejected
// before the wallet is contacted.
func (a *Anchor) Sign(ctx context.Context, record typedcredential.Record) (*issuer.SignedCredential, error) {
	if err := a.encoder.Check(record); err != nil {
		return nil, err
	}

	var wallet signer.TypedDataSigner
	if a.opts.wallet != nil {
		wallet = a.opts.wallet
	}
	session, err := issuer.NewSession(ctx, wallet, a.client.Address(), a.encoder,
		issuer.WithDomainName(a.opts.domainName),
		issuer.WithDomainVersion(a.opts.domainVersion),
		issuer.WithLogger(a.log),
	)
	if err != nil {
		return nil, err
	}
	if chainID := session.Domain().ChainID; chainID.Cmp(a.client.ChainID()) != 0 {
		return nil, regerr.New(regerr.CodeNetworkMismatch, "wallet is on chain %v, registry is on chain %v", chainID, a.client.ChainID())
	}
	return session.Sign(ctx, record)
}

// IssueSigned submits a credential signed by an issuer. The submitting account pays for it.
func (a *Anchor) IssueSigned(ctx context.Context, signed *issuer.SignedCredential) (*Operation, error) {
	h, err := a.client.IssueWithSignature(ctx, signed)
	if err != nil {
		return nil, err
	}
	return a.record(ctx, signed.Record().DocHash, h)
}

// SignAndIssue signs record with the wallet and submits it.
func (a *Anchor) SignAndIssue(ctx context.Context, record typedcredential.Record) (*Operation, error) {
	signed, err := a.Sign(ctx, record)
	if err != nil {
		return nil, err
	}
	return a.IssueSigned(ctx, signed)
}

// Await waits for op to settle within ctx. If ctx ends first the error is Unresolved and op stays
// pending.
func (a *Anchor) Await(ctx context.Context, op *Operation) (*txtracker.Outcome, error) {
	if op == nil || op.Handle == nil {
		return nil, regerr.Input("operation was never submitted")
	}
	return a.client.Await(ctx, op.Handle)
}

// Operation looks up a submitted operation.
func (a *Anchor) Operation(id uuid.UUID) (*Operation, error) {
	return a.operations.Get(id)
}

// Verify reads the registry's record for digest.
func (a *Anchor) Verify(ctx context.Context, digest fingerprint.Digest) (*registry.VerificationResult, error) {
	return a.client.Verify(ctx, digest)
}

// VerifyFile fingerprints the document at path and verifies it.
func (a *Anchor) VerifyFile(ctx context.Context, path string) (fingerprint.Digest, *registry.VerificationResult, error) {
	digest, err := a.Fingerprint(path)
	if err != nil {
		return fingerprint.Digest{}, nil, err
	}
	res, err := a.Verify(ctx, digest)
	return digest, res, err
}

// Audit returns the recent issuance and revocation timeline.
func (a *Anchor) Audit(ctx context.Context) ([]audit.Event, error) {
	return a.client.RecentEvents(ctx)
}

func (a *Anchor) checkRole(ctx context.Context) error {
	sender := a.opts.sender()
	if !a.opts.roleCheck || sender == nil {
		return nil
	}

	accounts, err := sender.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			return regerr.Wrap(regerr.CodeWalletNotConnected, err, "account access was declined")
		}
		return regerr.Wrap(regerr.CodeWalletNotConnected, err, "failed to access wallet accounts")
	}
	if len(accounts) == 0 {
		return regerr.New(regerr.CodeWalletNotConnected, "wallet exposes no accounts")
	}
	return a.client.RequireIssuer(ctx, accounts[0])
}

func (a *Anchor) record(ctx context.Context, digest fingerprint.Digest, h *txtracker.Handle) (*Operation, error) {
	op := &Operation{ID: h.ID, Kind: h.Op, DocHash: digest, Handle: h}
	if err := a.operations.Add(op); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, "operation submitted", "op", string(op.Kind), "doc_hash", digest.Hex(), "handle", op.ID.String(), "tx_hash", h.TxHash.Hex())
	return op, nil
}
