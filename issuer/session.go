package issuer

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/signer"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

type sessionOptions struct {
	domainName    string
	domainVersion string
	logger        *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithDomainName overrides the EIP-712 domain name.
func WithDomainName(name string) SessionOption {
	return func(o *sessionOptions) { o.domainName = name }
}

// WithDomainVersion overrides the EIP-712 domain version.
func WithDomainVersion(version string) SessionOption {
	return func(o *sessionOptions) { o.domainVersion = version }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = l }
}

// Session signs credentials against one signing domain, built from the wallet's network at the
// time the session was opened. A network switch invalidates the session: Sign reports
// NetworkMismatch and a new session must be opened.
type Session struct {
	ID      uuid.UUID
	wallet  signer.TypedDataSigner
	account common.Address
	domain  typedcredential.Domain
	encoder *typedcredential.Encoder
	log     *slog.Logger
}

// NewSession opens a signing session for the registry at registry.
//
// If wallet can also grant account access, the session is pinned to the first account and any
// signature recovering to another address is refused.
func NewSession(ctx context.Context, wallet signer.TypedDataSigner, registry common.Address, encoder *typedcredential.Encoder, options ...SessionOption) (*Session, error) {
	if wallet == nil {
		return nil, regerr.New(regerr.CodeSignerUnavailable, "no signer is connected")
	}
	if encoder == nil {
		return nil, regerr.Input("encoder is required")
	}

	opts := sessionOptions{
		domainName:    typedcredential.DefaultDomainName,
		domainVersion: typedcredential.DefaultDomainVersion,
		logger:        slog.Default(),
	}
	for _, opt := range options {
		opt(&opts)
	}

	chainID, err := wallet.ChainID(ctx)
	if err != nil {
		return nil, regerr.Wrap(regerr.CodeSignerUnavailable, err, "failed to read the signer's network")
	}

	domain := typedcredential.NewDomain(chainID, registry)
	domain.Name = opts.domainName
	domain.Version = opts.domainVersion
	if err := domain.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:      uuid.New(),
		wallet:  wallet,
		domain:  domain,
		encoder: encoder,
	}

	if requester, ok := wallet.(signer.AccountRequester); ok {
		accounts, err := requester.RequestAccounts(ctx)
		if err != nil {
			return nil, regerr.Wrap(regerr.CodeWalletNotConnected, err, "account access was not granted")
		}
		if len(accounts) == 0 {
			return nil, regerr.New(regerr.CodeWalletNotConnected, "wallet exposes no accounts")
		}
		s.account = accounts[0]
	}

	s.log = opts.logger.With("session", s.ID.String(), "chain_id", chainID.String(), "protocol", encoder.Protocol().String())
	return s, nil
}

// Domain returns the session's signing domain.
func (s *Session) Domain() typedcredential.Domain {
	return s.domain
}

// Account returns the pinned account, or the zero address when the wallet exposes none.
func (s *Session) Account() common.Address {
	return s.account
}

// Encode builds the typed structure for record under the session's domain without signing it.
func (s *Session) Encode(record typedcredential.Record) (*typedcredential.EncodedCredential, error) {
	return s.encoder.Encode(s.domain, record)
}

// Sign encodes record and asks the wallet to sign it. Invalid records fail before the wallet is
// contacted.
func (s *Session) Sign(ctx context.Context, record typedcredential.Record) (*SignedCredential, error) {
	encoded, err := s.Encode(record)
	if err != nil {
		return nil, err
	}

	s.log.DebugContext(ctx, "requesting credential signature", "doc_hash", record.DocHash.Hex(), "hash", encoded.Hash.Hex())

	signed, err := Sign(ctx, encoded, s.wallet)
	if err != nil {
		s.log.WarnContext(ctx, "credential signature not obtained", "doc_hash", record.DocHash.Hex(), "error", err)
		return nil, err
	}
	if s.account != (common.Address{}) && signed.Signer != s.account {
		return nil, regerr.New(regerr.CodeSignerUnavailable, "signature recovers to %s, expected %s", signed.Signer.Hex(), s.account.Hex())
	}

	s.log.InfoContext(ctx, "credential signed", "doc_hash", record.DocHash.Hex(), "signer", signed.Signer.Hex())
	return signed, nil
}
