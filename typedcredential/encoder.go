// Package typedcredential builds the EIP-712 typed structure a credential issuer signs for
// delegated issuance, and that the registry contract reproduces to recover the signer.
//
// The schema depends on the registry Protocol. Encoding is a pure function of the domain and
// record; the only clock involvement is the optional issue-date plausibility check, whose clock
// is injected at construction.
package typedcredential

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/pilacorp/go-credential-registry/regerr"
)

// DefaultIssueDateSkew is the default tolerance between a record's issueDate and now.
const DefaultIssueDateSkew = 5 * time.Minute

// EncodedCredential is the typed structure handed to a signer, with its EIP-712 digest.
type EncodedCredential struct {
	Protocol  Protocol
	Domain    Domain
	Record    Record
	TypedData apitypes.TypedData
	// Hash is keccak256("\x19\x01" || domainSeparator || hashStruct(record)).
	Hash common.Hash
	// DomainSeparator is hashStruct(EIP712Domain).
	DomainSeparator common.Hash
}

// MarshalJSON renders the eth_signTypedData_v4 payload.
func (c *EncodedCredential) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.TypedData)
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithClock sets the clock used by the issue-date check.
func WithClock(clock func() time.Time) EncoderOption {
	return func(e *Encoder) { e.clock = clock }
}

// WithIssueDateSkew sets the issue-date tolerance. Zero disables the check.
func WithIssueDateSkew(skew time.Duration) EncoderOption {
	return func(e *Encoder) { e.skew = skew }
}

// Encoder encodes credentials for one registry protocol.
type Encoder struct {
	protocol Protocol
	skew     time.Duration
	clock    func() time.Time
}

// NewEncoder creates an encoder for protocol p.
func NewEncoder(p Protocol, options ...EncoderOption) (*Encoder, error) {
	if !p.Valid() {
		return nil, regerr.Input("unsupported registry protocol %s", p)
	}

	e := &Encoder{
		protocol: p,
		skew:     DefaultIssueDateSkew,
		clock:    time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Protocol returns the protocol the encoder speaks.
func (e *Encoder) Protocol() Protocol {
	return e.protocol
}

// Check validates record against the encoder's protocol and issue-date tolerance. It needs no
// domain, so callers can reject a record before a signer is involved.
func (e *Encoder) Check(record Record) error {
	if err := record.Validate(e.protocol); err != nil {
		return err
	}
	if e.skew > 0 {
		return record.CheckIssueDate(e.clock(), e.skew)
	}
	return nil
}

// Encode validates the domain and record and builds the typed structure.
//
// Validation happens before anything is hashed, so invalid input never reaches a signer.
func (e *Encoder) Encode(domain Domain, record Record) (*EncodedCredential, error) {
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	if err := e.Check(record); err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types:       e.protocol.Types(),
		PrimaryType: PrimaryType,
		Domain:      domain.typedDataDomain(),
		Message:     record.message(e.protocol),
	}

	separator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash signing domain: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed credential: %w", err)
	}

	return &EncodedCredential{
		Protocol:        e.protocol,
		Domain:          domain,
		Record:          record,
		TypedData:       typedData,
		Hash:            common.BytesToHash(hash),
		DomainSeparator: common.BytesToHash(separator),
	}, nil
}
