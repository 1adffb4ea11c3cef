// Package signer provides the wallet capability the credential registry consumes: account
// access, the active chain ID, EIP-712 typed-data signing and transaction submission.
//
// Browser wallets implement Wallet directly. For services, KeyWallet adapts any SignerProvider
// (a local key or a remote signing API) into a Wallet backed by an RPC client.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignerProvider produces the raw secp256k1 signatures a KeyWallet turns into EIP-712
// signatures and signed transactions. Implementations hold the issuer's key, locally or behind
// a signing service.
type SignerProvider interface {
	// Sign signs a 32-byte digest and returns r || s || v with v in {0, 1}.
	Sign(hash []byte) ([]byte, error)
	// GetAddress returns the lowercase hex address of the signing key.
	GetAddress() string
}

// DefaultProvider signs with a private key held in memory. It is what the CLI builds from the
// key in CREDREG_PRIVATE_KEY and what tests use for issuer accounts.
type DefaultProvider struct {
	priv    *ecdsa.PrivateKey
	address string
}

// NewDefaultProvider creates a provider for an issuer key.
//
// privHex is the private key in hex format, with or without 0x.
// Returns the provider, or an error that never echoes the key when it cannot be parsed.
func NewDefaultProvider(privHex string) (*DefaultProvider, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewProviderFromKey(priv), nil
}

// NewProviderFromKey creates a provider for an already loaded key.
func NewProviderFromKey(priv *ecdsa.PrivateKey) *DefaultProvider {
	return &DefaultProvider{
		priv:    priv,
		address: strings.ToLower(crypto.PubkeyToAddress(priv.PublicKey).Hex()),
	}
}

// Sign signs a typed-data or transaction digest.
//
// hash must be exactly 32 bytes; anything else is refused before the key is touched.
// Returns r || s || v with v in {0, 1}. KeyWallet shifts v to 27/28 for typed data.
func (s *DefaultProvider) Sign(hash []byte) ([]byte, error) {
	if len(hash) != crypto.DigestLength {
		return nil, fmt.Errorf("refusing to sign %d bytes, expected a %d-byte digest", len(hash), crypto.DigestLength)
	}
	signature, err := crypto.Sign(hash, s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return signature, nil
}

// GetAddress returns the issuer account the key controls.
func (s *DefaultProvider) GetAddress() string {
	return s.address
}
