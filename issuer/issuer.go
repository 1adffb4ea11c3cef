// Package issuer obtains typed-data signatures over credentials for delegated issuance.
//
// Sign is the single suspension point: it returns only once the wallet's user has approved or
// declined the request. The wallet's active network is compared with the signing domain before
// the wallet is asked for anything, so a signature is never produced for the wrong chain.
package issuer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/signer"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

// SignedCredential is a credential together with the signature authorising it.
type SignedCredential struct {
	Credential *typedcredential.EncodedCredential
	Signature  Signature
	// Signer is the address the signature recovers to under Credential's domain.
	Signer common.Address
}

// Record returns the signed record.
func (s *SignedCredential) Record() typedcredential.Record {
	return s.Credential.Record
}

// Sign asks wallet to sign the encoded credential and decomposes the result.
func Sign(ctx context.Context, encoded *typedcredential.EncodedCredential, wallet signer.TypedDataSigner) (*SignedCredential, error) {
	if encoded == nil {
		return nil, regerr.Input("nothing to sign")
	}
	if wallet == nil {
		return nil, regerr.New(regerr.CodeSignerUnavailable, "no signer is connected")
	}

	chainID, err := wallet.ChainID(ctx)
	if err != nil {
		return nil, regerr.Wrap(regerr.CodeSignerUnavailable, err, "failed to read the signer's network")
	}
	if chainID == nil || chainID.Cmp(encoded.Domain.ChainID) != 0 {
		return nil, regerr.New(regerr.CodeNetworkMismatch, "signer is on chain %v, credential domain expects chain %v", chainID, encoded.Domain.ChainID)
	}

	raw, err := wallet.SignTypedData(ctx, encoded.TypedData)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			return nil, regerr.Wrap(regerr.CodeUserRejected, err, "signature request declined")
		}
		return nil, regerr.Wrap(regerr.CodeSignerUnavailable, err, "signer failed")
	}

	sig, err := ParseSignature(raw)
	if err != nil {
		return nil, err
	}
	addr, err := sig.Recover(encoded.Hash)
	if err != nil {
		return nil, err
	}

	return &SignedCredential{
		Credential: encoded,
		Signature:  sig,
		Signer:     addr,
	}, nil
}
