package issuer

import (
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-credential-registry/regerr"
)

// SignatureLength is the length of a raw r || s || v signature.
const SignatureLength = 65

// Signature is the {v, r, s} decomposition of a typed-data signature, with V in {27, 28}.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// ParseSignature decomposes a raw r || s || v signature. A recovery id of 0 or 1 is normalized
// to 27 or 28. Signatures with s in the upper half of the curve order are rejected, since the
// registry contract refuses malleable signatures.
func ParseSignature(raw []byte) (Signature, error) {
	if len(raw) != SignatureLength {
		return Signature{}, regerr.Input("invalid signature length: expected %d bytes, got %d", SignatureLength, len(raw))
	}

	var sig Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])

	sig.V = raw[64]
	if sig.V < 27 {
		sig.V += 27
	}
	if sig.V != 27 && sig.V != 28 {
		return Signature{}, regerr.Input("invalid signature recovery id %d", raw[64])
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig.R[:]); overflow || r.IsZero() {
		return Signature{}, regerr.Input("invalid signature r value")
	}
	if overflow := s.SetByteSlice(sig.S[:]); overflow || s.IsZero() {
		return Signature{}, regerr.Input("invalid signature s value")
	}
	if s.IsOverHalfOrder() {
		return Signature{}, regerr.Input("signature s value is not canonical")
	}

	return sig, nil
}

// SignatureFromHex parses a 0x-prefixed hex signature, as returned by eth_signTypedData_v4.
func SignatureFromHex(s string) (Signature, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return Signature{}, regerr.Input("invalid signature hex: %v", err)
	}
	return ParseSignature(raw)
}

// Bytes returns r || s || v.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V)
}

// Hex returns the 0x-prefixed r || s || v form.
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s.Bytes())
}

// Recover returns the address that produced the signature over hash.
func (s Signature) Recover(hash common.Hash) (common.Address, error) {
	raw := s.Bytes()
	raw[64] -= 27

	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return common.Address{}, regerr.Input("failed to recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
