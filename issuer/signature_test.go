package issuer

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-registry/regerr"
)

var secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

func rawTestSignature(t *testing.T) ([]byte, common.Hash) {
	t.Helper()
	key, err := crypto.HexToECDSA(strings.TrimPrefix(testPrivHex, "0x"))
	require.NoError(t, err)

	hash := crypto.Keccak256Hash([]byte("credential"))
	raw, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)
	return raw, hash
}

func TestParseSignature(t *testing.T) {
	raw, hash := rawTestSignature(t)

	sig, err := ParseSignature(raw)
	require.NoError(t, err)
	assert.Equal(t, raw[64]+27, sig.V)
	assert.Equal(t, raw[:32], sig.R[:])
	assert.Equal(t, raw[32:64], sig.S[:])

	addr, err := sig.Recover(hash)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), addr)

	normalized := append([]byte(nil), raw...)
	normalized[64] += 27
	again, err := ParseSignature(normalized)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
	assert.Equal(t, normalized, sig.Bytes())
}

func TestParseSignatureRejects(t *testing.T) {
	raw, _ := rawTestSignature(t)

	mutate := func(fn func(b []byte)) []byte {
		b := append([]byte(nil), raw...)
		fn(b)
		return b
	}

	highS := mutate(func(b []byte) {
		s := new(big.Int).SetBytes(b[32:64])
		copy(b[32:64], common.LeftPadBytes(new(big.Int).Sub(secp256k1N, s).Bytes(), 32))
		b[64] ^= 1
	})

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "short", raw: raw[:64]},
		{name: "bad recovery id", raw: mutate(func(b []byte) { b[64] = 5 })},
		{name: "zero r", raw: mutate(func(b []byte) { copy(b[:32], make([]byte, 32)) })},
		{name: "zero s", raw: mutate(func(b []byte) { copy(b[32:64], make([]byte, 32)) })},
		{name: "high s", raw: highS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignature(tt.raw)
			assert.ErrorIs(t, err, regerr.ErrInvalidInput)
		})
	}
}

func TestSignatureFromHex(t *testing.T) {
	raw, _ := rawTestSignature(t)
	sig, err := ParseSignature(raw)
	require.NoError(t, err)

	parsed, err := SignatureFromHex(sig.Hex())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = SignatureFromHex("0xnothex")
	assert.ErrorIs(t, err, regerr.ErrInvalidInput)
}
