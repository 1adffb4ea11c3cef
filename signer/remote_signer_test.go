package signer

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigningServer(t *testing.T, local *DefaultProvider, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		var req struct {
			PayloadHex string `json:"payload_hex"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		payload, err := hex.DecodeString(req.PayloadHex)
		require.NoError(t, err)

		sig, err := local.Sign(payload)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"signature_hex": "0x" + hex.EncodeToString(sig)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteSigner(t *testing.T) {
	local, err := NewDefaultProvider(testPrivHex)
	require.NoError(t, err)
	addr := common.HexToAddress(testAddress)

	t.Run("signs through the API", func(t *testing.T) {
		srv := newSigningServer(t, local, http.StatusOK)
		rs, err := NewRemoteSigner(srv.URL, "secret", addr)
		require.NoError(t, err)
		assert.Equal(t, testAddress, rs.GetAddress())

		hash := crypto.Keccak256([]byte("remote"))
		sig, err := rs.Sign(hash)
		require.NoError(t, err)

		pub, err := crypto.SigToPub(hash, sig)
		require.NoError(t, err)
		assert.Equal(t, addr, crypto.PubkeyToAddress(*pub))
	})

	t.Run("forbidden is a rejection", func(t *testing.T) {
		srv := newSigningServer(t, local, http.StatusForbidden)
		rs, err := NewRemoteSigner(srv.URL, "secret", addr)
		require.NoError(t, err)

		_, err = rs.Sign(crypto.Keccak256([]byte("remote")))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUserRejected))
	})

	t.Run("server error", func(t *testing.T) {
		srv := newSigningServer(t, local, http.StatusInternalServerError)
		rs, err := NewRemoteSigner(srv.URL, "secret", addr)
		require.NoError(t, err)

		_, err = rs.Sign(crypto.Keccak256([]byte("remote")))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUserRejected))
	})

	t.Run("rejects bad payload size", func(t *testing.T) {
		rs, err := NewRemoteSigner("http://127.0.0.1:0", "", addr)
		require.NoError(t, err)
		_, err = rs.Sign([]byte{1, 2, 3})
		assert.Error(t, err)
	})
}

func TestNewRemoteSignerValidation(t *testing.T) {
	_, err := NewRemoteSigner(" ", "", common.HexToAddress(testAddress))
	assert.Error(t, err)

	_, err = NewRemoteSigner("http://localhost", "", common.Address{})
	assert.Error(t, err)
}
