package registry

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-registry/regerr"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}

type dataError struct {
	data any
}

func (e *dataError) Error() string          { return "execution reverted" }
func (e *dataError) ErrorData() interface{} { return e.data }

func encodeError(t *testing.T, contractABI abi.ABI, name string, args ...any) []byte {
	t.Helper()
	e := contractABI.Errors[name]
	packed, err := e.Inputs.Pack(args...)
	require.NoError(t, err)
	return append(common.CopyBytes(e.ID[:4]), packed...)
}

func encodeRequire(t *testing.T, msg string) []byte {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(msg)
	require.NoError(t, err)
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

func encodePanic(t *testing.T, code int64) []byte {
	t.Helper()
	uintType, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: uintType}}.Pack(big.NewInt(code))
	require.NoError(t, err)
	return append([]byte{0x4e, 0x48, 0x7b, 0x71}, packed...)
}

func TestDecodeRevert(t *testing.T) {
	contractABI, err := ABI(typedcredential.ProtocolV1)
	require.NoError(t, err)

	docHash := [32]byte{0xab}
	signerAddr := common.HexToAddress("0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e")

	tests := []struct {
		name       string
		data       []byte
		wantName   string
		wantReason string
		wantCode   regerr.Code
	}{
		{
			name:       "custom already issued",
			data:       encodeError(t, contractABI, "AlreadyIssued", docHash),
			wantName:   "AlreadyIssued",
			wantReason: "AlreadyIssued(0xab00000000000000000000000000000000000000000000000000000000000000)",
			wantCode:   regerr.CodeAlreadyIssued,
		},
		{
			name:       "custom not issued",
			data:       encodeError(t, contractABI, "NotIssued", docHash),
			wantName:   "NotIssued",
			wantReason: "NotIssued(0xab00000000000000000000000000000000000000000000000000000000000000)",
			wantCode:   regerr.CodeNotIssued,
		},
		{
			name:       "custom already revoked",
			data:       encodeError(t, contractABI, "AlreadyRevoked", docHash),
			wantName:   "AlreadyRevoked",
			wantReason: "AlreadyRevoked(0xab00000000000000000000000000000000000000000000000000000000000000)",
			wantCode:   regerr.CodeAlreadyRevoked,
		},
		{
			name:       "require already revoked",
			data:       encodeRequire(t, "Credential already revoked"),
			wantName:   "Error",
			wantReason: "Credential already revoked",
			wantCode:   regerr.CodeAlreadyRevoked,
		},
		{
			name:       "unauthorized signer",
			data:       encodeError(t, contractABI, "UnauthorizedSigner", signerAddr),
			wantName:   "UnauthorizedSigner",
			wantReason: "UnauthorizedSigner(0x36E4418Dafb9D1E5fff7408F5A57981E240c8F8E)",
			wantCode:   regerr.CodeSignatureRejectedOnChain,
		},
		{
			name:     "missing role",
			data:     encodeError(t, contractABI, "AccessControlUnauthorizedAccount", signerAddr, IssuerRole),
			wantName: "AccessControlUnauthorizedAccount",
			wantCode: regerr.CodeNotIssuer,
		},
		{
			name:       "require message",
			data:       encodeRequire(t, "Credential already issued"),
			wantName:   "Error",
			wantReason: "Credential already issued",
			wantCode:   regerr.CodeAlreadyIssued,
		},
		{
			name:       "require with unknown message",
			data:       encodeRequire(t, "paused"),
			wantName:   "Error",
			wantReason: "paused",
			wantCode:   regerr.CodeChainFailure,
		},
		{
			name:     "panic",
			data:     encodePanic(t, 0x11),
			wantName: "Panic",
			wantCode: regerr.CodeChainFailure,
		},
		{
			name:       "unknown selector",
			data:       []byte{0xde, 0xad, 0xbe, 0xef},
			wantReason: "execution reverted: 0xdeadbeef",
			wantCode:   regerr.CodeChainFailure,
		},
		{
			name:       "no data",
			wantReason: "execution reverted",
			wantCode:   regerr.CodeChainFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev := DecodeRevert(contractABI, tt.data)
			assert.Equal(t, tt.wantName, rev.Name)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, rev.Reason)
			} else {
				assert.NotEmpty(t, rev.Reason)
			}
			assert.Equal(t, tt.wantCode, rev.Code())
		})
	}
}

func TestClassifyCallError(t *testing.T) {
	contractABI, err := ABI(typedcredential.ProtocolV1)
	require.NoError(t, err)

	data := encodeError(t, contractABI, "AlreadyIssued", [32]byte{1})
	err = classifyCallError(contractABI, MethodIssue, &dataError{data: hexutil.Encode(data)})
	assert.ErrorIs(t, err, regerr.ErrAlreadyIssued)
	assert.True(t, regerr.Recoverable(err))
	assert.Contains(t, regerr.Reason(err), "AlreadyIssued(0x01")

	err = classifyCallError(contractABI, MethodIssue, &dataError{data: data})
	assert.ErrorIs(t, err, regerr.ErrAlreadyIssued)

	err = classifyCallError(contractABI, MethodVerify, errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, regerr.ErrChain)
	assert.Equal(t, regerr.KindChain, regerr.KindOf(err))

	assert.NoError(t, classifyCallError(contractABI, MethodVerify, nil))
}
