package regerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	cause := errors.New("execution reverted")
	err := fmt.Errorf("issue failed: %w", Wrap(CodeAlreadyIssued, cause, "already issued"))

	assert.True(t, errors.Is(err, ErrAlreadyIssued))
	assert.False(t, errors.Is(err, ErrNotIssued))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errdefs.IsAlreadyExists(err))
	assert.Equal(t, KindChain, KindOf(err))
	assert.Equal(t, CodeAlreadyIssued, CodeOf(err))
	assert.Equal(t, "already issued", Reason(err))
	assert.True(t, Recoverable(err))
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		code  Code
		kind  Kind
		class func(error) bool
	}{
		{CodeInvalidInput, KindInput, errdefs.IsInvalidArgument},
		{CodeUserRejected, KindSigner, errdefs.IsAborted},
		{CodeSignerUnavailable, KindSigner, errdefs.IsUnavailable},
		{CodeNetworkMismatch, KindSigner, errdefs.IsFailedPrecondition},
		{CodeWalletNotConnected, KindSigner, errdefs.IsFailedPrecondition},
		{CodeSignatureRejectedOnChain, KindChain, errdefs.IsPermissionDenied},
		{CodeNotIssuer, KindChain, errdefs.IsPermissionDenied},
		{CodeNotIssued, KindChain, errdefs.IsNotFound},
		{CodeAlreadyRevoked, KindChain, errdefs.IsAlreadyExists},
		{CodeUnresolved, KindTimeout, func(err error) bool { return errors.Is(err, errdefs.ErrUnknown) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "detail %d", 1)
			assert.Equal(t, tt.kind, err.Kind)
			assert.True(t, tt.class(err))
			assert.Equal(t, string(tt.code)+": detail 1", err.Error())
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(CodeChainFailure, nil, "ignored"))
}

func TestPlainErrors(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, Code(""), CodeOf(err))
	assert.Equal(t, "boom", Reason(err))
	assert.False(t, Recoverable(err))
	assert.False(t, Recoverable(ErrUnresolved))
}

func TestAlreadyRevokedIsDistinct(t *testing.T) {
	err := Wrap(CodeAlreadyRevoked, errors.New("execution reverted"), "AlreadyRevoked(0x01)")
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
	assert.NotErrorIs(t, err, ErrAlreadyIssued)
	assert.True(t, Recoverable(err))
}
