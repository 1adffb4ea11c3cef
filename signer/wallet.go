package signer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrUserRejected is returned when the wallet's user (or signing policy) declines a request.
	// It corresponds to EIP-1193 error code 4001.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrNoBackend is returned when a wallet has no RPC backend to submit transactions with.
	ErrNoBackend = errors.New("wallet has no transaction backend")
)

// AccountRequester grants access to the wallet's accounts.
type AccountRequester interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
}

// ChainIDReader reports the network the wallet is currently connected to.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// TypedDataSigner signs EIP-712 typed data. The returned signature is r || s || v, 65 bytes.
//
// SignTypedData may block for as long as the wallet's user takes to approve.
type TypedDataSigner interface {
	ChainIDReader
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// TxSender submits a contract call from the connected account.
type TxSender interface {
	AccountRequester
	ChainIDReader
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Wallet is the full signer capability.
type Wallet interface {
	AccountRequester
	TypedDataSigner
	TxSender
}

// RequestKind names what a wallet is asked to approve.
type RequestKind string

const (
	RequestSignTypedData   RequestKind = "sign_typed_data"
	RequestSendTransaction RequestKind = "send_transaction"
)

// ApprovalRequest describes a pending wallet request.
type ApprovalRequest struct {
	Kind      RequestKind
	From      common.Address
	TypedData *apitypes.TypedData
	To        common.Address
	Data      []byte
}

// ApprovalFunc decides a wallet request out of band. Returning ErrUserRejected declines it.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) error

// AutoApprove approves every request.
func AutoApprove(context.Context, ApprovalRequest) error { return nil }
