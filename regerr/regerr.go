// Package regerr defines the error taxonomy shared by every credential registry component.
//
// Each error has a Kind (what layer failed) and a Code (what exactly happened). Callers inspect
// errors with errors.Is against the sentinels below, or against the containerd/errdefs classes
// that each code maps onto:
//
//	if errors.Is(err, regerr.ErrAlreadyIssued) { ... }
//	if errdefs.IsInvalidArgument(err) { ... }
//
// Detail carries the human-readable reason, including the ledger's revert reason verbatim when
// one was available.
package regerr

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind is the coarse failure category.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindInput covers invalid records, unreadable or oversized documents.
	KindInput
	// KindSigner covers wallet and signer failures.
	KindSigner
	// KindChain covers RPC failures, reverts and on-chain signature rejection.
	KindChain
	// KindTimeout covers transactions whose fate is still unknown.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindSigner:
		return "signer"
	case KindChain:
		return "chain"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Code identifies a specific failure.
type Code string

const (
	CodeInvalidInput             Code = "invalid_input"
	CodeIO                       Code = "io_error"
	CodeUserRejected             Code = "user_rejected"
	CodeSignerUnavailable        Code = "signer_unavailable"
	CodeNetworkMismatch          Code = "network_mismatch"
	CodeWalletNotConnected       Code = "wallet_not_connected"
	CodeTransactionRejected      Code = "transaction_rejected"
	CodeChainFailure             Code = "chain_error"
	CodeAlreadyIssued            Code = "already_issued"
	CodeNotIssued                Code = "not_issued"
	CodeAlreadyRevoked           Code = "already_revoked"
	CodeSignatureRejectedOnChain Code = "signature_rejected_on_chain"
	CodeNotIssuer                Code = "not_issuer"
	CodeUnresolved               Code = "unresolved"
)

var codeKinds = map[Code]Kind{
	CodeInvalidInput:             KindInput,
	CodeIO:                       KindInput,
	CodeUserRejected:             KindSigner,
	CodeSignerUnavailable:        KindSigner,
	CodeNetworkMismatch:          KindSigner,
	CodeWalletNotConnected:       KindSigner,
	CodeTransactionRejected:      KindSigner,
	CodeChainFailure:             KindChain,
	CodeAlreadyIssued:            KindChain,
	CodeNotIssued:                KindChain,
	CodeAlreadyRevoked:           KindChain,
	CodeSignatureRejectedOnChain: KindChain,
	CodeNotIssuer:                KindChain,
	CodeUnresolved:               KindTimeout,
}

// class maps a code onto the containerd/errdefs error class it belongs to.
func (c Code) class() error {
	switch c {
	case CodeInvalidInput:
		return errdefs.ErrInvalidArgument
	case CodeIO:
		return errdefs.ErrDataLoss
	case CodeUserRejected, CodeTransactionRejected:
		return errdefs.ErrAborted
	case CodeSignerUnavailable:
		return errdefs.ErrUnavailable
	case CodeNetworkMismatch, CodeWalletNotConnected:
		return errdefs.ErrFailedPrecondition
	case CodeAlreadyIssued, CodeAlreadyRevoked:
		return errdefs.ErrAlreadyExists
	case CodeNotIssued:
		return errdefs.ErrNotFound
	case CodeSignatureRejectedOnChain, CodeNotIssuer:
		return errdefs.ErrPermissionDenied
	case CodeChainFailure:
		return errdefs.ErrUnavailable
	default:
		return errdefs.ErrUnknown
	}
}

// Sentinels for errors.Is matching. They match any *Error with the same Code.
var (
	ErrInvalidInput             = &Error{Kind: KindInput, Code: CodeInvalidInput}
	ErrIO                       = &Error{Kind: KindInput, Code: CodeIO}
	ErrUserRejected             = &Error{Kind: KindSigner, Code: CodeUserRejected}
	ErrSignerUnavailable        = &Error{Kind: KindSigner, Code: CodeSignerUnavailable}
	ErrNetworkMismatch          = &Error{Kind: KindSigner, Code: CodeNetworkMismatch}
	ErrWalletNotConnected       = &Error{Kind: KindSigner, Code: CodeWalletNotConnected}
	ErrTransactionRejected      = &Error{Kind: KindSigner, Code: CodeTransactionRejected}
	ErrChain                    = &Error{Kind: KindChain, Code: CodeChainFailure}
	ErrAlreadyIssued            = &Error{Kind: KindChain, Code: CodeAlreadyIssued}
	ErrNotIssued                = &Error{Kind: KindChain, Code: CodeNotIssued}
	ErrAlreadyRevoked           = &Error{Kind: KindChain, Code: CodeAlreadyRevoked}
	ErrSignatureRejectedOnChain = &Error{Kind: KindChain, Code: CodeSignatureRejectedOnChain}
	ErrNotIssuer                = &Error{Kind: KindChain, Code: CodeNotIssuer}
	ErrUnresolved               = &Error{Kind: KindTimeout, Code: CodeUnresolved}
)

// Error is a classified registry error.
type Error struct {
	Kind   Kind
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the cause and the errdefs class.
func (e *Error) Unwrap() []error {
	errs := []error{e.Code.class()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error for code with a formatted detail.
func New(code Code, format string, args ...any) *Error {
	return &Error{Kind: codeKinds[code], Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. A nil err yields nil.
func Wrap(code Code, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: codeKinds[code], Code: code, Detail: detail, Err: err}
}

// Input is shorthand for an invalid-input error.
func Input(format string, args ...any) *Error {
	return New(CodeInvalidInput, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Reason returns the detail of the first *Error in err's chain, falling back to err.Error().
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Recoverable reports whether the caller can continue without resubmitting blindly: the
// operation either had no effect or its outcome is already known.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyIssued, CodeNotIssued, CodeAlreadyRevoked, CodeUserRejected, CodeTransactionRejected,
		CodeInvalidInput, CodeNetworkMismatch, CodeWalletNotConnected, CodeNotIssuer:
		return true
	default:
		return false
	}
}
