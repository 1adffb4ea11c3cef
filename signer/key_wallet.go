package signer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Backend is the RPC surface KeyWallet needs to submit transactions. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyWalletOption configures a KeyWallet.
type KeyWalletOption func(*KeyWallet)

// WithChainID pins the chain ID, for wallets without a backend.
func WithChainID(chainID int64) KeyWalletOption {
	return func(w *KeyWallet) { w.chainID = big.NewInt(chainID) }
}

// WithGasLimit sets a fixed gas limit instead of estimating one.
func WithGasLimit(limit uint64) KeyWalletOption {
	return func(w *KeyWallet) { w.gasLimit = limit }
}

// WithGasPrice sets a fixed gas price instead of asking the node.
func WithGasPrice(price *big.Int) KeyWalletOption {
	return func(w *KeyWallet) { w.gasPrice = price }
}

// WithApproval installs an out-of-band approval step in front of every request.
func WithApproval(fn ApprovalFunc) KeyWalletOption {
	return func(w *KeyWallet) { w.approve = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) KeyWalletOption {
	return func(w *KeyWallet) { w.log = l }
}

// KeyWallet is a Wallet over a SignerProvider. Transactions are legacy EIP-155 transactions.
type KeyWallet struct {
	provider SignerProvider
	backend  Backend
	chainID  *big.Int
	gasLimit uint64
	gasPrice *big.Int
	approve  ApprovalFunc
	log      *slog.Logger
}

var _ Wallet = (*KeyWallet)(nil)

// NewKeyWallet creates a wallet. backend may be nil for a signing-only wallet, in which case
// WithChainID is required for ChainID to succeed.
func NewKeyWallet(provider SignerProvider, backend Backend, options ...KeyWalletOption) *KeyWallet {
	w := &KeyWallet{
		provider: provider,
		backend:  backend,
		approve:  AutoApprove,
		log:      slog.Default(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Address returns the wallet's account.
func (w *KeyWallet) Address() common.Address {
	return common.HexToAddress(w.provider.GetAddress())
}

// RequestAccounts returns the single account the wallet controls.
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.Address()}, nil
}

// ChainID returns the pinned chain ID, or asks the backend.
func (w *KeyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	if w.chainID != nil {
		return new(big.Int).Set(w.chainID), nil
	}
	if w.backend == nil {
		return nil, ErrNoBackend
	}
	return w.backend.ChainID(ctx)
}

// SignTypedData hashes data per EIP-712 and signs the digest. v is returned as 27 or 28.
func (w *KeyWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := w.approve(ctx, ApprovalRequest{Kind: RequestSignTypedData, From: w.Address(), TypedData: &data}); err != nil {
		return nil, err
	}

	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig, err := w.provider.Sign(hash)
	if err != nil {
		return nil, err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SendTransaction builds, signs and broadcasts a call to `to` carrying data.
func (w *KeyWallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if w.backend == nil {
		return common.Hash{}, ErrNoBackend
	}

	from := w.Address()
	if err := w.approve(ctx, ApprovalRequest{Kind: RequestSendTransaction, From: from, To: to, Data: data}); err != nil {
		return common.Hash{}, err
	}

	chainID, err := w.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get chain ID: %w", err)
	}
	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := w.gasPrice
	if gasPrice == nil {
		if gasPrice, err = w.backend.SuggestGasPrice(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
		}
	}
	gasLimit := w.gasLimit
	if gasLimit == 0 {
		if gasLimit, err = w.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}); err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := w.signTx(tx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	w.log.DebugContext(ctx, "transaction sent", "tx_hash", signed.Hash().Hex(), "nonce", nonce, "to", to.Hex())
	return signed.Hash(), nil
}

func (w *KeyWallet) signTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	eip155Signer := types.NewEIP155Signer(chainID)
	h := eip155Signer.Hash(tx)
	sig, err := w.provider.Sign(h.Bytes())
	if err != nil {
		return nil, err
	}
	// WithSignature expects a raw recovery id.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return tx.WithSignature(eip155Signer, sig)
}
