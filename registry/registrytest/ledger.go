// Package registrytest provides an in-memory credential registry for tests.
//
// Ledger decodes calldata with the real contract ABI, applies the registry's rules (issuer role,
// single issuance, EIP-712 signer recovery for delegated issuance), mines blocks, emits logs
// and serves receipts. It implements both registry.Ledger and signer.Backend, so the real client
// and KeyWallet code paths run against it unchanged.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-credential-registry/registry"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

// DefaultAddress is the registry address used when none is configured.
var DefaultAddress = common.HexToAddress("0x0C6Fe5983595528E2B27294bc6b9a5C7736989EB")

const (
	DefaultChainID int64 = 11155111
	gasPerTx             = 60_000
)

// RevertError is the error a node returns for a reverted eth_call, carrying the revert data.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// ErrorCode is the JSON-RPC error code geth uses for reverts.
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the hex revert data, as go-ethereum's rpc client exposes it.
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }

type credentialState struct {
	issued   bool
	revoked  bool
	issuedAt uint64
	issuer   common.Address
	cid      string
}

type pendingTx struct {
	tx   *types.Transaction
	from common.Address
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithProtocol selects the contract version. The default is ProtocolV1.
func WithProtocol(p typedcredential.Protocol) Option {
	return func(l *Ledger) { l.protocol = p }
}

// WithChainID sets the chain ID.
func WithChainID(id int64) Option {
	return func(l *Ledger) { l.chainID = big.NewInt(id) }
}

// WithAddress sets the registry address.
func WithAddress(addr common.Address) Option {
	return func(l *Ledger) { l.address = addr }
}

// WithDomain overrides the EIP-712 domain name and version the contract was deployed with.
func WithDomain(name, version string) Option {
	return func(l *Ledger) {
		l.domainName = name
		l.domainVersion = version
	}
}

// WithManualMining leaves submitted transactions pending until Mine is called.
func WithManualMining() Option {
	return func(l *Ledger) { l.autoMine = false }
}

// WithClock sets the clock block timestamps are taken from.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// Ledger is an in-memory chain hosting one credential registry.
type Ledger struct {
	mu sync.Mutex

	chainID       *big.Int
	address       common.Address
	protocol      typedcredential.Protocol
	domainName    string
	domainVersion string
	abi           abi.ABI
	encoder       *typedcredential.Encoder
	autoMine      bool
	clock         func() time.Time

	admin       common.Address
	roles       map[[32]byte]map[common.Address]bool
	credentials map[[32]byte]*credentialState

	head      uint64
	blockTime uint64
	nonces    map[common.Address]uint64
	pending   []pendingTx
	receipts  map[common.Hash]*types.Receipt
	logs      []types.Log

	receiptErr  error
	filterCalls int
}

// New deploys a registry administered by admin.
func New(admin common.Address, options ...Option) *Ledger {
	l := &Ledger{
		chainID:       big.NewInt(DefaultChainID),
		address:       DefaultAddress,
		protocol:      typedcredential.ProtocolV1,
		domainName:    typedcredential.DefaultDomainName,
		domainVersion: typedcredential.DefaultDomainVersion,
		autoMine:      true,
		clock:         time.Now,
		admin:         admin,
		roles:         map[[32]byte]map[common.Address]bool{{}: {admin: true}},
		credentials:   map[[32]byte]*credentialState{},
		nonces:        map[common.Address]uint64{},
		receipts:      map[common.Hash]*types.Receipt{},
	}
	for _, opt := range options {
		opt(l)
	}

	contractABI, err := registry.ABI(l.protocol)
	if err != nil {
		panic(err)
	}
	l.abi = contractABI

	enc, err := typedcredential.NewEncoder(l.protocol, typedcredential.WithIssueDateSkew(0))
	if err != nil {
		panic(err)
	}
	l.encoder = enc

	return l
}

// Config returns a registry config pointing at this ledger.
func (l *Ledger) Config() *registry.Config {
	return &registry.Config{
		RPCURL:          "memory://registrytest",
		ChainID:         l.chainID.Int64(),
		ContractAddress: l.address.Hex(),
		Protocol:        l.protocol,
		PollInterval:    5 * time.Millisecond,
	}
}

// Address returns the registry address.
func (l *Ledger) Address() common.Address {
	return l.address
}

// GrantIssuer gives account the issuer role directly, without a transaction.
func (l *Ledger) GrantIssuer(account common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grant(registry.IssuerRole, account)
}

// SetReceiptError makes TransactionReceipt fail with err until it is reset with nil.
func (l *Ledger) SetReceiptError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiptErr = err
}

// FilterCalls returns how many eth_getLogs requests were served.
func (l *Ledger) FilterCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filterCalls
}

// PendingCount returns the number of submitted but unmined transactions.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// AdvanceBlocks mines n empty blocks.
func (l *Ledger) AdvanceBlocks(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for range n {
		l.mineLocked(nil)
	}
}

// Mine mines every pending transaction into one new block and returns its number.
func (l *Ledger) Mine() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := l.pending
	l.pending = nil
	return l.mineLocked(pending)
}

func (l *Ledger) mineLocked(txs []pendingTx) uint64 {
	l.head++
	now := uint64(l.clock().Unix())
	if now <= l.blockTime {
		now = l.blockTime + 1
	}
	l.blockTime = now

	blockHash := crypto.Keccak256Hash(l.chainID.Bytes(), new(big.Int).SetUint64(l.head).Bytes())
	var cumulative uint64
	var logIndex uint

	for i, p := range txs {
		receipt := &types.Receipt{
			Type:             p.tx.Type(),
			Status:           types.ReceiptStatusSuccessful,
			TxHash:           p.tx.Hash(),
			BlockHash:        blockHash,
			BlockNumber:      new(big.Int).SetUint64(l.head),
			TransactionIndex: uint(i),
			GasUsed:          gasPerTx,
		}
		cumulative += gasPerTx
		receipt.CumulativeGasUsed = cumulative

		if to := p.tx.To(); to != nil && *to == l.address {
			_, logs, revert := l.execute(p.from, p.tx.Data(), true)
			if revert != nil {
				receipt.Status = types.ReceiptStatusFailed
			}
			for _, lg := range logs {
				lg.BlockNumber = l.head
				lg.BlockHash = blockHash
				lg.TxHash = p.tx.Hash()
				lg.TxIndex = uint(i)
				lg.Index = logIndex
				logIndex++
				receipt.Logs = append(receipt.Logs, lg)
				l.logs = append(l.logs, *lg)
			}
		}

		l.receipts[p.tx.Hash()] = receipt
	}

	return l.head
}

// ChainID implements signer.Backend.
func (l *Ledger) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.chainID), nil
}

// PendingNonceAt implements signer.Backend.
func (l *Ledger) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[account], nil
}

// SuggestGasPrice implements signer.Backend.
func (l *Ledger) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// EstimateGas implements signer.Backend. Calls that would revert fail estimation, as on a node.
func (l *Ledger) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if _, err := l.CallContract(ctx, msg, nil); err != nil {
		return 0, err
	}
	return gasPerTx, nil
}

// SendTransaction implements signer.Backend. The transaction must be EIP-155 signed for the
// ledger's chain with the sender's next nonce.
func (l *Ledger) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(l.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.receipts[tx.Hash()]; ok {
		return errors.New("already known")
	}
	if want := l.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("invalid nonce for %s: have %d, want %d", from.Hex(), tx.Nonce(), want)
	}
	l.nonces[from]++

	p := pendingTx{tx: tx, from: from}
	if l.autoMine {
		l.mineLocked([]pendingTx{p})
		return nil
	}
	l.pending = append(l.pending, p)
	return nil
}

// CodeAt implements bind.ContractCaller.
func (l *Ledger) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	if contract == l.address {
		return []byte{0x60, 0x80, 0x60, 0x40}, nil
	}
	return nil, nil
}

// CallContract executes msg against the current state without committing it. The block number
// is ignored.
func (l *Ledger) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || *msg.To != l.address {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ret, _, revert := l.execute(msg.From, msg.Data, false)
	if revert != nil {
		return nil, revert
	}
	return ret, nil
}

// FilterLogs implements the eth_getLogs subset the registry client uses.
func (l *Ledger) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filterCalls++

	from, to := uint64(0), l.head
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}

	var out []types.Log
	for _, lg := range l.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, lg.Address) {
			continue
		}
		if !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

// TransactionReceipt implements txtracker.ReceiptSource.
func (l *Ledger) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.receiptErr != nil {
		return nil, l.receiptErr
	}
	receipt, ok := l.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// BlockNumber implements txtracker.ReceiptSource.
func (l *Ledger) BlockNumber(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, nil
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		if !slices.Contains(alternatives, topics[i]) {
			return false
		}
	}
	return true
}
