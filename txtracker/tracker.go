// Package txtracker follows submitted registry transactions to a terminal state.
//
// Each submission gets a Handle that moves Idle -> Pending -> Confirmed or Failed. A background
// poller drives the transition; callers wait on Handle.Await with their own deadline, and a
// deadline that expires first yields an Unresolved error rather than a failure.
package txtracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pilacorp/go-credential-registry/regerr"
)

const (
	DefaultConfirmations = 1
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxPollErrors = 3

	statusConfirmed = "confirmed"
	statusFailed    = "failed"
)

// ReceiptSource is the ledger surface the tracker polls. *ethclient.Client satisfies it.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ReasonFunc explains a mined transaction that reverted. It returns the classified error the
// handle fails with.
type ReasonFunc func(ctx context.Context, receipt *types.Receipt) error

// Option configures a Tracker.
type Option func(*Tracker)

// WithConfirmations sets how many blocks (including the inclusion block) must exist before a
// successful receipt counts as confirmed.
func WithConfirmations(n uint64) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.confirmations = n
		}
	}
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithMaxPollErrors sets how many consecutive transport errors fail a handle.
func WithMaxPollErrors(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxPollErrors = n
		}
	}
}

// WithMaxWait fails a handle whose transaction is not mined within d, typically because it was
// dropped from the mempool. Once a receipt is seen the handle waits for its confirmations
// regardless of d. Zero waits indefinitely.
func WithMaxWait(d time.Duration) Option {
	return func(t *Tracker) { t.maxWait = d }
}

// WithRegisterer registers the tracker metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) { t.metrics = NewMetrics(reg) }
}

// WithMetrics shares an existing set of collectors.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock sets the clock used for submission timestamps and the max-wait deadline.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Tracker polls receipts for submitted transactions.
type Tracker struct {
	source        ReceiptSource
	confirmations uint64
	pollInterval  time.Duration
	maxPollErrors int
	maxWait       time.Duration
	metrics       *Metrics
	clock         func() time.Time
	log           *slog.Logger
}

// New creates a tracker over source.
func New(source ReceiptSource, options ...Option) *Tracker {
	t := &Tracker{
		source:        source,
		confirmations: DefaultConfirmations,
		pollInterval:  DefaultPollInterval,
		maxPollErrors: DefaultMaxPollErrors,
		clock:         time.Now,
		log:           slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	return t
}

// Track starts following hash and returns its Pending handle. ctx bounds the polling itself:
// once it ends the handle stays Pending for good, so it should outlive any single Await.
// reason may be nil, in which case reverted transactions fail without a decoded reason.
func (t *Tracker) Track(ctx context.Context, op Operation, hash common.Hash, reason ReasonFunc) *Handle {
	h := newHandle(op, hash, t.clock())
	h.markPending()

	t.log.InfoContext(ctx, "tracking transaction", "handle", h.ID.String(), "op", string(op), "tx_hash", hash.Hex())
	go t.poll(ctx, h, reason)
	return h
}

// Await waits on h and records an unresolved outcome when ctx ends first.
func (t *Tracker) Await(ctx context.Context, h *Handle) (*Outcome, error) {
	outcome, err := h.Await(ctx)
	if errors.Is(err, regerr.ErrUnresolved) {
		t.metrics.observeUnresolved(h.Op)
		t.log.WarnContext(ctx, "transaction unresolved", "handle", h.ID.String(), "tx_hash", h.TxHash.Hex())
	}
	return outcome, err
}

func (t *Tracker) poll(ctx context.Context, h *Handle, reason ReasonFunc) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	var deadline time.Time
	if t.maxWait > 0 {
		deadline = h.SubmittedAt.Add(t.maxWait)
	}

	pollErrors := 0
	mined := false
	for ctx.Err() == nil {
		done, seen, err := t.check(ctx, h, reason)
		if err == nil || seen {
			mined = seen
		}
		switch {
		case done:
			return
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			pollErrors++
			t.log.WarnContext(ctx, "receipt poll failed", "handle", h.ID.String(), "tx_hash", h.TxHash.Hex(), "attempt", pollErrors, "error", err)
			if pollErrors >= t.maxPollErrors {
				t.fail(ctx, h, regerr.Wrap(regerr.CodeChainFailure, err, fmt.Sprintf("lost track of transaction after %d failed polls", pollErrors)))
				return
			}
		default:
			pollErrors = 0
		}

		if !mined && !deadline.IsZero() && !t.clock().Before(deadline) {
			t.fail(ctx, h, regerr.New(regerr.CodeChainFailure, "transaction %s not mined within %s", h.TxHash.Hex(), t.maxWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check polls once. It reports done when h reached a terminal state, mined once a receipt
// exists, and an error only for transport failures.
func (t *Tracker) check(ctx context.Context, h *Handle, reason ReasonFunc) (done, mined bool, err error) {
	receipt, err := t.source.TransactionReceipt(ctx, h.TxHash)
	if errors.Is(err, ethereum.NotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	if receipt.Status == types.ReceiptStatusFailed {
		var failure error
		if reason != nil {
			failure = reason(ctx, receipt)
		}
		if failure == nil {
			failure = regerr.New(regerr.CodeChainFailure, "transaction %s reverted", h.TxHash.Hex())
		}
		t.fail(ctx, h, failure)
		return true, true, nil
	}

	block := receipt.BlockNumber.Uint64()
	confirmations := uint64(1)
	if t.confirmations > 1 {
		head, err := t.source.BlockNumber(ctx)
		if err != nil {
			return false, true, err
		}
		if head < block {
			return false, true, nil
		}
		confirmations = head - block + 1
		if confirmations < t.confirmations {
			return false, true, nil
		}
	}

	outcome := &Outcome{
		TxHash:        h.TxHash,
		BlockNumber:   block,
		GasUsed:       receipt.GasUsed,
		Confirmations: confirmations,
		Receipt:       receipt,
	}
	if h.confirm(outcome) {
		t.metrics.observe(h.Op, statusConfirmed, h.SubmittedAt, t.clock())
		t.log.InfoContext(ctx, "transaction confirmed", "handle", h.ID.String(), "tx_hash", h.TxHash.Hex(), "block", block)
	}
	return true, true, nil
}

func (t *Tracker) fail(ctx context.Context, h *Handle, err error) {
	if h.fail(err) {
		t.metrics.observe(h.Op, statusFailed, h.SubmittedAt, t.clock())
		t.log.WarnContext(ctx, "transaction failed", "handle", h.ID.String(), "tx_hash", h.TxHash.Hex(), "error", err)
	}
}
