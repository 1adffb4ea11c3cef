package txtracker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-registry/regerr"
)

var testTx = common.HexToHash("0x9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")

type fakeSource struct {
	mu      sync.Mutex
	receipt *types.Receipt
	err     error
	head    uint64
	polls   int
}

func (f *fakeSource) TransactionReceipt(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) mine(status uint64, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipt = &types.Receipt{
		Status:      status,
		TxHash:      testTx,
		BlockNumber: new(big.Int).SetUint64(block),
		GasUsed:     50_000,
	}
	if f.head < block {
		f.head = block
	}
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func newTestTracker(source ReceiptSource, options ...Option) (*Tracker, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	opts := append([]Option{WithPollInterval(5 * time.Millisecond), WithMetrics(m)}, options...)
	return New(source, opts...), m
}

func awaitWithin(t *testing.T, tr *Tracker, h *Handle, d time.Duration) (*Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return tr.Await(ctx, h)
}

func TestTrackConfirmed(t *testing.T) {
	source := &fakeSource{}
	tr, m := newTestTracker(source)

	h := tr.Track(context.Background(), OpIssue, testTx, nil)
	assert.Equal(t, StatePending, h.State())
	assert.NotEqual(t, h.ID.String(), "")

	source.mine(types.ReceiptStatusSuccessful, 42)

	outcome, err := awaitWithin(t, tr, h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, h.State())
	assert.Equal(t, uint64(42), outcome.BlockNumber)
	assert.Equal(t, testTx, outcome.TxHash)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("issue", "confirmed")))
}

func TestTrackReverted(t *testing.T) {
	source := &fakeSource{}
	tr, m := newTestTracker(source)

	source.mine(types.ReceiptStatusFailed, 7)
	reason := func(_ context.Context, receipt *types.Receipt) error {
		return regerr.New(regerr.CodeAlreadyIssued, "AlreadyIssued() at block %d", receipt.BlockNumber.Uint64())
	}

	h := tr.Track(context.Background(), OpIssue, testTx, reason)
	_, err := awaitWithin(t, tr, h, time.Second)
	assert.ErrorIs(t, err, regerr.ErrAlreadyIssued)
	assert.Contains(t, err.Error(), "block 7")
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("issue", "failed")))
}

func TestTrackRevertedWithoutReason(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(source)

	source.mine(types.ReceiptStatusFailed, 7)
	h := tr.Track(context.Background(), OpRevoke, testTx, func(context.Context, *types.Receipt) error { return nil })

	_, err := awaitWithin(t, tr, h, time.Second)
	assert.ErrorIs(t, err, regerr.ErrChain)
}

func TestAwaitTimeoutIsUnresolved(t *testing.T) {
	source := &fakeSource{}
	tr, m := newTestTracker(source)

	h := tr.Track(context.Background(), OpIssueWithSignature, testTx, nil)

	_, err := awaitWithin(t, tr, h, 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, regerr.ErrUnresolved)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, regerr.ErrChain)
	assert.Equal(t, regerr.KindTimeout, regerr.KindOf(err))
	assert.Equal(t, StatePending, h.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnresolvedWaits.WithLabelValues("issue_with_signature")))

	// The transaction lands after the caller gave up.
	source.mine(types.ReceiptStatusSuccessful, 9)
	outcome, err := awaitWithin(t, tr, h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), outcome.BlockNumber)

	// Outcomes counts the transaction once, under its terminal status.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Outcomes.WithLabelValues("issue_with_signature", "confirmed")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Outcomes))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(source)

	source.mine(types.ReceiptStatusSuccessful, 3)
	h := tr.Track(context.Background(), OpIssue, testTx, nil)
	_, err := awaitWithin(t, tr, h, time.Second)
	require.NoError(t, err)

	assert.False(t, h.fail(errors.New("late failure")))
	assert.False(t, h.markPending())
	assert.False(t, h.confirm(&Outcome{}))
	assert.Equal(t, StateConfirmed, h.State())

	outcome, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), outcome.BlockNumber)
}

func TestTransportErrorsFailAfterLimit(t *testing.T) {
	source := &fakeSource{}
	source.setErr(errors.New("connection refused"))
	tr, _ := newTestTracker(source, WithMaxPollErrors(3))

	h := tr.Track(context.Background(), OpRevoke, testTx, nil)
	_, err := awaitWithin(t, tr, h, time.Second)
	assert.ErrorIs(t, err, regerr.ErrChain)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateFailed, h.State())

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 3, source.polls)
}

func TestConfirmationDepth(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(source, WithConfirmations(3))

	source.mine(types.ReceiptStatusSuccessful, 10)
	h := tr.Track(context.Background(), OpIssue, testTx, nil)

	_, err := awaitWithin(t, tr, h, 30*time.Millisecond)
	assert.ErrorIs(t, err, regerr.ErrUnresolved)

	source.setHead(12)
	outcome, err := awaitWithin(t, tr, h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), outcome.Confirmations)
}

func TestMaxWaitFailsDroppedTransaction(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(source, WithMaxWait(15*time.Millisecond))

	h := tr.Track(context.Background(), OpIssue, testTx, nil)
	_, err := awaitWithin(t, tr, h, time.Second)
	assert.ErrorIs(t, err, regerr.ErrChain)
	assert.Equal(t, StateFailed, h.State())
}

func TestMaxWaitSparesMinedTransaction(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(source, WithConfirmations(3), WithMaxWait(30*time.Millisecond))

	source.mine(types.ReceiptStatusSuccessful, 10)
	h := tr.Track(context.Background(), OpIssue, testTx, nil)

	// Still short of its confirmations well past the max wait.
	_, err := awaitWithin(t, tr, h, 80*time.Millisecond)
	assert.ErrorIs(t, err, regerr.ErrUnresolved)
	assert.Equal(t, StatePending, h.State())

	source.setHead(20)
	outcome, err := awaitWithin(t, tr, h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, h.State())
	assert.Equal(t, uint64(11), outcome.Confirmations)
}

func TestStoppedTrackingLeavesHandlePending(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(source)

	ctx, cancel := context.WithCancel(context.Background())
	h := tr.Track(ctx, OpIssue, testTx, nil)
	cancel()

	source.mine(types.ReceiptStatusSuccessful, 5)
	_, err := awaitWithin(t, tr, h, 30*time.Millisecond)
	assert.ErrorIs(t, err, regerr.ErrUnresolved)
	assert.Equal(t, StatePending, h.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "confirmed", StateConfirmed.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.False(t, StatePending.Terminal())
	assert.True(t, StateFailed.Terminal())
}
