package txtracker

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/pilacorp/go-credential-registry/regerr"
)

// State is the lifecycle position of a tracked transaction.
type State int

const (
	StateIdle State = iota
	StatePending
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s can no longer change.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Operation names the registry call a handle tracks.
type Operation string

const (
	OpIssue              Operation = "issue"
	OpRevoke             Operation = "revoke"
	OpIssueWithSignature Operation = "issue_with_signature"
)

// Outcome describes a confirmed transaction.
type Outcome struct {
	TxHash        common.Hash
	BlockNumber   uint64
	GasUsed       uint64
	Confirmations uint64
	Receipt       *types.Receipt
}

// Handle is the future for one submitted transaction. It is safe for concurrent use; terminal
// states are final.
type Handle struct {
	ID          uuid.UUID
	Op          Operation
	TxHash      common.Hash
	SubmittedAt time.Time

	mu      sync.Mutex
	state   State
	outcome *Outcome
	err     error
	done    chan struct{}
}

func newHandle(op Operation, hash common.Hash, now time.Time) *Handle {
	return &Handle{
		ID:          uuid.New(),
		Op:          op,
		TxHash:      hash,
		SubmittedAt: now,
		state:       StateIdle,
		done:        make(chan struct{}),
	}
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome or failure of a terminal handle, and nil, nil before that.
func (h *Handle) Result() (*Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}

// Await blocks until the handle is terminal or ctx ends. When ctx ends first the transaction's
// fate is unknown: Await returns an Unresolved error and the handle stays Pending, so a later
// Await may still observe the confirmation.
func (h *Handle) Await(ctx context.Context) (*Outcome, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		// A terminal transition may have raced the deadline.
		if h.State().Terminal() {
			return h.Result()
		}
		return nil, regerr.Wrap(regerr.CodeUnresolved, ctx.Err(), "transaction "+h.TxHash.Hex()+" is still pending")
	}
}

func (h *Handle) markPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateIdle {
		return false
	}
	h.state = StatePending
	return true
}

func (h *Handle) confirm(outcome *Outcome) bool {
	return h.finish(StateConfirmed, outcome, nil)
}

func (h *Handle) fail(err error) bool {
	return h.finish(StateFailed, nil, err)
}

func (h *Handle) finish(state State, outcome *Outcome, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePending {
		return false
	}
	h.state = state
	h.outcome = outcome
	h.err = err
	close(h.done)
	return true
}
