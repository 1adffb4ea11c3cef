package credregistry

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/txtracker"
)

// ErrOperationNotFound is returned when no operation with the given ID is stored.
var ErrOperationNotFound = errors.New("operation not found")

// Operation is one user-initiated registry write and the handle tracking it.
type Operation struct {
	ID      uuid.UUID
	Kind    txtracker.Operation
	DocHash fingerprint.Digest
	Handle  *txtracker.Handle
}

// State returns the current transaction state.
func (o *Operation) State() txtracker.State {
	if o.Handle == nil {
		return txtracker.StateIdle
	}
	return o.Handle.State()
}

// OperationStore keeps submitted operations in a thread-safe manner.
type OperationStore struct {
	operations map[uuid.UUID]*Operation
	order      []uuid.UUID
	mu         sync.RWMutex
}

// NewOperationStore initializes an empty OperationStore.
func NewOperationStore() *OperationStore {
	return &OperationStore{
		operations: make(map[uuid.UUID]*Operation),
	}
}

// Add stores op under its ID.
func (s *OperationStore) Add(op *Operation) error {
	if op == nil || op.ID == uuid.Nil {
		return errors.New("operation and its ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[op.ID]; exists {
		return errors.New("operation already stored")
	}
	s.operations[op.ID] = op
	s.order = append(s.order, op.ID)
	return nil
}

// Get retrieves an operation by ID.
func (s *OperationStore) Get(id uuid.UUID) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, exists := s.operations[id]
	if !exists {
		return nil, ErrOperationNotFound
	}
	return op, nil
}

// Delete forgets an operation. Its transaction is still tracked until the handle settles.
func (s *OperationStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[id]; !exists {
		return ErrOperationNotFound
	}
	delete(s.operations, id)
	s.order = slices.DeleteFunc(s.order, func(o uuid.UUID) bool { return o == id })
	return nil
}

// List returns the stored operations in submission order.
func (s *OperationStore) List() []*Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := make([]*Operation, 0, len(s.order))
	for _, id := range s.order {
		ops = append(ops, s.operations[id])
	}
	return ops
}

// Pending returns the operations whose transactions have not settled yet.
func (s *OperationStore) Pending() []*Operation {
	return slices.DeleteFunc(s.List(), func(op *Operation) bool {
		return op.State().Terminal()
	})
}
