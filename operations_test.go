package credregistry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-registry/txtracker"
)

func TestOperationStore(t *testing.T) {
	store := NewOperationStore()

	first := &Operation{ID: uuid.New(), Kind: txtracker.OpIssue}
	second := &Operation{ID: uuid.New(), Kind: txtracker.OpRevoke}
	require.NoError(t, store.Add(first))
	require.NoError(t, store.Add(second))

	assert.Error(t, store.Add(first), "duplicate IDs are rejected")
	assert.Error(t, store.Add(nil))
	assert.Error(t, store.Add(&Operation{}))

	got, err := store.Get(second.ID)
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, []*Operation{first, second}, store.List())

	require.NoError(t, store.Delete(first.ID))
	_, err = store.Get(first.ID)
	assert.ErrorIs(t, err, ErrOperationNotFound)
	assert.ErrorIs(t, store.Delete(first.ID), ErrOperationNotFound)
	assert.Equal(t, []*Operation{second}, store.List())
}

func TestOperationWithoutHandleIsIdle(t *testing.T) {
	op := &Operation{ID: uuid.New()}
	assert.Equal(t, txtracker.StateIdle, op.State())

	store := NewOperationStore()
	require.NoError(t, store.Add(op))
	assert.Equal(t, []*Operation{op}, store.Pending())
}
