package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ *MemoryStore }

func (f failingStore) Append(ctx context.Context, turn Turn, limit int) error {
	return errors.New("disk full")
}

func TestRecorder_PerUserOrderAndCap(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 5, 4, 64)

	for i := 0; i < 12; i++ {
		for _, u := range []string{"u1", "u2"} {
			require.True(t, rec.Record(Turn{UserID: u, Query: fmt.Sprintf("q%d", i)}))
		}
	}
	rec.Close()

	for _, u := range []string{"u1", "u2"} {
		turns, err := store.History(context.Background(), u, 0)
		require.NoError(t, err)
		require.Len(t, turns, 5)
		for i, turn := range turns {
			assert.Equal(t, fmt.Sprintf("q%d", 7+i), turn.Query)
		}
	}
}

func TestRecorder_ReportsErrors(t *testing.T) {
	rec := NewRecorder(failingStore{NewMemoryStore()}, 5, 1, 4)
	rec.Record(Turn{UserID: "u1", Query: "q"})
	rec.Close()

	var errs []error
	for err := range rec.Errors() {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "disk full")
}

func TestRecorder_RejectsAfterClose(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), 5, 1, 4)
	rec.Close()
	rec.Close()
	assert.False(t, rec.Record(Turn{UserID: "u1"}))
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, Turn{UserID: "u1", Query: "a"}, 3))
	require.NoError(t, store.Append(ctx, Turn{UserID: "u2", Query: "b"}, 3))
	require.NoError(t, store.Clear(ctx, "u1"))

	turns, _ := store.History(ctx, "u1", 0)
	assert.Empty(t, turns)
	turns, _ = store.History(ctx, "u2", 0)
	assert.Len(t, turns, 1)
}

func TestMemoryStore_LogCreatedOnFirstTurn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	turns, err := store.History(ctx, "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
	require.NoError(t, store.Clear(ctx, "ghost"))
	assert.Empty(t, store.users)

	require.NoError(t, store.Append(ctx, Turn{UserID: "ghost", Query: "hi"}, 3))
	assert.Len(t, store.users, 1)
}
