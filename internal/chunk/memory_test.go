package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/apperr"
)

func TestMemoryRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	_, err := repo.BulkInsert(ctx, []Chunk{
		{SourceKey: "a", Index: 1, Content: "a1", Metadata: Metadata{Year: 2023}},
		{SourceKey: "a", Index: 0, Content: "a0", Metadata: Metadata{Year: 2023}},
		{SourceKey: "b", Index: 0, Content: "b0", Metadata: Metadata{Year: 2024}},
	})
	require.NoError(t, err)

	ready, err := repo.FindByStatus(ctx, StatusReady, Filter{})
	require.NoError(t, err)
	assert.Empty(t, ready, "inserted chunks start processing")

	n, err := repo.MarkReady(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ready, err = repo.FindByStatus(ctx, StatusReady, Filter{Year: 2023})
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "a0", ready[0].Content)
	assert.NotEmpty(t, ready[0].ID)

	total, _ := repo.Count(ctx, "")
	assert.Equal(t, 3, total)

	removed, err := repo.PurgeBySourceKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	total, _ = repo.Count(ctx, "")
	assert.Equal(t, 1, total)
}

func TestMemoryRepo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewMemoryRepo().BulkInsert(ctx, []Chunk{{SourceKey: "a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Inserted)
}

func TestMemoryRepo_RejectsEmptyContent(t *testing.T) {
	res, err := NewMemoryRepo().BulkInsert(context.Background(), []Chunk{
		{SourceKey: "a", Content: "  "},
		{SourceKey: "a", Content: "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, apperr.ErrValidation)
}
