package index

import (
	"context"
	"testing"

	"ai-baas/backend/retrieval/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(user, file uint, idx int, vec ...float32) Record {
	return Record{Vector: vec, Chunk: models.Chunk{UserID: user, FileID: file, ChunkIndex: idx, Content: "c"}}
}

func TestMemoryIndexFiltersByOwnerBeforeRanking(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []Record{
		rec(2, 20, 0, 1, 0), // exact match, other user
		rec(1, 10, 0, 0.6, 0.8),
		rec(1, 10, 1, 0, 1),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 1, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.EqualValues(t, 1, h.Chunk.UserID)
	}
	assert.Equal(t, 0, hits[0].Chunk.ChunkIndex)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryIndexLimitAndTieBreak(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []Record{
		rec(1, 11, 1, 1, 0),
		rec(1, 11, 0, 1, 0),
		rec(1, 10, 3, 1, 0),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 1, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.EqualValues(t, 10, hits[0].Chunk.FileID)
	assert.EqualValues(t, 11, hits[1].Chunk.FileID)
	assert.Equal(t, 0, hits[1].Chunk.ChunkIndex)
}

func TestMemoryIndexDeleteByFileAndReplace(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []Record{rec(1, 10, 0, 1), rec(1, 10, 1, 1), rec(1, 11, 0, 1)}))
	require.NoError(t, idx.Upsert(ctx, []Record{rec(1, 10, 0, 1)}))
	assert.Equal(t, 3, idx.Len())

	require.NoError(t, idx.DeleteByFile(ctx, 10))
	assert.Equal(t, 1, idx.Len())
}

func TestPointIDStable(t *testing.T) {
	assert.Equal(t, PointID(1, 1, 2), PointID(1, 1, 2))
	assert.NotEqual(t, PointID(1, 1, 2), PointID(1, 2, 1))
	assert.NotEqual(t, PointID(1, 7, 0), PointID(2, 7, 0))
}

func TestMemoryIndexFileOwner(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []Record{rec(3, 30, 0, 1), rec(3, 30, 1, 1)}))

	owner, found, err := idx.FileOwner(ctx, 30)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 3, owner)

	_, found, err = idx.FileOwner(ctx, 31)
	require.NoError(t, err)
	assert.False(t, found)
}
