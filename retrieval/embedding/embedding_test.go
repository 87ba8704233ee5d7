package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-baas/backend/pkg/cache"
	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	docCalls [][]string
	queries  int
	err      error
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	c.docCalls = append(c.docCalls, texts)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	c.queries++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

func TestCachedEmbedderBatchesMisses(t *testing.T) {
	ctx := context.Background()
	next := &countingEmbedder{}
	e := NewCachedEmbedder(next, NewMemoryVectorCache(cache.New[[]float32](time.Hour, 0)), "m")

	_, err := e.EmbedDocuments(ctx, []string{"a", "bb"})
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, vecs)

	require.Len(t, next.docCalls, 2)
	assert.Equal(t, []string{"ccc"}, next.docCalls[1])
}

func TestCachedEmbedderQuery(t *testing.T) {
	ctx := context.Background()
	next := &countingEmbedder{}
	e := NewCachedEmbedder(next, NewMemoryVectorCache(cache.New[[]float32](time.Hour, 0)), "m")

	for i := 0; i < 3; i++ {
		v, err := e.EmbedQuery(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{5}, v)
	}
	assert.Equal(t, 1, next.queries)
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	next := &countingEmbedder{err: errors.New("down")}
	e := NewCachedEmbedder(next, NewMemoryVectorCache(cache.New[[]float32](time.Hour, 0)), "m")

	_, err := e.EmbedQuery(ctx, "x")
	require.Error(t, err)
	next.err = nil
	_, err = e.EmbedQuery(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, next.queries)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, ok := decodeVector(encodeVector(v))
	require.True(t, ok)
	assert.Equal(t, v, got)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestLangchainEmbedderWrapsFailures(t *testing.T) {
	log := logger.Discard()
	e := NewLangchainEmbedder(&countingEmbedder{err: errors.New("429")}, resilience.NewCircuitBreaker(resilience.DefaultConfig("embedding"), log))

	_, err := e.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}
