package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"ai-baas/backend/pkg/cache"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/shared/redis"
)

// VectorCache stores embeddings by key. Misses are not errors.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vector []float32)
}

// RedisVectorCache keeps vectors in redis as little-endian float32 blobs
type RedisVectorCache struct {
	client *redis.RedisClient
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisVectorCache(client *redis.RedisClient, ttl time.Duration, log *logger.Logger) *RedisVectorCache {
	return &RedisVectorCache{client: client, ttl: ttl, log: log.Module("embedding_cache")}
}

func (c *RedisVectorCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrMiss) {
			c.log.Warn("embedding cache read failed", "error", err.Error())
		}
		return nil, false
	}
	vec, ok := decodeVector(b)
	return vec, ok
}

func (c *RedisVectorCache) Set(ctx context.Context, key string, vector []float32) {
	if err := c.client.Set(ctx, key, encodeVector(vector), c.ttl); err != nil {
		c.log.Warn("embedding cache write failed", "error", err.Error())
	}
}

// MemoryVectorCache is the in-process fallback
type MemoryVectorCache struct {
	items *cache.Cache[[]float32]
}

func NewMemoryVectorCache(items *cache.Cache[[]float32]) *MemoryVectorCache {
	return &MemoryVectorCache{items: items}
}

func (c *MemoryVectorCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.items.Get(key)
}

func (c *MemoryVectorCache) Set(_ context.Context, key string, vector []float32) {
	c.items.Set(key, vector)
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}

// CachedEmbedder serves repeated texts from a VectorCache
type CachedEmbedder struct {
	next  Embedder
	cache VectorCache
	model string
}

func NewCachedEmbedder(next Embedder, c VectorCache, model string) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: c, model: model}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// EmbedDocuments only sends cache misses upstream, in one batch
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(ctx, c.key(t)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vectors[j]
		c.cache.Set(ctx, c.key(missTexts[j]), vectors[j])
	}
	return out, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.cache.Get(ctx, k); ok {
		return v, nil
	}
	v, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, k, v)
	return v, nil
}
