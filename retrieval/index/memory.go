package index

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using cosine similarity. It backs
// deployments without qdrant and the tests.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Record)}
}

func (m *MemoryIndex) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		r.Vector = vec
		m.points[PointID(r.Chunk.UserID, r.Chunk.FileID, r.Chunk.ChunkIndex)] = r
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, userID uint, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hits := make([]Hit, 0)
	for _, r := range m.points {
		// ownership filter runs before scoring
		if r.Chunk.UserID != userID {
			continue
		}
		hits = append(hits, Hit{Chunk: r.Chunk, Score: cosine(vector, r.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Chunk.FileID != hits[j].Chunk.FileID {
			return hits[i].Chunk.FileID < hits[j].Chunk.FileID
		}
		return hits[i].Chunk.ChunkIndex < hits[j].Chunk.ChunkIndex
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) DeleteByFile(_ context.Context, fileID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.points {
		if r.Chunk.FileID == fileID {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) FileOwner(_ context.Context, fileID uint) (uint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.points {
		if r.Chunk.FileID == fileID {
			return r.Chunk.UserID, true, nil
		}
	}
	return 0, false, nil
}

// Len returns the number of stored chunks
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
