// Package index stores chunk embeddings and answers user-scoped similarity queries.
package index

import (
	"context"
	"fmt"

	"ai-baas/backend/retrieval/models"

	"github.com/google/uuid"
)

// Record is one embedded chunk to store
type Record struct {
	Vector []float32
	Chunk  models.Chunk
}

// Hit is a stored chunk with its similarity to the query
type Hit struct {
	Chunk models.Chunk
	Score float32
}

// VectorIndex is the similarity index behind the retrieval augmentor.
// Search only returns chunks owned by userID, ordered by descending score.
type VectorIndex interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, userID uint, limit int) ([]Hit, error)
	DeleteByFile(ctx context.Context, fileID uint) error
	// FileOwner reports the user owning fileID's chunks; found is false when
	// nothing is indexed for the file.
	FileOwner(ctx context.Context, fileID uint) (userID uint, found bool, err error)
}

// PointID derives a stable point ID so re-indexing a file replaces its chunks.
// The owner is part of the ID, so two users can never share a point.
func PointID(userID, fileID uint, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("chunk://%d/%d/%d", userID, fileID, chunkIndex))).String()
}
