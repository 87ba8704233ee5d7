package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/retrieval/embedding"
	"ai-baas/backend/retrieval/index"
	"ai-baas/backend/retrieval/models"
	"ai-baas/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ai-baas/backend/retrieval")

// Augmentor indexes document text and finds chunks relevant to a query
type Augmentor struct {
	embedder  embedding.Embedder
	index     index.VectorIndex
	chunkSize int
	overlap   int
	metrics   *observability.Metrics
	log       *logger.Logger
}

func NewAugmentor(embedder embedding.Embedder, idx index.VectorIndex, chunkSize, overlap int, metrics *observability.Metrics, log *logger.Logger) *Augmentor {
	return &Augmentor{
		embedder:  embedder,
		index:     idx,
		chunkSize: chunkSize,
		overlap:   overlap,
		metrics:   metrics,
		log:       log.Module("retrieval"),
	}
}

func upstream(service string, err error) error {
	if apperrors.Is(err, apperrors.ErrUpstream) {
		return err
	}
	return apperrors.Upstream(service, err)
}

// Chunk splits text with the configured size and overlap
func (a *Augmentor) Chunk(text string) ([]string, error) {
	return Chunk(text, a.chunkSize, a.overlap)
}

// Index embeds and stores chunks tagged with their file and owner, returning
// how many were stored.
func (a *Augmentor) Index(ctx context.Context, chunks []string, fileID, userID uint) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "retrieval.index", trace.WithAttributes(
		attribute.Int64("file.id", int64(fileID)),
		attribute.Int("chunks", len(chunks)),
	))
	defer span.End()

	vectors, err := a.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		return 0, upstream("embedding", err)
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		span.RecordError(err)
		return 0, upstream("embedding", err)
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{
			Vector: vectors[i],
			Chunk: models.Chunk{
				FileID:     fileID,
				UserID:     userID,
				ChunkIndex: i,
				Content:    c,
			},
		}
	}

	if err := a.index.Upsert(ctx, records); err != nil {
		span.RecordError(err)
		return 0, upstream("vector_index", err)
	}

	a.log.Info("chunks indexed", "file_id", fileID, "user_id", userID, "chunks", len(records))
	return len(records), nil
}

// checkFileOwner fails with NotFound when fileID already holds another
// user's chunks. A file with nothing indexed belongs to whoever indexes it.
func (a *Augmentor) checkFileOwner(ctx context.Context, fileID, userID uint) error {
	owner, found, err := a.index.FileOwner(ctx, fileID)
	if err != nil {
		return upstream("vector_index", err)
	}
	if found && owner != userID {
		a.log.Warn("document owned by another user", "file_id", fileID, "user_id", userID)
		return apperrors.NotFound("document %d not found", fileID)
	}
	return nil
}

// IndexDocument replaces everything userID has indexed for fileID with chunks of text
func (a *Augmentor) IndexDocument(ctx context.Context, fileID, userID uint, text string) (int, error) {
	chunks, err := a.Chunk(text)
	if err != nil {
		return 0, err
	}
	if err := a.checkFileOwner(ctx, fileID, userID); err != nil {
		return 0, err
	}
	if err := a.DeleteByFile(ctx, fileID); err != nil {
		return 0, err
	}
	return a.Index(ctx, chunks, fileID, userID)
}

// Query returns up to limit of the user's chunks most similar to text
func (a *Augmentor) Query(ctx context.Context, text string, userID uint, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		return nil, apperrors.InvalidConfig("limit must be positive, got %d", limit)
	}
	if strings.TrimSpace(text) == "" {
		return []models.SearchResult{}, nil
	}

	ctx, span := tracer.Start(ctx, "retrieval.query", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()
	start := time.Now()

	vector, err := a.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		a.metrics.RecordRetrieval(ctx, time.Since(start), 0, err)
		return nil, upstream("embedding", err)
	}

	hits, err := a.index.Search(ctx, vector, userID, limit)
	if err != nil {
		span.RecordError(err)
		a.metrics.RecordRetrieval(ctx, time.Since(start), 0, err)
		return nil, upstream("vector_index", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Chunk.UserID != userID {
			a.log.Error("index returned a chunk owned by another user, dropping it",
				"file_id", h.Chunk.FileID, "chunk_index", h.Chunk.ChunkIndex)
			continue
		}
		results = append(results, models.SearchResult{
			Content:    h.Chunk.Content,
			FileID:     h.Chunk.FileID,
			ChunkIndex: h.Chunk.ChunkIndex,
			Score:      h.Score,
		})
	}

	a.metrics.RecordRetrieval(ctx, time.Since(start), len(results), nil)
	return results, nil
}

// DeleteDocument removes fileID's chunks on behalf of userID. Deleting a file
// with nothing indexed succeeds.
func (a *Augmentor) DeleteDocument(ctx context.Context, fileID, userID uint) error {
	if err := a.checkFileOwner(ctx, fileID, userID); err != nil {
		return err
	}
	return a.DeleteByFile(ctx, fileID)
}

// DeleteByFile removes every chunk indexed for fileID, whoever owns it
func (a *Augmentor) DeleteByFile(ctx context.Context, fileID uint) error {
	if err := a.index.DeleteByFile(ctx, fileID); err != nil {
		return upstream("vector_index", err)
	}
	a.log.Info("file chunks deleted", "file_id", fileID)
	return nil
}
