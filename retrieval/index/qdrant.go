package index

import (
	"context"
	"fmt"

	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/resilience"
	"ai-baas/backend/retrieval/models"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored with every point
const (
	payloadUserID     = "user_id"
	payloadFileID     = "file_id"
	payloadChunkIndex = "chunk_index"
	payloadContent    = "content"
)

// QdrantConfig configures the qdrant connection
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  uint64
}

// QdrantIndex is a VectorIndex backed by a qdrant collection
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
}

// NewQdrantIndex connects to qdrant. Call EnsureCollection before use.
func NewQdrantIndex(cfg QdrantConfig, breaker *resilience.CircuitBreaker, log *logger.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		breaker:    breaker,
		log:        log.Module("qdrant"),
	}, nil
}

// EnsureCollection creates the collection and its payload indexes when missing
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}

	for _, field := range []string{payloadUserID, payloadFileID} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create %s index: %w", field, err)
		}
	}

	q.log.Info("qdrant collection created", "collection", q.collection, "dimension", q.dimension)
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(r.Chunk.UserID, r.Chunk.FileID, r.Chunk.ChunkIndex)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadUserID:     int64(r.Chunk.UserID),
				payloadFileID:     int64(r.Chunk.FileID),
				payloadChunkIndex: int64(r.Chunk.ChunkIndex),
				payloadContent:    r.Chunk.Content,
			}),
		}
	}

	wait := true
	return q.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		})
		return err
	})
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, userID uint, limit int) ([]Hit, error) {
	n := uint64(limit)
	var points []*qdrant.ScoredPoint
	err := q.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		points, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQuery(vector...),
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatchInt(payloadUserID, int64(userID))},
			},
			Limit:       &n,
			WithPayload: qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{Chunk: chunkFromPayload(p.GetPayload()), Score: p.GetScore()})
	}
	return hits, nil
}

func (q *QdrantIndex) DeleteByFile(ctx context.Context, fileID uint) error {
	wait := true
	return q.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{qdrant.NewMatchInt(payloadFileID, int64(fileID))},
					},
				},
			},
		})
		return err
	})
}

// FileOwner reads the owner from any one point of the file
func (q *QdrantIndex) FileOwner(ctx context.Context, fileID uint) (uint, bool, error) {
	limit := uint32(1)
	var points []*qdrant.RetrievedPoint
	err := q.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		points, err = q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatchInt(payloadFileID, int64(fileID))},
			},
			Limit:       &limit,
			WithPayload: qdrant.NewWithPayloadInclude(payloadUserID),
		})
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if len(points) == 0 {
		return 0, false, nil
	}
	return uint(points[0].GetPayload()[payloadUserID].GetIntegerValue()), true, nil
}

// Ping is used by the health checker
func (q *QdrantIndex) Ping(ctx context.Context) error {
	_, err := q.client.HealthCheck(ctx)
	return err
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func chunkFromPayload(payload map[string]*qdrant.Value) models.Chunk {
	return models.Chunk{
		UserID:     uint(payload[payloadUserID].GetIntegerValue()),
		FileID:     uint(payload[payloadFileID].GetIntegerValue()),
		ChunkIndex: int(payload[payloadChunkIndex].GetIntegerValue()),
		Content:    payload[payloadContent].GetStringValue(),
	}
}
