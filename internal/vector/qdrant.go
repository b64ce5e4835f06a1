// Package vector wraps the Qdrant client behind the operations the
// ingestion and query paths need: idempotent upsert-by-id, delete-by-id and
// delete-by-document, and similarity search returning (id, score) pairs.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/wragapp/wrag/internal/document"
)

// upsertBatchSize bounds points per upsert request.
const upsertBatchSize = 100

// ScoredID is one similarity search hit.
type ScoredID struct {
	ID    uuid.UUID
	Score float32
}

// Store manages the chunk collection in Qdrant.
//
// Point ids are the deterministic chunk UUIDs, so upserts are idempotent and
// a retry after partial failure cannot duplicate points.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// New creates a Store and verifies Qdrant is reachable, retrying with
// exponential backoff before giving up.
func New(host string, port int, collection string, dimension int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &Store{
		client:     client,
		collection: collection,
		dimension:  dimension,
		logger:     logger,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return s, nil
}

// healthCheckWithRetry pings Qdrant with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		result, err := s.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if result == nil || result.Title == "" {
			return fmt.Errorf("health check returned invalid response")
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// EnsureCollection creates the chunk collection if it does not exist:
// cosine distance, configured dimension, keyword index on file_path for
// delete-by-document filters. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without this index delete-by-file_path filters degrade badly.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "file_path",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create file_path index: %w", err)
	}

	s.logger.Info("qdrant collection created", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// UpsertChunks writes chunk vectors, batched, retrying each batch with
// bounded exponential backoff. Upserts are keyed by chunk id; re-running the
// same batch after a partial failure is safe.
func (s *Store) UpsertChunks(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i := range chunks {
		if len(chunks[i].Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, chunks[i].ID, len(chunks[i].Embedding), s.dimension)
		}
	}

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))

		batch := chunks[start:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j := range batch {
			c := &batch[j]
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(c.ID.String()),
				Vectors: qdrant.NewVectors(c.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"file_path": c.FilePath,
					"ordinal":   int64(c.Ordinal),
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", start, end, err)
		}
	}

	s.logger.Debug("chunk vectors upserted", "path", chunks[0].FilePath, "count", len(chunks))
	return nil
}

// upsertWithRetry performs one upsert with exponential backoff.
func (s *Store) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(bo, ctx))
}

// DeleteByIDs removes the given points.
func (s *Store) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id.String())
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d points: %w", len(ids), err)
	}
	return nil
}

// DeleteByFilePath removes every point belonging to the document.
func (s *Store) DeleteByFilePath(ctx context.Context, filePath string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("file_path", filePath),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for %q: %w", filePath, err)
	}
	s.logger.Debug("vectors deleted", "path", filePath)
	return nil
}

// ListIDsByFilePath returns the point ids stored for a document.
// Used by consistency checks after a commit.
func (s *Store) ListIDsByFilePath(ctx context.Context, filePath string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var offset *qdrant.PointId
	batchSize := uint32(256)

	// The raw points client exposes next_page_offset, which the scroll
	// convenience wrapper drops. The scroll offset parameter is inclusive,
	// so paginating by last-returned id would re-read the boundary point.
	points := s.client.GetPointsClient()

	for {
		resp, err := points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch("file_path", filePath),
				},
			},
			Limit:  qdrant.PtrOf(batchSize),
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points for %q: %w", filePath, err)
		}

		for _, result := range resp.GetResult() {
			id, err := uuid.Parse(result.Id.GetUuid())
			if err != nil {
				return nil, fmt.Errorf("unexpected point id %q: %w", result.Id.GetUuid(), err)
			}
			ids = append(ids, id)
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

// Search performs similarity search and returns (id, score) pairs ordered
// by score descending.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]ScoredID, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	hits := make([]ScoredID, 0, len(results))
	for _, result := range results {
		id, err := uuid.Parse(result.Id.GetUuid())
		if err != nil {
			return nil, fmt.Errorf("unexpected point id %q: %w", result.Id.GetUuid(), err)
		}
		hits = append(hits, ScoredID{ID: id, Score: result.Score})
	}
	return hits, nil
}

// Close closes the Qdrant client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
