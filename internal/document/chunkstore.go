package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ChunkStore persists chunk rows in the chunks table.
//
// Rows are written pending_index=true inside a single transaction and
// flipped to false only after the vector store confirmed the matching
// points. The embedding travels with the row so a vector-store retry never
// has to re-embed.
type ChunkStore struct {
	db     DB
	logger *slog.Logger
}

// NewChunkStore creates a ChunkStore backed by db.
func NewChunkStore(db DB, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{db: db, logger: logger}
}

// UpsertBatch writes all chunks in one transaction, marked pending_index.
// Either every row is visible afterwards or none is. Upserts are keyed by
// chunk id, so re-running the same batch is idempotent.
func (s *ChunkStore) UpsertBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for i := range chunks {
		c := &chunks[i]

		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of chunk %s: %w", c.ID, err)
		}
		var sparse []byte
		if c.Sparse != nil {
			if sparse, err = json.Marshal(c.Sparse); err != nil {
				return fmt.Errorf("marshal sparse embedding of chunk %s: %w", c.ID, err)
			}
		}
		var pageHint *int
		if c.PageHint > 0 {
			pageHint = &c.PageHint
		}

		batch.Queue(
			`INSERT INTO chunks (id, file_path, ordinal, page_hint, content, embedding, sparse, pending_index, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content,
			   embedding = EXCLUDED.embedding,
			   sparse = EXCLUDED.sparse,
			   page_hint = EXCLUDED.page_hint,
			   pending_index = true,
			   metadata = EXCLUDED.metadata`,
			c.ID, c.FilePath, c.Ordinal, pageHint, c.Content,
			pgvector.NewVector(c.Embedding), sparse, metadata)
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert chunk batch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close chunk batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}

	s.logger.Debug("chunk batch upserted", "path", chunks[0].FilePath, "count", len(chunks))
	return nil
}

// MarkIndexed clears pending_index for every chunk of the document.
// Called after the vector store confirmed all points.
func (s *ChunkStore) MarkIndexed(ctx context.Context, filePath string) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE chunks SET pending_index = false WHERE file_path = $1`, filePath); err != nil {
		return fmt.Errorf("mark chunks indexed for %q: %w", filePath, err)
	}
	return nil
}

// ListPending returns the chunks of a document still flagged pending_index,
// embeddings included, ordered by ordinal.
func (s *ChunkStore) ListPending(ctx context.Context, filePath string) ([]Chunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, file_path, ordinal, page_hint, content, embedding, sparse, metadata, created_at
		 FROM chunks WHERE file_path = $1 AND pending_index ORDER BY ordinal`, filePath)
	if err != nil {
		return nil, fmt.Errorf("list pending chunks for %q: %w", filePath, err)
	}
	defer rows.Close()
	return s.collectChunks(rows)
}

// ListByPath returns every chunk of a document ordered by ordinal.
func (s *ChunkStore) ListByPath(ctx context.Context, filePath string) ([]Chunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, file_path, ordinal, page_hint, content, embedding, sparse, metadata, created_at
		 FROM chunks WHERE file_path = $1 ORDER BY ordinal`, filePath)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %q: %w", filePath, err)
	}
	defer rows.Close()
	return s.collectChunks(rows)
}

// ListIDsByPath returns the chunk ids of a document ordered by ordinal.
func (s *ChunkStore) ListIDsByPath(ctx context.Context, filePath string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM chunks WHERE file_path = $1 ORDER BY ordinal`, filePath)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids for %q: %w", filePath, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chunk ids for %q: %w", filePath, err)
	}
	return ids, nil
}

// GetByIDs returns the chunks for the given ids. Ids with no matching row
// are simply absent from the result; callers decide how to treat the gap.
func (s *ChunkStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, file_path, ordinal, page_hint, content, embedding, sparse, metadata, created_at
		 FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()
	return s.collectChunks(rows)
}

// DeleteByPath removes every chunk of a document. Used by the reconciler's
// delete-before-recreate phase; the registry row stays in place.
func (s *ChunkStore) DeleteByPath(ctx context.Context, filePath string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE file_path = $1`, filePath)
	if err != nil {
		return fmt.Errorf("delete chunks for %q: %w", filePath, err)
	}
	s.logger.Debug("chunks deleted", "path", filePath, "count", tag.RowsAffected())
	return nil
}

func (s *ChunkStore) collectChunks(rows pgx.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var (
			c        Chunk
			pageHint *int
			vec      pgvector.Vector
			sparse   []byte
			metadata []byte
		)
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Ordinal, &pageHint, &c.Content,
			&vec, &sparse, &metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if pageHint != nil {
			c.PageHint = *pageHint
		}
		c.Embedding = vec.Slice()
		if len(sparse) > 0 {
			c.Sparse = &SparseEmbedding{}
			if err := json.Unmarshal(sparse, c.Sparse); err != nil {
				s.logger.Warn("failed to parse sparse embedding", "chunk_id", c.ID, "error", err)
				c.Sparse = nil
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
				s.logger.Warn("failed to parse chunk metadata", "chunk_id", c.ID, "error", err)
				c.Metadata = map[string]any{}
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}
