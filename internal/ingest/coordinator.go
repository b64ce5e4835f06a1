package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wragapp/wrag/internal/document"
)

// ChunkWriter is the relational side of a commit.
// *document.ChunkStore satisfies this interface.
type ChunkWriter interface {
	// UpsertBatch writes all chunks in one transaction, flagged pending_index.
	UpsertBatch(ctx context.Context, chunks []document.Chunk) error

	// MarkIndexed clears pending_index for every chunk of the document.
	MarkIndexed(ctx context.Context, filePath string) error

	// ListPending returns the document's chunks still flagged pending_index,
	// embeddings included.
	ListPending(ctx context.Context, filePath string) ([]document.Chunk, error)

	// DeleteByPath removes every chunk of the document.
	DeleteByPath(ctx context.Context, filePath string) error

	// ListIDsByPath returns the document's chunk ids.
	ListIDsByPath(ctx context.Context, filePath string) ([]uuid.UUID, error)
}

// VectorWriter is the vector-store side of a commit.
// *vector.Store satisfies this interface; its upserts are idempotent and
// internally retried with bounded exponential backoff.
type VectorWriter interface {
	UpsertChunks(ctx context.Context, chunks []document.Chunk) error
	DeleteByFilePath(ctx context.Context, filePath string) error
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
	ListIDsByFilePath(ctx context.Context, filePath string) ([]uuid.UUID, error)
}

// CommitResult reports what a commit wrote.
type CommitResult struct {
	SourceKey string
	Chunks    int
}

// Coordinator persists a batch of embedded chunks to both stores as one
// logical unit with defined partial-failure recovery.
type Coordinator struct {
	chunks          ChunkWriter
	vectors         VectorWriter
	metadataTimeout time.Duration
	vectorTimeout   time.Duration
	logger          *slog.Logger
}

// NewCoordinator creates a Coordinator. Timeouts bound each store phase;
// a timeout is treated exactly like a failure of that phase.
func NewCoordinator(chunks ChunkWriter, vectors VectorWriter, metadataTimeout, vectorTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		chunks:          chunks,
		vectors:         vectors,
		metadataTimeout: metadataTimeout,
		vectorTimeout:   vectorTimeout,
		logger:          logger,
	}
}

// Commit writes chunk metadata to the relational store and chunk vectors to
// the vector store.
//
// Phase 1 is a single relational transaction; on failure nothing is visible
// and ErrMetadataWriteFailed is returned without retry (caller/input
// error). Phase 2 upserts vectors; on failure the committed rows remain
// flagged pending_index and ErrVectorWriteFailed is returned. The
// relational store stays the source of truth for what should exist, and
// RetryPending re-runs phase 2 alone.
//
// After a nil return, every chunk id present in the relational store for
// sourceKey has a vector, and vice versa.
func (c *Coordinator) Commit(ctx context.Context, sourceKey string, chunks []document.Chunk) (CommitResult, error) {
	result := CommitResult{SourceKey: sourceKey, Chunks: len(chunks)}

	mctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()
	if err := c.chunks.UpsertBatch(mctx, chunks); err != nil {
		return result, fmt.Errorf("%w: %v", ErrMetadataWriteFailed, err)
	}

	if err := c.commitVectors(ctx, sourceKey, chunks); err != nil {
		return result, err
	}

	c.logger.Info("commit complete", "source_key", sourceKey, "chunks", len(chunks))
	return result, nil
}

// RetryPending re-runs the vector phase for rows still flagged
// pending_index, using the embeddings persisted in the relational store.
// Returns the number of chunks retried; zero means both stores already
// agree.
func (c *Coordinator) RetryPending(ctx context.Context, sourceKey string) (int, error) {
	mctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()
	pending, err := c.chunks.ListPending(mctx, sourceKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMetadataWriteFailed, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err := c.commitVectors(ctx, sourceKey, pending); err != nil {
		return 0, err
	}

	c.logger.Info("pending chunks re-indexed", "source_key", sourceKey, "chunks", len(pending))
	return len(pending), nil
}

// VerifyResult reports how the two stores compare for one document.
type VerifyResult struct {
	SourceKey string
	// Missing counts relational chunks with no vector point. Non-zero
	// means a vector phase was lost; RetryPending or a full reconcile
	// restores them.
	Missing int
	// Orphans counts vector points that had no relational row. They are
	// already deleted when Verify returns.
	Orphans int
}

// Agree reports whether both stores held the same chunk ids, counting
// orphans as disagreement even though Verify removed them.
func (v VerifyResult) Agree() bool { return v.Missing == 0 && v.Orphans == 0 }

// Verify compares the chunk ids both stores hold for sourceKey. The
// relational store is the source of truth: vector points with no matching
// row are deleted, rows with no vector point are counted and left to the
// caller to repair.
func (c *Coordinator) Verify(ctx context.Context, sourceKey string) (VerifyResult, error) {
	result := VerifyResult{SourceKey: sourceKey}

	mctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()
	rowIDs, err := c.chunks.ListIDsByPath(mctx, sourceKey)
	if err != nil {
		return result, fmt.Errorf("list chunk ids for %q: %w", sourceKey, err)
	}

	vctx, cancel := context.WithTimeout(ctx, c.vectorTimeout)
	defer cancel()
	pointIDs, err := c.vectors.ListIDsByFilePath(vctx, sourceKey)
	if err != nil {
		return result, fmt.Errorf("list vector ids for %q: %w", sourceKey, err)
	}

	rows := make(map[uuid.UUID]bool, len(rowIDs))
	for _, id := range rowIDs {
		rows[id] = true
	}
	points := make(map[uuid.UUID]bool, len(pointIDs))
	var orphans []uuid.UUID
	for _, id := range pointIDs {
		points[id] = true
		if !rows[id] {
			orphans = append(orphans, id)
		}
	}
	for _, id := range rowIDs {
		if !points[id] {
			result.Missing++
		}
	}

	if len(orphans) > 0 {
		dctx, cancel := context.WithTimeout(ctx, c.vectorTimeout)
		defer cancel()
		if err := c.vectors.DeleteByIDs(dctx, orphans); err != nil {
			return result, fmt.Errorf("%w: deleting orphaned points: %v", ErrVectorWriteFailed, err)
		}
		result.Orphans = len(orphans)
		c.logger.Warn("orphaned vector points deleted",
			"source_key", sourceKey, "orphans", len(orphans))
	}
	if result.Missing > 0 {
		c.logger.Warn("chunks missing vector points",
			"source_key", sourceKey, "missing", result.Missing)
	}
	return result, nil
}

// commitVectors is phase 2: idempotent vector upserts, then clearing the
// pending flag.
func (c *Coordinator) commitVectors(ctx context.Context, sourceKey string, chunks []document.Chunk) error {
	vctx, cancel := context.WithTimeout(ctx, c.vectorTimeout)
	defer cancel()
	if err := c.vectors.UpsertChunks(vctx, chunks); err != nil {
		c.logger.Warn("vector write failed, relational rows left pending",
			"source_key", sourceKey, "chunks", len(chunks), "error", err)
		return fmt.Errorf("%w: %v", ErrVectorWriteFailed, err)
	}

	mctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()
	if err := c.chunks.MarkIndexed(mctx, sourceKey); err != nil {
		// Vectors are in place; only the flag update failed. The rows stay
		// pending and a later RetryPending converges (upserts are
		// idempotent).
		return fmt.Errorf("%w: clearing pending flag: %v", ErrMetadataWriteFailed, err)
	}
	return nil
}
