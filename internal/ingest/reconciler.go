package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wragapp/wrag/internal/document"
)

var tracer = otel.Tracer("wrag/ingest")

// Registry is the document registry surface the reconciler drives.
// *document.Registry satisfies this interface.
type Registry interface {
	Get(ctx context.Context, filePath string) (*document.SourceDocument, error)
	SetState(ctx context.Context, filePath string, state document.IndexState) error
	Delete(ctx context.Context, filePath string) error
	ListByState(ctx context.Context, state document.IndexState) ([]document.SourceDocument, error)
}

// ContentSource loads the raw text of a registered document.
type ContentSource interface {
	Load(ctx context.Context, filePath string) (string, error)
}

// ChunkBuilder turns document content into embedded chunks ready to commit.
// The pipeline package provides the implementation.
type ChunkBuilder interface {
	Build(ctx context.Context, filePath, content string) ([]document.Chunk, error)
}

// Committer is the dual-store write surface the reconciler hands rebuilt
// chunks to. *Coordinator satisfies this interface.
type Committer interface {
	Commit(ctx context.Context, sourceKey string, chunks []document.Chunk) (CommitResult, error)
	RetryPending(ctx context.Context, sourceKey string) (int, error)
	Verify(ctx context.Context, sourceKey string) (VerifyResult, error)
}

// Reconciler rebuilds the derived data of changed documents: it deletes the
// stale chunks and vectors of a dirty document, then recreates them from
// current content. Per-document locks serialize reconciliation against
// concurrent commits for the same source.
type Reconciler struct {
	registry Registry
	chunks   ChunkWriter
	vectors  VectorWriter
	source   ContentSource
	builder  ChunkBuilder
	commit   Committer
	locks    *KeyedMutex
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(registry Registry, chunks ChunkWriter, vectors VectorWriter, source ContentSource, builder ChunkBuilder, commit Committer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		registry: registry,
		chunks:   chunks,
		vectors:  vectors,
		source:   source,
		builder:  builder,
		commit:   commit,
		locks:    NewKeyedMutex(),
		logger:   logger,
	}
}

// Locks returns the per-document lock table, shared with callers that
// must serialize their own writes against reconciliation.
func (r *Reconciler) Locks() *KeyedMutex { return r.locks }

// Reconcile rebuilds one document's chunks and vectors.
//
// The document moves to reindexing for the duration. Once deletion of the
// old derived data has begun, the work runs detached from the caller's
// cancellation so the document is never left half-deleted by a hung-up
// client. Failures before any deletion, and failures while recreating,
// return the document to dirty so a later pass retries; failures during
// deletion leave it failed, which needs the same rebuild but signals that
// derived data may be partially gone.
func (r *Reconciler) Reconcile(ctx context.Context, filePath string) error {
	ctx, span := tracer.Start(ctx, "ingest.reconcile",
		trace.WithAttributes(attribute.String("file_path", filePath)))
	defer span.End()

	release := r.locks.Lock(filePath)
	defer release()

	doc, err := r.registry.Get(ctx, filePath)
	if err != nil {
		return fmt.Errorf("%w: load document: %v", ErrReconciliationFailed, err)
	}

	if err := r.registry.SetState(ctx, filePath, document.StateReindexing); err != nil {
		return fmt.Errorf("%w: enter reindexing: %v", ErrReconciliationFailed, err)
	}

	// Last cooperative cancellation point before destructive work.
	if err := ctx.Err(); err != nil {
		if serr := r.registry.SetState(ctx, filePath, document.StateDirty); serr != nil {
			r.logger.Warn("failed to restore dirty state after cancellation",
				"file_path", filePath, "error", serr)
		}
		return fmt.Errorf("%w: %v", ErrReconciliationFailed, err)
	}

	dctx := context.WithoutCancel(ctx)

	if err := r.deletePhase(dctx, filePath); err != nil {
		r.setState(dctx, filePath, document.StateFailed)
		return fmt.Errorf("%w: delete phase: %v", ErrReconciliationFailed, err)
	}

	if err := r.recreatePhase(dctx, filePath); err != nil {
		r.setState(dctx, filePath, document.StateDirty)
		return fmt.Errorf("%w: recreate phase: %v", ErrReconciliationFailed, err)
	}

	// Post-commit check that both stores ended up with the same chunk ids.
	// Stray points are deleted by Verify; rows without a point mean a lost
	// vector phase, so the document goes back to dirty for another pass.
	if res, err := r.commit.Verify(dctx, filePath); err != nil {
		r.logger.Warn("post-commit verification failed",
			"file_path", filePath, "error", err)
	} else if res.Missing > 0 {
		r.setState(dctx, filePath, document.StateDirty)
		return fmt.Errorf("%w: %d chunks missing vector points", ErrReconciliationFailed, res.Missing)
	}

	if err := r.registry.SetState(dctx, filePath, document.StateClean); err != nil {
		return fmt.Errorf("%w: mark clean: %v", ErrReconciliationFailed, err)
	}

	r.logger.Info("document reconciled", "file_path", filePath, "doc_fingerprint", doc.Fingerprint)
	return nil
}

// deletePhase removes derived data, vectors first so a crash between the
// two deletes leaves orphaned relational rows (harmless, they get replaced)
// rather than orphaned vectors.
func (r *Reconciler) deletePhase(ctx context.Context, filePath string) error {
	if err := r.vectors.DeleteByFilePath(ctx, filePath); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := r.chunks.DeleteByPath(ctx, filePath); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (r *Reconciler) recreatePhase(ctx context.Context, filePath string) error {
	content, err := r.source.Load(ctx, filePath)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}

	chunks, err := r.builder.Build(ctx, filePath, content)
	if err != nil {
		return fmt.Errorf("build chunks: %w", err)
	}

	if _, err := r.commit.Commit(ctx, filePath, chunks); err != nil {
		// A vector-phase failure leaves complete relational rows flagged
		// pending, embeddings included. One phase-2-only retry is cheap
		// compared to re-splitting and re-embedding on the next pass.
		if errors.Is(err, ErrVectorWriteFailed) {
			if n, rerr := r.commit.RetryPending(ctx, filePath); rerr == nil {
				r.logger.Info("vector write recovered on retry",
					"file_path", filePath, "chunks", n)
				return nil
			}
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Remove deletes a document and all its derived data, vectors first. The
// relational delete cascades to chunk rows. A vector-delete failure leaves
// the document failed so nothing serves stale vectors silently.
func (r *Reconciler) Remove(ctx context.Context, filePath string) error {
	release := r.locks.Lock(filePath)
	defer release()

	if _, err := r.registry.Get(ctx, filePath); err != nil {
		return err
	}

	if err := r.vectors.DeleteByFilePath(ctx, filePath); err != nil {
		r.setState(ctx, filePath, document.StateFailed)
		return fmt.Errorf("%w: delete vectors: %v", ErrReconciliationFailed, err)
	}

	if err := r.registry.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("%w: delete document: %v", ErrReconciliationFailed, err)
	}

	r.logger.Info("document removed", "file_path", filePath)
	return nil
}

// ReconcileAll reconciles every document currently dirty or failed, in
// sequence. The first error stops the pass; documents already processed
// stay clean. Returns the number of documents reconciled.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	var docs []document.SourceDocument
	for _, state := range []document.IndexState{document.StateDirty, document.StateFailed} {
		batch, err := r.registry.ListByState(ctx, state)
		if err != nil {
			return 0, fmt.Errorf("%w: list %s documents: %v", ErrReconciliationFailed, state, err)
		}
		docs = append(docs, batch...)
	}

	done := 0
	start := time.Now()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("%w: %v", ErrReconciliationFailed, err)
		}
		if err := r.Reconcile(ctx, doc.FilePath); err != nil {
			return done, err
		}
		done++
	}

	if done > 0 {
		r.logger.Info("reconciliation pass complete", "documents", done, "elapsed", time.Since(start))
	}
	return done, nil
}

func (r *Reconciler) setState(ctx context.Context, filePath string, state document.IndexState) {
	if err := r.registry.SetState(ctx, filePath, state); err != nil {
		r.logger.Warn("failed to record index state",
			"file_path", filePath, "state", state, "error", err)
	}
}
