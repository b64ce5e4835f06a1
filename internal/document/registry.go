package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the stores need. Defining it here keeps
// the stores testable against any pgx-compatible connection source.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Registry tracks uploaded files and their content fingerprints in the
// source_documents table.
//
// Registry is safe for concurrent use; concurrent registrations of the same
// path are serialized with a row lock.
type Registry struct {
	db     DB
	logger *slog.Logger
}

// NewRegistry creates a Registry backed by db.
func NewRegistry(db DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger}
}

// Register records an upload and returns the resulting document.
//
// If a document with the same path and an unchanged fingerprint already
// exists, the existing record is returned unchanged and changed=false: the
// call is an idempotent no-op and triggers no re-indexing. If the
// fingerprint differs, the record is updated and flagged dirty. New paths
// are inserted dirty so the reconciler indexes them.
func (r *Registry) Register(ctx context.Context, path string, content []byte) (doc *SourceDocument, changed bool, err error) {
	if err := validatePath(path); err != nil {
		return nil, false, err
	}
	if len(content) == 0 {
		return nil, false, fmt.Errorf("%w: empty content for %q", ErrInvalidDocument, path)
	}

	fp := Fingerprint(content)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := scanDocument(tx.QueryRow(ctx,
		`SELECT file_path, content_length, fingerprint, index_state, metadata, created_at, updated_at
		 FROM source_documents WHERE file_path = $1 FOR UPDATE`, path))
	switch {
	case err == nil:
		if existing.Fingerprint == fp {
			// Identical bytes: nothing to do, no reconciliation trigger.
			if err := tx.Commit(ctx); err != nil {
				return nil, false, fmt.Errorf("commit register tx: %w", err)
			}
			r.logger.Debug("register no-op, fingerprint unchanged", "path", path)
			return existing, false, nil
		}

		updated, err := scanDocument(tx.QueryRow(ctx,
			`UPDATE source_documents
			 SET content_length = $2, fingerprint = $3, index_state = $4, updated_at = now()
			 WHERE file_path = $1
			 RETURNING file_path, content_length, fingerprint, index_state, metadata, created_at, updated_at`,
			path, int64(len(content)), fp, StateDirty))
		if err != nil {
			return nil, false, fmt.Errorf("update document %q: %w", path, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit register tx: %w", err)
		}
		r.logger.Info("document changed, flagged for re-indexing", "path", path)
		return updated, true, nil

	case errors.Is(err, pgx.ErrNoRows):
		inserted, err := scanDocument(tx.QueryRow(ctx,
			`INSERT INTO source_documents (file_path, content_length, fingerprint, index_state, metadata)
			 VALUES ($1, $2, $3, $4, '{}')
			 RETURNING file_path, content_length, fingerprint, index_state, metadata, created_at, updated_at`,
			path, int64(len(content)), fp, StateDirty))
		if err != nil {
			return nil, false, fmt.Errorf("insert document %q: %w", path, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit register tx: %w", err)
		}
		r.logger.Info("document registered", "path", path, "bytes", len(content))
		return inserted, true, nil

	default:
		return nil, false, fmt.Errorf("lookup document %q: %w", path, err)
	}
}

// Get returns the document registered under path, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, path string) (*SourceDocument, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT file_path, content_length, fingerprint, index_state, metadata, created_at, updated_at
		 FROM source_documents WHERE file_path = $1`, path))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", path, err)
	}
	return doc, nil
}

// List returns registered documents ordered by path.
func (r *Registry) List(ctx context.Context) ([]SourceDocument, error) {
	rows, err := r.db.Query(ctx,
		`SELECT file_path, content_length, fingerprint, index_state, metadata, created_at, updated_at
		 FROM source_documents ORDER BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ListByState returns documents currently in the given reconciliation state.
func (r *Registry) ListByState(ctx context.Context, state IndexState) ([]SourceDocument, error) {
	rows, err := r.db.Query(ctx,
		`SELECT file_path, content_length, fingerprint, index_state, metadata, created_at, updated_at
		 FROM source_documents WHERE index_state = $1 ORDER BY file_path`, state)
	if err != nil {
		return nil, fmt.Errorf("list documents by state: %w", err)
	}
	defer rows.Close()

	var docs []SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents by state: %w", err)
	}
	return docs, nil
}

// SetState transitions the document's reconciliation state.
func (r *Registry) SetState(ctx context.Context, path string, state IndexState) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE source_documents SET index_state = $2, updated_at = now() WHERE file_path = $1`,
		path, state)
	if err != nil {
		return fmt.Errorf("set state of %q: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	r.logger.Debug("document state changed", "path", path, "state", state)
	return nil
}

// Delete removes the registry row; chunk rows cascade via the foreign key.
// Returns ErrNotFound if no document is registered under path.
func (r *Registry) Delete(ctx context.Context, path string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM source_documents WHERE file_path = $1`, path)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	r.logger.Info("document deleted", "path", path)
	return nil
}

// validatePath rejects malformed file paths.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidDocument)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: file path contains NUL byte", ErrInvalidDocument)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%w: file path %q contains parent traversal", ErrInvalidDocument, path)
	}
	return nil
}

// scanDocument scans one source_documents row.
func scanDocument(row pgx.Row) (*SourceDocument, error) {
	var doc SourceDocument
	var metadata []byte
	if err := row.Scan(&doc.FilePath, &doc.ContentLength, &doc.Fingerprint,
		&doc.IndexState, &metadata, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return &doc, nil
}
