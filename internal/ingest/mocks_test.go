package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/wragapp/wrag/internal/document"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChunkWriter struct {
	upsertErr  error
	markErr    error
	listErr    error
	deleteErr  error
	listIDsErr error
	pending    []document.Chunk
	rowIDs     []uuid.UUID // overrides the ids derived from upserted
	upserted   [][]document.Chunk
	marked     []string
	deleted    []string
}

func (f *fakeChunkWriter) UpsertBatch(_ context.Context, chunks []document.Chunk) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, chunks)
	return nil
}

func (f *fakeChunkWriter) MarkIndexed(_ context.Context, filePath string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, filePath)
	return nil
}

func (f *fakeChunkWriter) ListPending(_ context.Context, _ string) ([]document.Chunk, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pending, nil
}

func (f *fakeChunkWriter) DeleteByPath(_ context.Context, filePath string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, filePath)
	return nil
}

func (f *fakeChunkWriter) ListIDsByPath(_ context.Context, filePath string) ([]uuid.UUID, error) {
	if f.listIDsErr != nil {
		return nil, f.listIDsErr
	}
	if f.rowIDs != nil {
		return f.rowIDs, nil
	}
	return upsertedIDs(f.upserted, filePath), nil
}

type fakeVectorWriter struct {
	upsertErr      error
	upsertFailures int
	deleteErr      error
	deleteIDsErr   error
	listIDsErr     error
	pointIDs       []uuid.UUID // overrides the ids derived from upserted
	upserted       [][]document.Chunk
	deleted        []string
	deletedIDs     [][]uuid.UUID
}

func (f *fakeVectorWriter) UpsertChunks(_ context.Context, chunks []document.Chunk) error {
	if f.upsertFailures > 0 {
		f.upsertFailures--
		return errors.New("transient vector failure")
	}
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, chunks)
	return nil
}

func (f *fakeVectorWriter) DeleteByFilePath(_ context.Context, filePath string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, filePath)
	return nil
}

func (f *fakeVectorWriter) DeleteByIDs(_ context.Context, ids []uuid.UUID) error {
	if f.deleteIDsErr != nil {
		return f.deleteIDsErr
	}
	f.deletedIDs = append(f.deletedIDs, ids)
	return nil
}

func (f *fakeVectorWriter) ListIDsByFilePath(_ context.Context, filePath string) ([]uuid.UUID, error) {
	if f.listIDsErr != nil {
		return nil, f.listIDsErr
	}
	if f.pointIDs != nil {
		return f.pointIDs, nil
	}
	return upsertedIDs(f.upserted, filePath), nil
}

// upsertedIDs collects the distinct chunk ids recorded for a path across
// upsert batches.
func upsertedIDs(batches [][]document.Chunk, filePath string) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, batch := range batches {
		for _, c := range batch {
			if c.FilePath == filePath && !seen[c.ID] {
				seen[c.ID] = true
				ids = append(ids, c.ID)
			}
		}
	}
	return ids
}

type fakeRegistry struct {
	docs     map[string]document.SourceDocument
	getErr   error
	setErr   error
	delErr   error
	listErr  error
	states   []document.IndexState
	setPaths []string
}

func newFakeRegistry(paths ...string) *fakeRegistry {
	docs := make(map[string]document.SourceDocument, len(paths))
	for _, p := range paths {
		docs[p] = document.SourceDocument{FilePath: p, IndexState: document.StateDirty}
	}
	return &fakeRegistry{docs: docs}
}

func (f *fakeRegistry) Get(_ context.Context, filePath string) (*document.SourceDocument, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[filePath]
	if !ok {
		return nil, document.ErrNotFound
	}
	return &doc, nil
}

func (f *fakeRegistry) SetState(_ context.Context, filePath string, state document.IndexState) error {
	if f.setErr != nil {
		return f.setErr
	}
	doc := f.docs[filePath]
	doc.IndexState = state
	f.docs[filePath] = doc
	f.states = append(f.states, state)
	f.setPaths = append(f.setPaths, filePath)
	return nil
}

func (f *fakeRegistry) Delete(_ context.Context, filePath string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.docs, filePath)
	return nil
}

func (f *fakeRegistry) ListByState(_ context.Context, state document.IndexState) ([]document.SourceDocument, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []document.SourceDocument
	for _, doc := range f.docs {
		if doc.IndexState == state {
			out = append(out, doc)
		}
	}
	return out, nil
}

type fakeContentSource struct {
	content map[string]string
	err     error
}

func (f *fakeContentSource) Load(_ context.Context, filePath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content[filePath], nil
}

type fakeChunkBuilder struct {
	err error
}

func (f *fakeChunkBuilder) Build(_ context.Context, filePath, content string) ([]document.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []document.Chunk{
		{
			ID:        document.ChunkID(filePath, 0),
			FilePath:  filePath,
			Ordinal:   0,
			Content:   content,
			Embedding: []float32{0.1, 0.2},
		},
	}, nil
}
