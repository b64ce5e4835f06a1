package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wragapp/wrag/internal/document"
	"github.com/wragapp/wrag/internal/log"
)

func testChunks(filePath string, n int) []document.Chunk {
	chunks := make([]document.Chunk, n)
	for i := range chunks {
		chunks[i] = document.Chunk{
			ID:        document.ChunkID(filePath, i),
			FilePath:  filePath,
			Ordinal:   i,
			Content:   "chunk content",
			Embedding: []float32{0.1, 0.2, 0.3},
		}
	}
	return chunks
}

func newTestCoordinator(cw ChunkWriter, vw VectorWriter) *Coordinator {
	return NewCoordinator(cw, vw, 5*time.Second, 5*time.Second, log.NewNop())
}

func TestCoordinatorCommit(t *testing.T) {
	cw := &fakeChunkWriter{}
	vw := &fakeVectorWriter{}
	coord := newTestCoordinator(cw, vw)

	chunks := testChunks("docs/a.md", 3)
	result, err := coord.Commit(context.Background(), "docs/a.md", chunks)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if result.Chunks != 3 {
		t.Errorf("result.Chunks = %d, want 3", result.Chunks)
	}
	if len(cw.upserted) != 1 || len(vw.upserted) != 1 {
		t.Fatalf("upsert calls: relational %d, vector %d, want 1 and 1", len(cw.upserted), len(vw.upserted))
	}
	if len(cw.marked) != 1 || cw.marked[0] != "docs/a.md" {
		t.Errorf("marked = %v, want [docs/a.md]", cw.marked)
	}
}

func TestCoordinatorCommitMetadataFailure(t *testing.T) {
	cw := &fakeChunkWriter{upsertErr: errors.New("connection refused")}
	vw := &fakeVectorWriter{}
	coord := newTestCoordinator(cw, vw)

	_, err := coord.Commit(context.Background(), "docs/a.md", testChunks("docs/a.md", 2))
	if !errors.Is(err, ErrMetadataWriteFailed) {
		t.Fatalf("Commit() error = %v, want ErrMetadataWriteFailed", err)
	}
	if len(vw.upserted) != 0 {
		t.Error("vector store written despite metadata failure")
	}
}

func TestCoordinatorCommitVectorFailureLeavesPending(t *testing.T) {
	cw := &fakeChunkWriter{}
	vw := &fakeVectorWriter{upsertErr: errors.New("qdrant unavailable")}
	coord := newTestCoordinator(cw, vw)

	_, err := coord.Commit(context.Background(), "docs/a.md", testChunks("docs/a.md", 2))
	if !errors.Is(err, ErrVectorWriteFailed) {
		t.Fatalf("Commit() error = %v, want ErrVectorWriteFailed", err)
	}
	if len(cw.upserted) != 1 {
		t.Error("relational write should have gone through before the vector failure")
	}
	if len(cw.marked) != 0 {
		t.Error("pending flag cleared despite vector failure")
	}
}

func TestCoordinatorCommitMarkFailure(t *testing.T) {
	cw := &fakeChunkWriter{markErr: errors.New("deadlock detected")}
	vw := &fakeVectorWriter{}
	coord := newTestCoordinator(cw, vw)

	_, err := coord.Commit(context.Background(), "docs/a.md", testChunks("docs/a.md", 1))
	if !errors.Is(err, ErrMetadataWriteFailed) {
		t.Fatalf("Commit() error = %v, want ErrMetadataWriteFailed", err)
	}
	if len(vw.upserted) != 1 {
		t.Error("vectors should be in place even when clearing the flag fails")
	}
}

func TestCoordinatorRetryPending(t *testing.T) {
	pending := testChunks("docs/a.md", 2)
	cw := &fakeChunkWriter{pending: pending}
	vw := &fakeVectorWriter{}
	coord := newTestCoordinator(cw, vw)

	n, err := coord.RetryPending(context.Background(), "docs/a.md")
	if err != nil {
		t.Fatalf("RetryPending() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RetryPending() = %d, want 2", n)
	}
	if len(vw.upserted) != 1 {
		t.Error("expected a single vector upsert batch")
	}
	if len(cw.marked) != 1 {
		t.Error("pending flag not cleared after retry")
	}
}

func TestCoordinatorRetryPendingNothingToDo(t *testing.T) {
	cw := &fakeChunkWriter{}
	vw := &fakeVectorWriter{}
	coord := newTestCoordinator(cw, vw)

	n, err := coord.RetryPending(context.Background(), "docs/a.md")
	if err != nil {
		t.Fatalf("RetryPending() error = %v", err)
	}
	if n != 0 {
		t.Errorf("RetryPending() = %d, want 0", n)
	}
	if len(vw.upserted) != 0 {
		t.Error("vector store touched with no pending chunks")
	}
}

func TestCoordinatorVerifyStoresAgree(t *testing.T) {
	cw := &fakeChunkWriter{}
	vw := &fakeVectorWriter{}
	coord := newTestCoordinator(cw, vw)

	if _, err := coord.Commit(context.Background(), "docs/a.md", testChunks("docs/a.md", 3)); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	res, err := coord.Verify(context.Background(), "docs/a.md")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Agree() {
		t.Errorf("Verify() = %+v, want stores in agreement", res)
	}
	if len(vw.deletedIDs) != 0 {
		t.Error("points deleted although both stores agreed")
	}
}

func TestCoordinatorVerifyDeletesOrphanedPoints(t *testing.T) {
	rows := testChunks("docs/a.md", 2)
	stray := document.ChunkID("docs/a.md", 7)
	cw := &fakeChunkWriter{rowIDs: []uuid.UUID{rows[0].ID, rows[1].ID}}
	vw := &fakeVectorWriter{pointIDs: []uuid.UUID{rows[0].ID, rows[1].ID, stray}}
	coord := newTestCoordinator(cw, vw)

	res, err := coord.Verify(context.Background(), "docs/a.md")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Orphans != 1 || res.Missing != 0 {
		t.Errorf("Verify() = %+v, want one orphan and no missing", res)
	}
	if len(vw.deletedIDs) != 1 || len(vw.deletedIDs[0]) != 1 || vw.deletedIDs[0][0] != stray {
		t.Errorf("deleted point ids = %v, want [[%s]]", vw.deletedIDs, stray)
	}
}

func TestCoordinatorVerifyReportsMissingPoints(t *testing.T) {
	rows := testChunks("docs/a.md", 2)
	cw := &fakeChunkWriter{rowIDs: []uuid.UUID{rows[0].ID, rows[1].ID}}
	vw := &fakeVectorWriter{pointIDs: []uuid.UUID{rows[0].ID}}
	coord := newTestCoordinator(cw, vw)

	res, err := coord.Verify(context.Background(), "docs/a.md")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Missing != 1 || res.Orphans != 0 {
		t.Errorf("Verify() = %+v, want one missing and no orphans", res)
	}
	if res.Agree() {
		t.Error("Agree() = true with a missing point")
	}
}

func TestCoordinatorVerifyOrphanDeleteFailure(t *testing.T) {
	rows := testChunks("docs/a.md", 1)
	cw := &fakeChunkWriter{rowIDs: []uuid.UUID{rows[0].ID}}
	vw := &fakeVectorWriter{
		pointIDs:     []uuid.UUID{rows[0].ID, document.ChunkID("docs/a.md", 9)},
		deleteIDsErr: errors.New("qdrant unavailable"),
	}
	coord := newTestCoordinator(cw, vw)

	_, err := coord.Verify(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrVectorWriteFailed) {
		t.Fatalf("Verify() error = %v, want ErrVectorWriteFailed", err)
	}
}

func TestCoordinatorRetryPendingVectorFailure(t *testing.T) {
	cw := &fakeChunkWriter{pending: testChunks("docs/a.md", 1)}
	vw := &fakeVectorWriter{upsertErr: errors.New("timeout")}
	coord := newTestCoordinator(cw, vw)

	_, err := coord.RetryPending(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrVectorWriteFailed) {
		t.Fatalf("RetryPending() error = %v, want ErrVectorWriteFailed", err)
	}
	if len(cw.marked) != 0 {
		t.Error("pending flag cleared despite vector failure")
	}
}
