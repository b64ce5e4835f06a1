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

func newTestReconciler(reg *fakeRegistry, cw *fakeChunkWriter, vw *fakeVectorWriter, src *fakeContentSource, builder *fakeChunkBuilder) *Reconciler {
	coord := NewCoordinator(cw, vw, 5*time.Second, 5*time.Second, log.NewNop())
	return NewReconciler(reg, cw, vw, src, builder, coord, log.NewNop())
}

func TestReconcile(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	cw := &fakeChunkWriter{}
	vw := &fakeVectorWriter{}
	src := &fakeContentSource{content: map[string]string{"docs/a.md": "fresh content"}}
	rec := newTestReconciler(reg, cw, vw, src, &fakeChunkBuilder{})

	if err := rec.Reconcile(context.Background(), "docs/a.md"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := reg.docs["docs/a.md"].IndexState; got != document.StateClean {
		t.Errorf("final state = %s, want clean", got)
	}
	wantStates := []document.IndexState{document.StateReindexing, document.StateClean}
	if len(reg.states) != len(wantStates) {
		t.Fatalf("state transitions = %v, want %v", reg.states, wantStates)
	}
	for i, want := range wantStates {
		if reg.states[i] != want {
			t.Errorf("transition[%d] = %s, want %s", i, reg.states[i], want)
		}
	}
	if len(vw.deleted) != 1 || vw.deleted[0] != "docs/a.md" {
		t.Errorf("vector deletes = %v, want [docs/a.md]", vw.deleted)
	}
	if len(cw.deleted) != 1 {
		t.Errorf("chunk deletes = %v, want one", cw.deleted)
	}
	if len(vw.upserted) != 1 {
		t.Error("rebuilt vectors not written")
	}
}

func TestReconcileUnknownDocument(t *testing.T) {
	rec := newTestReconciler(newFakeRegistry(), &fakeChunkWriter{}, &fakeVectorWriter{}, &fakeContentSource{}, &fakeChunkBuilder{})

	err := rec.Reconcile(context.Background(), "docs/missing.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
}

func TestReconcileCanceledBeforeDelete(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	vw := &fakeVectorWriter{}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, vw, &fakeContentSource{}, &fakeChunkBuilder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rec.Reconcile(ctx, "docs/a.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
	if len(vw.deleted) != 0 {
		t.Error("delete ran despite pre-delete cancellation")
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateDirty {
		t.Errorf("state after cancellation = %s, want dirty", got)
	}
}

func TestReconcileDeleteFailureMarksFailed(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	vw := &fakeVectorWriter{deleteErr: errors.New("qdrant unavailable")}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, vw, &fakeContentSource{}, &fakeChunkBuilder{})

	err := rec.Reconcile(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateFailed {
		t.Errorf("state after delete failure = %s, want failed", got)
	}
}

func TestReconcileRecreateFailureReturnsToDirty(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	src := &fakeContentSource{err: errors.New("file vanished")}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, &fakeVectorWriter{}, src, &fakeChunkBuilder{})

	err := rec.Reconcile(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateDirty {
		t.Errorf("state after recreate failure = %s, want dirty", got)
	}
}

func TestReconcileBuildFailureReturnsToDirty(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	src := &fakeContentSource{content: map[string]string{"docs/a.md": "text"}}
	builder := &fakeChunkBuilder{err: errors.New("embedding provider down")}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, &fakeVectorWriter{}, src, builder)

	err := rec.Reconcile(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateDirty {
		t.Errorf("state after build failure = %s, want dirty", got)
	}
}

func TestReconcileVectorFailureRecoversViaPendingRetry(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	cw := &fakeChunkWriter{pending: testChunks("docs/a.md", 1)}
	vw := &fakeVectorWriter{upsertFailures: 1}
	src := &fakeContentSource{content: map[string]string{"docs/a.md": "text"}}
	rec := newTestReconciler(reg, cw, vw, src, &fakeChunkBuilder{})

	if err := rec.Reconcile(context.Background(), "docs/a.md"); err != nil {
		t.Fatalf("Reconcile() error = %v, want recovery via pending retry", err)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateClean {
		t.Errorf("state = %s, want clean", got)
	}
	if len(vw.upserted) != 1 {
		t.Errorf("vector upserts after retry = %d, want 1", len(vw.upserted))
	}
}

func TestReconcileMissingPointsReturnToDirty(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	cw := &fakeChunkWriter{}
	// The commit succeeds, but the vector store reports no points for
	// the document afterwards.
	vw := &fakeVectorWriter{pointIDs: []uuid.UUID{}}
	src := &fakeContentSource{content: map[string]string{"docs/a.md": "text"}}
	rec := newTestReconciler(reg, cw, vw, src, &fakeChunkBuilder{})

	err := rec.Reconcile(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateDirty {
		t.Errorf("state after verification mismatch = %s, want dirty", got)
	}
}

func TestRemove(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	vw := &fakeVectorWriter{}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, vw, &fakeContentSource{}, &fakeChunkBuilder{})

	if err := rec.Remove(context.Background(), "docs/a.md"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := reg.docs["docs/a.md"]; ok {
		t.Error("document still registered after Remove")
	}
	if len(vw.deleted) != 1 {
		t.Error("vectors not deleted")
	}
}

func TestRemoveUnknownDocument(t *testing.T) {
	rec := newTestReconciler(newFakeRegistry(), &fakeChunkWriter{}, &fakeVectorWriter{}, &fakeContentSource{}, &fakeChunkBuilder{})

	err := rec.Remove(context.Background(), "docs/missing.md")
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Remove() error = %v, want document.ErrNotFound", err)
	}
}

func TestRemoveVectorFailureMarksFailed(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	vw := &fakeVectorWriter{deleteErr: errors.New("connection reset")}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, vw, &fakeContentSource{}, &fakeChunkBuilder{})

	err := rec.Remove(context.Background(), "docs/a.md")
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Remove() error = %v, want ErrReconciliationFailed", err)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateFailed {
		t.Errorf("state after vector delete failure = %s, want failed", got)
	}
}

func TestReconcileAll(t *testing.T) {
	reg := newFakeRegistry("docs/a.md", "docs/b.md")
	src := &fakeContentSource{content: map[string]string{
		"docs/a.md": "alpha",
		"docs/b.md": "beta",
	}}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, &fakeVectorWriter{}, src, &fakeChunkBuilder{})

	n, err := rec.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("ReconcileAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ReconcileAll() = %d, want 2", n)
	}
	for path, doc := range reg.docs {
		if doc.IndexState != document.StateClean {
			t.Errorf("%s state = %s, want clean", path, doc.IndexState)
		}
	}
}

func TestReconcileAllIncludesFailed(t *testing.T) {
	reg := newFakeRegistry("docs/a.md")
	doc := reg.docs["docs/a.md"]
	doc.IndexState = document.StateFailed
	reg.docs["docs/a.md"] = doc

	src := &fakeContentSource{content: map[string]string{"docs/a.md": "alpha"}}
	rec := newTestReconciler(reg, &fakeChunkWriter{}, &fakeVectorWriter{}, src, &fakeChunkBuilder{})

	n, err := rec.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("ReconcileAll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReconcileAll() = %d, want 1", n)
	}
	if got := reg.docs["docs/a.md"].IndexState; got != document.StateClean {
		t.Errorf("state = %s, want clean", got)
	}
}
