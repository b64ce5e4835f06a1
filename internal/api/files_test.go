package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wragapp/wrag/internal/document"
	"github.com/wragapp/wrag/internal/log"
)

type fakeRegistry struct {
	mu      sync.Mutex
	docs    []document.SourceDocument
	regErr  error
	listErr error
	changed bool
}

func (f *fakeRegistry) Register(_ context.Context, path string, content []byte) (*document.SourceDocument, bool, error) {
	if f.regErr != nil {
		return nil, false, f.regErr
	}
	doc := document.SourceDocument{
		FilePath:      path,
		ContentLength: int64(len(content)),
		IndexState:    document.StateDirty,
	}
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	return &doc, f.changed, nil
}

func (f *fakeRegistry) List(_ context.Context) ([]document.SourceDocument, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]document.SourceDocument(nil), f.docs...), nil
}

type fakeReconciler struct {
	mu         sync.Mutex
	reconciled []string
	removed    []string
	reconErr   error
	removeErr  error
	allCount   int
	allErr     error
	notify     chan string
}

func (f *fakeReconciler) Reconcile(_ context.Context, filePath string) error {
	if f.reconErr != nil {
		return f.reconErr
	}
	f.mu.Lock()
	f.reconciled = append(f.reconciled, filePath)
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- filePath
	}
	return nil
}

func (f *fakeReconciler) Remove(_ context.Context, filePath string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.mu.Lock()
	f.removed = append(f.removed, filePath)
	f.mu.Unlock()
	return nil
}

func (f *fakeReconciler) ReconcileAll(_ context.Context) (int, error) {
	return f.allCount, f.allErr
}

type fakeFileSaver struct {
	saved   map[string][]byte
	saveErr error
	delErr  error
}

func newFakeFileSaver() *fakeFileSaver {
	return &fakeFileSaver{saved: make(map[string][]byte)}
}

func (f *fakeFileSaver) Save(name string, r io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.saved[name] = data
	return nil
}

func (f *fakeFileSaver) Delete(name string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.saved, name)
	return nil
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("writing part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func newFilesMux(reg *fakeRegistry, rec *fakeReconciler, files *fakeFileSaver) *http.ServeMux {
	mux := http.NewServeMux()
	NewFileHandler(reg, rec, files, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestUpload(t *testing.T) {
	reg := &fakeRegistry{changed: true}
	rec := &fakeReconciler{notify: make(chan string, 1)}
	files := newFakeFileSaver()
	mux := newFilesMux(reg, rec, files)

	body, contentType := multipartBody(t, "guide.md", "document content")
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.FilePath != "guide.md" || !resp.Changed {
		t.Errorf("response = %+v", resp)
	}
	if string(files.saved["guide.md"]) != "document content" {
		t.Error("file not stored")
	}

	select {
	case path := <-rec.notify:
		if path != "guide.md" {
			t.Errorf("reconciled %q, want guide.md", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background reconciliation never ran")
	}
}

func TestUploadUnchangedSkipsReconcile(t *testing.T) {
	reg := &fakeRegistry{changed: false}
	rec := &fakeReconciler{}
	mux := newFilesMux(reg, rec, newFakeFileSaver())

	body, contentType := multipartBody(t, "guide.md", "same content")
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reconciled) != 0 {
		t.Error("unchanged upload triggered reconciliation")
	}
}

func TestUploadMissingFileField(t *testing.T) {
	mux := newFilesMux(&fakeRegistry{}, &fakeReconciler{}, newFakeFileSaver())

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUploadInvalidDocument(t *testing.T) {
	reg := &fakeRegistry{regErr: document.ErrInvalidDocument}
	mux := newFilesMux(reg, &fakeReconciler{}, newFakeFileSaver())

	body, contentType := multipartBody(t, "empty.md", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListFiles(t *testing.T) {
	reg := &fakeRegistry{docs: []document.SourceDocument{
		{FilePath: "a.md", ContentLength: 10, IndexState: document.StateClean},
		{FilePath: "b.md", ContentLength: 20, IndexState: document.StateDirty},
	}}
	mux := newFilesMux(reg, &fakeReconciler{}, newFakeFileSaver())

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Files []fileInfo `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(resp.Files))
	}
	if resp.Files[0].FilePath != "a.md" || resp.Files[0].State != "clean" {
		t.Errorf("files[0] = %+v", resp.Files[0])
	}
}

func TestDeleteFile(t *testing.T) {
	rec := &fakeReconciler{}
	files := newFakeFileSaver()
	files.saved["docs/a.md"] = []byte("x")
	mux := newFilesMux(&fakeRegistry{}, rec, files)

	req := httptest.NewRequest(http.MethodDelete, "/api/files/docs/a.md", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(rec.removed) != 1 || rec.removed[0] != "docs/a.md" {
		t.Errorf("removed = %v, want [docs/a.md]", rec.removed)
	}
	if _, ok := files.saved["docs/a.md"]; ok {
		t.Error("stored file not deleted")
	}
}

func TestDeleteFileNotRegistered(t *testing.T) {
	rec := &fakeReconciler{removeErr: document.ErrNotFound}
	mux := newFilesMux(&fakeRegistry{}, rec, newFakeFileSaver())

	req := httptest.NewRequest(http.MethodDelete, "/api/files/missing.md", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestIndex(t *testing.T) {
	rec := &fakeReconciler{allCount: 3}
	mux := newFilesMux(&fakeRegistry{}, rec, newFakeFileSaver())

	req := httptest.NewRequest(http.MethodPost, "/api/index", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["reconciled"] != 3 {
		t.Errorf("reconciled = %d, want 3", resp["reconciled"])
	}
}

func TestIndexFailure(t *testing.T) {
	rec := &fakeReconciler{allErr: errors.New("store down")}
	mux := newFilesMux(&fakeRegistry{}, rec, newFakeFileSaver())

	req := httptest.NewRequest(http.MethodPost, "/api/index", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
