package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wragapp/wrag/internal/document"
	"github.com/wragapp/wrag/internal/storage"
)

// maxUploadBytes bounds a single uploaded file.
const maxUploadBytes = 32 << 20

// DocumentRegistry is the registration surface used by file endpoints.
type DocumentRegistry interface {
	Register(ctx context.Context, path string, content []byte) (*document.SourceDocument, bool, error)
	List(ctx context.Context) ([]document.SourceDocument, error)
}

// Reconciler drives re-indexing after uploads and deletions.
type Reconciler interface {
	Reconcile(ctx context.Context, filePath string) error
	Remove(ctx context.Context, filePath string) error
	ReconcileAll(ctx context.Context) (int, error)
}

// FileSaver stores raw uploads.
type FileSaver interface {
	Save(name string, r io.Reader) error
	Delete(name string) error
}

// FileHandler handles upload, listing, deletion and index triggering.
type FileHandler struct {
	registry   DocumentRegistry
	reconciler Reconciler
	files      FileSaver
	logger     *slog.Logger
}

// NewFileHandler creates a file handler.
func NewFileHandler(registry DocumentRegistry, reconciler Reconciler, files FileSaver, logger *slog.Logger) *FileHandler {
	return &FileHandler{registry: registry, reconciler: reconciler, files: files, logger: logger}
}

// RegisterRoutes registers file routes on the given mux.
func (h *FileHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/files", h.upload)
	mux.HandleFunc("GET /api/files", h.list)
	mux.HandleFunc("DELETE /api/files/{name...}", h.remove)
	mux.HandleFunc("POST /api/index", h.index)
}

// uploadResponse reports the registration outcome of one upload.
type uploadResponse struct {
	FilePath string `json:"file_path"`
	State    string `json:"index_state"`
	Changed  bool   `json:"changed"`
}

// upload accepts a multipart file, stores it, registers it, and kicks off
// re-indexing in the background when the content changed. The response is
// 202: indexing completes after the request returns.
func (h *FileHandler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "failed to read file")
		return
	}
	if len(content) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds upload limit")
		return
	}

	name := header.Filename
	if err := h.files.Save(name, bytes.NewReader(content)); err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
			return
		}
		h.logger.Error("saving upload", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to store file")
		return
	}

	doc, changed, err := h.registry.Register(r.Context(), name, content)
	if err != nil {
		if errors.Is(err, document.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, "invalid_document", err.Error())
			return
		}
		h.logger.Error("registering upload", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "registry_error", "failed to register file")
		return
	}

	if changed {
		// Indexing outlives the request: an abandoned upload must still
		// reach a terminal index state.
		go h.reconcileDetached(r.Context(), name)
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		FilePath: doc.FilePath,
		State:    string(doc.IndexState),
		Changed:  changed,
	})
}

func (h *FileHandler) reconcileDetached(ctx context.Context, name string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
	defer cancel()
	if err := h.reconciler.Reconcile(dctx, name); err != nil {
		h.logger.Error("background reconciliation failed", "file_path", name, "error", err)
	}
}

// fileInfo is one registered document in a listing.
type fileInfo struct {
	FilePath      string    `json:"file_path"`
	ContentLength int64     `json:"content_length"`
	State         string    `json:"index_state"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (h *FileHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "registry_error", "failed to list files")
		return
	}

	infos := make([]fileInfo, len(docs))
	for i, d := range docs {
		infos[i] = fileInfo{
			FilePath:      d.FilePath,
			ContentLength: d.ContentLength,
			State:         string(d.IndexState),
			UpdatedAt:     d.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": infos})
}

// remove deletes the stored file and all its derived data.
func (h *FileHandler) remove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "file name required")
		return
	}

	if err := h.reconciler.Remove(r.Context(), name); err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "file is not registered")
			return
		}
		h.logger.Error("removing document", "file_path", name, "error", err)
		writeError(w, http.StatusInternalServerError, "reconcile_error", "failed to remove document")
		return
	}

	if err := h.files.Delete(name); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
		h.logger.Warn("registered document removed but stored file remains",
			"file_path", name, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// index reconciles every dirty or failed document synchronously.
func (h *FileHandler) index(w http.ResponseWriter, r *http.Request) {
	n, err := h.reconciler.ReconcileAll(r.Context())
	if err != nil {
		h.logger.Error("index run failed", "reconciled", n, "error", err)
		writeError(w, http.StatusInternalServerError, "reconcile_error", "indexing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reconciled": n})
}
