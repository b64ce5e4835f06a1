package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wragapp/wrag/internal/query"
)

// Searcher answers questions over the indexed corpus.
type Searcher interface {
	Search(ctx context.Context, req query.Request) (query.Answer, error)
}

// SearchHandler handles the question answering endpoint.
type SearchHandler struct {
	service Searcher
	logger  *slog.Logger
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(service Searcher, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{service: service, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
}

// searchRequest is the JSON body of a search call. Model optionally
// overrides the configured generation model for this request.
type searchRequest struct {
	Query         string `json:"query"`
	Model         string `json:"model,omitempty"`
	DocumentOrder bool   `json:"document_order,omitempty"`
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	answer, err := h.service.Search(r.Context(), query.Request{
		Query:         req.Query,
		Model:         req.Model,
		DocumentOrder: req.DocumentOrder,
	})
	if err != nil {
		if errors.Is(err, query.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty")
			return
		}
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_error", "failed to answer query")
		return
	}

	writeJSON(w, http.StatusOK, answer)
}
