package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wragapp/wrag/internal/model"
	"github.com/wragapp/wrag/internal/vector"
)

var tracer = otel.Tracer("wrag/query")

// VectorSearcher is the retrieval side of a query.
// *vector.Store satisfies this interface.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]vector.ScoredID, error)
}

// Request is one search query. Model optionally overrides the configured
// default generation model for this request only.
type Request struct {
	Query         string
	Model         string
	DocumentOrder bool
}

// Source is the provenance of one context block used for the answer.
type Source struct {
	FilePath string  `json:"file_path"`
	Ordinal  int     `json:"ordinal"`
	Score    float32 `json:"score"`
	Content  string  `json:"content"`
}

// Answer is the generated response with the passages that grounded it.
type Answer struct {
	QueryID uuid.UUID `json:"query_id"`
	Answer  string    `json:"answer"`
	Sources []Source  `json:"sources"`
}

// ErrEmptyQuery rejects blank queries before any provider call.
var ErrEmptyQuery = fmt.Errorf("query must not be empty")

// Service answers questions over the indexed corpus: embed the query,
// retrieve nearest chunks, assemble deduplicated context, generate.
type Service struct {
	embedder  model.Embedder
	generator model.Generator
	searcher  VectorSearcher
	assembler *Assembler
	topK      int
	maxChunks int
	logger    *slog.Logger
}

// NewService creates a query Service. topK bounds retrieval, maxChunks
// bounds the assembled context.
func NewService(embedder model.Embedder, generator model.Generator, searcher VectorSearcher, assembler *Assembler, topK, maxChunks int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		generator: generator,
		searcher:  searcher,
		assembler: assembler,
		topK:      topK,
		maxChunks: maxChunks,
		logger:    logger,
	}
}

// Search runs the full query path and returns a generated answer with
// provenance. An empty retrieval still generates, with the prompt stating
// that no context was found.
func (s *Service) Search(ctx context.Context, req Request) (Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}

	queryID := uuid.New()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "query.search",
		trace.WithAttributes(attribute.String("query_id", queryID.String())))
	defer span.End()

	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Answer{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.searcher.Search(ctx, embeddings[0], s.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("vector search: %w", err)
	}

	blocks, err := s.assembler.Assemble(ctx, hits, AssembleOptions{
		MaxContextChunks: s.maxChunks,
		DocumentOrder:    req.DocumentOrder,
	})
	if err != nil {
		return Answer{}, err
	}

	text, err := s.generator.Generate(ctx, req.Model, buildPrompt(query, blocks))
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	sources := make([]Source, len(blocks))
	for i, b := range blocks {
		sources[i] = Source{
			FilePath: b.Chunk.FilePath,
			Ordinal:  b.Chunk.Ordinal,
			Score:    b.Score,
			Content:  b.Chunk.Content,
		}
	}

	s.logger.Info("query answered",
		"query_id", queryID,
		"hits", len(hits),
		"context_chunks", len(blocks),
		"model_override", req.Model != "",
		"elapsed", time.Since(start))

	return Answer{QueryID: queryID, Answer: text, Sources: sources}, nil
}

func buildPrompt(query string, blocks []ContextBlock) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say so.\n\nContext:\n")
	if len(blocks) == 0 {
		b.WriteString("(no relevant documents found)\n")
	}
	for _, block := range blocks {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", block.Chunk.FilePath, block.Chunk.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}
