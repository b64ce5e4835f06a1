package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/wragapp/wrag/internal/document"
	"github.com/wragapp/wrag/internal/model"
)

// CleanStage normalizes document text before splitting: lines are trimmed,
// runs of spaces collapse to one, and runs of blank lines collapse to a
// single blank line.
type CleanStage struct{}

func NewCleanStage() *CleanStage { return &CleanStage{} }

func (s *CleanStage) Name() string { return "clean" }

func (s *CleanStage) Process(_ context.Context, chunks []document.Chunk) ([]document.Chunk, error) {
	out := make([]document.Chunk, len(chunks))
	for i, c := range chunks {
		c.Content = cleanText(c.Content)
		out[i] = c
	}
	return out, nil
}

func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank || len(cleaned) == 0 {
				continue
			}
			blank = true
			cleaned = append(cleaned, "")
			continue
		}
		blank = false
		cleaned = append(cleaned, line)
	}
	// Drop a trailing blank line left by the collapse.
	for len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, "\n")
}

// SplitStage cuts each incoming chunk's content into overlapping windows
// with deterministic ids.
type SplitStage struct {
	splitter *document.Splitter
}

func NewSplitStage(splitter *document.Splitter) *SplitStage {
	return &SplitStage{splitter: splitter}
}

func (s *SplitStage) Name() string { return "split" }

func (s *SplitStage) Process(_ context.Context, chunks []document.Chunk) ([]document.Chunk, error) {
	var out []document.Chunk
	for _, c := range chunks {
		split, err := s.splitter.Split(c.FilePath, c.Content, c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", c.FilePath, err)
		}
		out = append(out, split...)
	}
	return out, nil
}

// EmbedStage computes a dense embedding for every chunk in one provider
// call.
type EmbedStage struct {
	embedder model.Embedder
}

func NewEmbedStage(embedder model.Embedder) *EmbedStage {
	return &EmbedStage{embedder: embedder}
}

func (s *EmbedStage) Name() string { return "embed" }

func (s *EmbedStage) Process(ctx context.Context, chunks []document.Chunk) ([]document.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks",
			model.ErrEmbeddingFailed, len(embeddings), len(chunks))
	}

	out := make([]document.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = embeddings[i]
		out[i] = c
	}
	return out, nil
}
