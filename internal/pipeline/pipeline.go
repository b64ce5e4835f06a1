// Package pipeline turns raw document content into embedded chunks through
// an explicit ordered sequence of stages. The order is fixed in code at
// assembly time (clean, then split, then embed); each stage has the same
// contract, so failures name the stage that produced them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wragapp/wrag/internal/document"
)

// Stage transforms a batch of chunks. A stage must not mutate its input
// slice's chunks in place when it fails partway.
type Stage interface {
	Name() string
	Process(ctx context.Context, chunks []document.Chunk) ([]document.Chunk, error)
}

// Pipeline runs stages in order over a seed chunk built from raw content.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// New assembles a pipeline from already-constructed stages. Order matters.
func New(logger *slog.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Build runs the full pipeline for one document and returns its embedded
// chunks. It satisfies the chunk-builder contract of the ingest package.
func (p *Pipeline) Build(ctx context.Context, filePath, content string) ([]document.Chunk, error) {
	seed := []document.Chunk{{FilePath: filePath, Content: content}}
	return p.Run(ctx, seed)
}

// Run feeds chunks through every stage in order.
func (p *Pipeline) Run(ctx context.Context, chunks []document.Chunk) ([]document.Chunk, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline stage %s: %w", stage.Name(), err)
		}
		start := time.Now()
		out, err := stage.Process(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %s: %w", stage.Name(), err)
		}
		p.logger.Debug("stage complete",
			"stage", stage.Name(), "in", len(chunks), "out", len(out), "elapsed", time.Since(start))
		chunks = out
	}
	return chunks, nil
}
