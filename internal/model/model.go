// Package model abstracts the embedding and generation providers.
//
// Both are external collaborators: the ingestion and query paths only
// depend on the Embedder and Generator interfaces. Two backends are
// provided, a local Ollama server and an OpenAI-compatible API, selected by
// configuration.
package model

import (
	"context"
	"errors"
)

var (
	// ErrEmbeddingFailed indicates the embedding provider failed or
	// returned a malformed response.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrGenerationFailed indicates the generation provider failed.
	ErrGenerationFailed = errors.New("generation failed")
)

// Embedder turns texts into dense vectors of a fixed dimension.
// Implementations are assumed deterministic per model version.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension the embedder produces.
	Dimension() int
}

// Generator produces an answer from a prompt.
// model selects a per-request override; empty means the configured default.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}
