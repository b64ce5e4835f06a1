package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ollamaRequestTimeout bounds a single Ollama API call. Generation on CPU
// can be slow, so this is deliberately generous.
const ollamaRequestTimeout = 5 * time.Minute

// OllamaClient talks to a local Ollama server over its HTTP API.
// It implements both Embedder and Generator.
type OllamaClient struct {
	baseURL    string
	embedModel string
	genModel   string
	dimension  int
	http       *http.Client
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
// embedModel and genModel are the default models; dimension is the vector
// dimension the embedding model produces.
func NewOllamaClient(baseURL, embedModel, genModel string, dimension int) *OllamaClient {
	return &OllamaClient{
		baseURL:    baseURL,
		embedModel: embedModel,
		genModel:   genModel,
		dimension:  dimension,
		http:       &http.Client{Timeout: ollamaRequestTimeout},
	}
}

// Dimension returns the configured embedding dimension.
func (c *OllamaClient) Dimension() int { return c.dimension }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed calls POST /api/embed and returns one vector per input text.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp ollamaEmbedResponse
	err := c.post(ctx, "/api/embed", ollamaEmbedRequest{
		Model: c.embedModel,
		Input: texts,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbeddingFailed, len(resp.Embeddings), len(texts))
	}
	for i, e := range resp.Embeddings {
		if len(e) != c.dimension {
			return nil, fmt.Errorf("%w: embedding %d has %d dimensions, expected %d",
				ErrEmbeddingFailed, i, len(e), c.dimension)
		}
	}

	return resp.Embeddings, nil
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Generate calls POST /api/generate. An empty model uses the configured
// default; a non-empty model is a per-request override.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.genModel
	}

	var resp ollamaGenerateResponse
	err := c.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return resp.Response, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
