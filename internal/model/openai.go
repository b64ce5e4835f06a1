package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// embedBatchSize balances requests-per-minute vs tokens-per-minute limits.
const embedBatchSize = 500

// OpenAIClient wraps the OpenAI SDK for embeddings and chat completion.
// It implements both Embedder and Generator.
type OpenAIClient struct {
	client     *openai.Client
	embedModel string
	genModel   string
	dimension  int
}

// NewOpenAIClient creates a client using OPENAI_API_KEY from the
// environment (read by the SDK); an unset key is rejected here so the
// failure is immediate rather than on first use.
func NewOpenAIClient(embedModel, genModel string, dimension int) (*OpenAIClient, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	client := openai.NewClient()
	return &OpenAIClient{
		client:     &client,
		embedModel: embedModel,
		genModel:   genModel,
		dimension:  dimension,
	}, nil
}

// Dimension returns the configured embedding dimension.
func (c *OpenAIClient) Dimension() int { return c.dimension }

// Embed generates embeddings in batches, retrying rate-limited batches with
// exponential backoff. Other API errors fail immediately.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32

	for i := 0; i < len(texts); i += embedBatchSize {
		end := min(i+embedBatchSize, len(texts))

		embeddings, err := c.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %v", ErrEmbeddingFailed, i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (c *OpenAIClient) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(c.embedModel),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			if len(data.Embedding) != c.dimension {
				return backoff.Permanent(fmt.Errorf("embedding %d has %d dimensions, expected %d",
					i, len(data.Embedding), c.dimension))
			}
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Generate answers the prompt via chat completion. An empty model uses the
// configured default.
func (c *OpenAIClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.genModel
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(model),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrGenerationFailed)
	}

	return resp.Choices[0].Message.Content, nil
}

// isRateLimitError checks for HTTP 429 from the OpenAI API.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts the API's float64 vectors to the storage type.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
