package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Embedding configuration
	if c.EmbeddingProvider != ProviderOllama && c.EmbeddingProvider != ProviderOpenAI {
		return fmt.Errorf("%w: embedding_provider %q must be %q or %q",
			ErrInvalidEmbedding, c.EmbeddingProvider, ProviderOllama, ProviderOpenAI)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding_model cannot be empty", ErrInvalidEmbedding)
	}
	if c.EmbeddingDimension < 1 || c.EmbeddingDimension > 4096 {
		return fmt.Errorf("%w: embedding_dim must be between 1 and 4096, got %d",
			ErrInvalidEmbedding, c.EmbeddingDimension)
	}
	if c.EmbeddingProvider == ProviderOpenAI && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for the openai embedding provider",
			ErrInvalidEmbedding)
	}

	// Generation configuration
	if c.Generator != ProviderOllama && c.Generator != ProviderOpenAI {
		return fmt.Errorf("%w: generator %q must be %q or %q",
			ErrInvalidGenerator, c.Generator, ProviderOllama, ProviderOpenAI)
	}
	if c.GeneratorModel == "" {
		return fmt.Errorf("%w: generator_model cannot be empty", ErrInvalidGenerator)
	}
	if c.Generator == ProviderOllama && c.OllamaURL == "" {
		return fmt.Errorf("%w: ollama_url cannot be empty for the ollama generator", ErrInvalidGenerator)
	}
	if c.Generator == ProviderOpenAI && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for the openai generator",
			ErrInvalidGenerator)
	}

	// Splitting configuration
	if c.SplitBy != SplitByWord && c.SplitBy != SplitByCharacter {
		return fmt.Errorf("%w: split_by %q must be %q or %q",
			ErrInvalidSplit, c.SplitBy, SplitByWord, SplitByCharacter)
	}
	if c.SplitLength <= 0 {
		return fmt.Errorf("%w: split_length must be positive, got %d", ErrInvalidSplit, c.SplitLength)
	}
	if c.SplitOverlap < 0 || c.SplitOverlap >= c.SplitLength {
		return fmt.Errorf("%w: split_overlap must be in [0, split_length), got overlap=%d length=%d",
			ErrInvalidSplit, c.SplitOverlap, c.SplitLength)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgres)
	}
	if c.PostgresPassword == "wrag_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated and MITM-vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: postgres_ssl_mode %q must be one of %v",
			ErrInvalidPostgres, c.PostgresSSLMode, validSSLModes)
	}

	// Qdrant configuration
	if c.QdrantHost == "" {
		return fmt.Errorf("%w: qdrant_host cannot be empty", ErrInvalidQdrant)
	}
	if c.QdrantPort < 1 || c.QdrantPort > 65535 {
		return fmt.Errorf("%w: qdrant_port must be between 1 and 65535, got %d", ErrInvalidQdrant, c.QdrantPort)
	}
	if c.QdrantCollection == "" {
		return fmt.Errorf("%w: qdrant_collection cannot be empty", ErrInvalidQdrant)
	}

	// Serve configuration
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidServe)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("%w: rate_limit must be positive, got %v", ErrInvalidServe, c.RateLimit)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1, got %d", ErrInvalidServe, c.RateBurst)
	}
	if c.MetadataTimeoutSeconds < 1 || c.VectorTimeoutSeconds < 1 {
		return fmt.Errorf("%w: store timeouts must be at least 1 second", ErrInvalidServe)
	}
	if c.QueryTopK < 1 {
		return fmt.Errorf("%w: query_top_k must be at least 1, got %d", ErrInvalidServe, c.QueryTopK)
	}
	if c.MaxContextChunks < 0 {
		return fmt.Errorf("%w: max_context_chunks cannot be negative, got %d", ErrInvalidServe, c.MaxContextChunks)
	}

	return nil
}

// MetadataTimeout returns the relational store operation timeout.
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.MetadataTimeoutSeconds) * time.Second
}

// VectorTimeout returns the vector store operation timeout.
func (c *Config) VectorTimeout() time.Duration {
	return time.Duration(c.VectorTimeoutSeconds) * time.Second
}
