// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or /etc/wrag/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Embedding: provider, model, vector dimension
//   - Generation: provider, default model (per-request override via API)
//   - Splitting: split unit, length, overlap
//   - Storage: PostgreSQL connection (see storage.go), Qdrant address and
//     collection, upload directory
//   - Serve: HTTP listen address, rate limiting, index-on-startup
//
// Security: sensitive values (passwords) are masked in MarshalJSON/String.
// Validation: range checks in validation.go with sentinel errors for
// errors.Is() checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidSplit indicates invalid document splitting parameters.
	ErrInvalidSplit = errors.New("invalid split configuration")

	// ErrInvalidEmbedding indicates invalid embedding configuration.
	ErrInvalidEmbedding = errors.New("invalid embedding configuration")

	// ErrInvalidGenerator indicates invalid generation configuration.
	ErrInvalidGenerator = errors.New("invalid generator configuration")

	// ErrInvalidPostgres indicates invalid PostgreSQL configuration.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidQdrant indicates invalid Qdrant configuration.
	ErrInvalidQdrant = errors.New("invalid Qdrant configuration")

	// ErrInvalidServe indicates invalid HTTP server configuration.
	ErrInvalidServe = errors.New("invalid serve configuration")
)

// Provider identifiers used for embedding and generation backends.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Split units accepted by the document splitter.
const (
	SplitByWord      = "word"
	SplitByCharacter = "character"
)

// DefaultEmbeddingDimension matches the vector(768) column in the chunks
// schema and the default multilingual-e5-base embedding model.
const DefaultEmbeddingDimension = 768

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON().
type Config struct {
	// Embedding configuration
	EmbeddingProvider  string `mapstructure:"embedding_provider" json:"embedding_provider"`
	EmbeddingModel     string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// Generation configuration
	Generator      string `mapstructure:"generator" json:"generator"`
	GeneratorModel string `mapstructure:"generator_model" json:"generator_model"`
	OllamaURL      string `mapstructure:"ollama_url" json:"ollama_url"`

	// Document splitting configuration
	SplitBy      string `mapstructure:"split_by" json:"split_by"`
	SplitLength  int    `mapstructure:"split_length" json:"split_length"`
	SplitOverlap int    `mapstructure:"split_overlap" json:"split_overlap"`

	// PostgreSQL configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Qdrant configuration
	QdrantHost       string `mapstructure:"qdrant_host" json:"qdrant_host"`
	QdrantPort       int    `mapstructure:"qdrant_port" json:"qdrant_port"`
	QdrantCollection string `mapstructure:"qdrant_collection" json:"qdrant_collection"`

	// File storage configuration
	FileStoragePath string `mapstructure:"file_storage_path" json:"file_storage_path"`

	// Serve configuration
	ListenAddr     string  `mapstructure:"listen_addr" json:"listen_addr"`
	IndexOnStartup bool    `mapstructure:"index_on_startup" json:"index_on_startup"`
	RateLimit      float64 `mapstructure:"rate_limit" json:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst" json:"rate_burst"`

	// Query configuration
	QueryTopK        int `mapstructure:"query_top_k" json:"query_top_k"`
	MaxContextChunks int `mapstructure:"max_context_chunks" json:"max_context_chunks"`

	// Store operation timeouts, in seconds
	MetadataTimeoutSeconds int `mapstructure:"metadata_timeout_seconds" json:"metadata_timeout_seconds"`
	VectorTimeoutSeconds   int `mapstructure:"vector_timeout_seconds" json:"vector_timeout_seconds"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/wrag")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", "/etc/wrag"})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Embedding defaults
	v.SetDefault("embedding_provider", ProviderOllama)
	v.SetDefault("embedding_model", "intfloat/multilingual-e5-base")
	v.SetDefault("embedding_dim", DefaultEmbeddingDimension)

	// Generation defaults
	v.SetDefault("generator", ProviderOllama)
	v.SetDefault("generator_model", "deepseek-r1:7b")
	v.SetDefault("ollama_url", "http://localhost:11434")

	// Splitting defaults
	v.SetDefault("split_by", SplitByWord)
	v.SetDefault("split_length", 250)
	v.SetDefault("split_overlap", 30)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "wrag")
	v.SetDefault("postgres_password", "wrag_dev_password")
	v.SetDefault("postgres_db_name", "wrag")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Qdrant defaults
	v.SetDefault("qdrant_host", "localhost")
	v.SetDefault("qdrant_port", 6334)
	v.SetDefault("qdrant_collection", "semantic_search")

	// File storage defaults
	v.SetDefault("file_storage_path", "files")

	// Serve defaults
	v.SetDefault("listen_addr", "127.0.0.1:8000")
	v.SetDefault("index_on_startup", false)
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 20)

	// Query defaults
	v.SetDefault("query_top_k", 10)
	v.SetDefault("max_context_chunks", 5)

	// Timeout defaults
	v.SetDefault("metadata_timeout_seconds", 10)
	v.SetDefault("vector_timeout_seconds", 30)

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// Observability defaults (empty endpoint disables tracing export)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "wrag")
}

// bindEnvVariables binds environment variables explicitly.
// Hardcoded keys cannot fail to bind; a failure is a programming bug.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("embedding_provider", "EMBEDDING_PROVIDER")
	mustBind("embedding_model", "EMBEDDING_MODEL")
	mustBind("embedding_dim", "EMBEDDING_DIM")
	mustBind("generator", "GENERATOR")
	mustBind("generator_model", "GENERATOR_MODEL")
	mustBind("ollama_url", "OLLAMA_API_URL")
	mustBind("split_by", "SPLIT_BY")
	mustBind("split_length", "SPLIT_LENGTH")
	mustBind("split_overlap", "SPLIT_OVERLAP")
	mustBind("postgres_host", "POSTGRES_HOST")
	mustBind("postgres_port", "POSTGRES_PORT")
	mustBind("postgres_user", "POSTGRES_USER")
	mustBind("postgres_password", "POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "POSTGRES_DB")
	mustBind("qdrant_host", "QDRANT_HOST")
	mustBind("qdrant_port", "QDRANT_PORT")
	mustBind("qdrant_collection", "QDRANT_COLLECTION_NAME")
	mustBind("file_storage_path", "FILE_STORAGE_PATH")
	mustBind("listen_addr", "WRAG_LISTEN_ADDR")
	mustBind("index_on_startup", "INDEX_ON_STARTUP")
	mustBind("query_top_k", "QUERY_TOP_K")
	mustBind("max_context_chunks", "MAX_CONTEXT_CHUNKS")
	mustBind("log_level", "LOG_LEVEL")
	mustBind("log_json", "LOG_JSON")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// NOTE: OPENAI_API_KEY is read directly by the openai-go client.
	// Validation checks its presence when an OpenAI provider is selected.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// matching; longer secrets keep the first and last 2 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
