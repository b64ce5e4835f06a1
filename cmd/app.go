package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wragapp/wrag/db"
	"github.com/wragapp/wrag/internal/config"
	"github.com/wragapp/wrag/internal/database"
	"github.com/wragapp/wrag/internal/document"
	"github.com/wragapp/wrag/internal/ingest"
	"github.com/wragapp/wrag/internal/log"
	"github.com/wragapp/wrag/internal/model"
	"github.com/wragapp/wrag/internal/pipeline"
	"github.com/wragapp/wrag/internal/query"
	"github.com/wragapp/wrag/internal/storage"
	"github.com/wragapp/wrag/internal/vector"
)

// app holds the assembled service graph shared by the serve and index
// commands.
type app struct {
	cfg        *config.Config
	logger     log.Logger
	pool       *pgxpool.Pool
	vectors    *vector.Store
	registry   *document.Registry
	chunks     *document.ChunkStore
	files      *storage.FileStore
	reconciler *ingest.Reconciler
	search     *query.Service
}

// buildApp loads dependencies in order: logger, postgres (with migrations),
// qdrant (with collection bootstrap), model providers, then the ingest and
// query services on top.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	vectors, err := vector.New(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection,
		cfg.EmbeddingDimension, logger.With("component", "qdrant"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		vectors.Close()
		pool.Close()
		return nil, fmt.Errorf("preparing qdrant collection: %w", err)
	}

	embedder, generator, err := buildProviders(cfg)
	if err != nil {
		vectors.Close()
		pool.Close()
		return nil, err
	}

	files, err := storage.NewFileStore(cfg.FileStoragePath, logger.With("component", "storage"))
	if err != nil {
		vectors.Close()
		pool.Close()
		return nil, err
	}

	splitter, err := document.NewSplitter(document.SplitUnit(cfg.SplitBy), cfg.SplitLength, cfg.SplitOverlap)
	if err != nil {
		vectors.Close()
		pool.Close()
		return nil, fmt.Errorf("configuring splitter: %w", err)
	}

	registry := document.NewRegistry(pool, logger.With("component", "registry"))
	chunks := document.NewChunkStore(pool, logger.With("component", "chunkstore"))

	builder := pipeline.New(logger.With("component", "pipeline"),
		pipeline.NewCleanStage(),
		pipeline.NewSplitStage(splitter),
		pipeline.NewEmbedStage(embedder),
	)

	coordinator := ingest.NewCoordinator(chunks, vectors,
		cfg.MetadataTimeout(), cfg.VectorTimeout(), logger.With("component", "coordinator"))
	reconciler := ingest.NewReconciler(registry, chunks, vectors, files, builder,
		coordinator, logger.With("component", "reconciler"))

	assembler := query.NewAssembler(chunks, cfg.SplitLength, cfg.SplitOverlap,
		logger.With("component", "assembler"))
	search := query.NewService(embedder, generator, vectors, assembler,
		cfg.QueryTopK, cfg.MaxContextChunks, logger.With("component", "query"))

	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		vectors:    vectors,
		registry:   registry,
		chunks:     chunks,
		files:      files,
		reconciler: reconciler,
		search:     search,
	}, nil
}

// buildProviders creates the embedding and generation clients selected by
// configuration. Both roles may share one Ollama client.
func buildProviders(cfg *config.Config) (model.Embedder, model.Generator, error) {
	var ollama *model.OllamaClient
	if cfg.EmbeddingProvider == config.ProviderOllama || cfg.Generator == config.ProviderOllama {
		ollama = model.NewOllamaClient(cfg.OllamaURL, cfg.EmbeddingModel, cfg.GeneratorModel, cfg.EmbeddingDimension)
	}

	var openai *model.OpenAIClient
	if cfg.EmbeddingProvider == config.ProviderOpenAI || cfg.Generator == config.ProviderOpenAI {
		var err error
		openai, err = model.NewOpenAIClient(cfg.EmbeddingModel, cfg.GeneratorModel, cfg.EmbeddingDimension)
		if err != nil {
			return nil, nil, fmt.Errorf("creating openai client: %w", err)
		}
	}

	var embedder model.Embedder = ollama
	if cfg.EmbeddingProvider == config.ProviderOpenAI {
		embedder = openai
	}
	var generator model.Generator = ollama
	if cfg.Generator == config.ProviderOpenAI {
		generator = openai
	}
	return embedder, generator, nil
}

func (a *app) Close() {
	a.vectors.Close()
	a.pool.Close()
}

// indexStoredFiles registers every file in the storage directory and
// reconciles everything dirty or failed. Used by the index command and the
// serve command's index-on-startup boot task.
func (a *app) indexStoredFiles(ctx context.Context) (int, error) {
	names, err := a.files.List()
	if err != nil {
		return 0, fmt.Errorf("listing stored files: %w", err)
	}

	for _, name := range names {
		content, err := a.files.Load(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("loading %s: %w", name, err)
		}
		if _, _, err := a.registry.Register(ctx, name, []byte(content)); err != nil {
			return 0, fmt.Errorf("registering %s: %w", name, err)
		}
	}

	reconciled, err := a.reconciler.ReconcileAll(ctx)
	if err != nil {
		return reconciled, fmt.Errorf("reconciling: %w", err)
	}
	return reconciled, nil
}
