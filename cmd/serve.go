package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wragapp/wrag/internal/api"
	"github.com/wragapp/wrag/internal/config"
	"github.com/wragapp/wrag/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the HTTP API server.

Endpoints:
  POST   /api/files        upload a document (multipart, field "file")
  GET    /api/files        list registered documents
  DELETE /api/files/{name} remove a document and its index entries
  POST   /api/index        reconcile all dirty or failed documents
  POST   /api/search       answer a question over the corpus
  GET    /health, /ready   probes

Set INDEX_ON_STARTUP=true to register and index every file in the storage
directory before serving.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
	}, app.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			app.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	if cfg.IndexOnStartup {
		n, err := app.indexStoredFiles(ctx)
		if err != nil {
			return err
		}
		app.logger.Info("startup indexing complete", "reconciled", n)
	}

	server := api.NewServer(api.ServerConfig{
		Registry:   app.registry,
		Reconciler: app.reconciler,
		Files:      app.files,
		Search:     app.search,
		Pool:       app.pool,
		Logger:     app.logger.With("component", "api"),
		RateRPS:    cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	})

	return server.Run(ctx, cfg.ListenAddr)
}
