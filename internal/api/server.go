// Package api exposes the document and search functionality over HTTP.
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - ratelimit.go: per-IP token bucket rate limiting
//   - health.go: health check endpoints (/health, /ready)
//   - files.go: upload, listing, deletion, index trigger
//   - search.go: question answering endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation against a local model can be slow.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains the dependencies and settings of the API server.
type ServerConfig struct {
	Registry   DocumentRegistry
	Reconciler Reconciler
	Files      FileSaver
	Search     Searcher
	Pool       *pgxpool.Pool // readiness checks; nil reports not ready
	Logger     *slog.Logger
	RateRPS    float64 // token refill per second per IP (0 = default 10)
	RateBurst  int     // burst per IP (0 = default 60)
}

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	limits *rateLimiter
	logger *slog.Logger
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	NewHealthHandler(cfg.Pool, logger).RegisterRoutes(mux)
	NewFileHandler(cfg.Registry, cfg.Reconciler, cfg.Files, logger).RegisterRoutes(mux)
	NewSearchHandler(cfg.Search, logger).RegisterRoutes(mux)

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}

	return &Server{
		mux:    mux,
		limits: newRateLimiter(rps, burst),
		logger: logger,
	}
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → rate limit → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(s.limits, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
