// Package observability wires OpenTelemetry tracing. Spans are exported to
// an OTLP HTTP collector endpoint; when no collector is reachable the
// application runs untraced rather than failing.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the collector's OTLP HTTP host:port (default: localhost:4318)
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the name spans are attributed to
	ServiceName string
}

// DefaultEndpoint is the default OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup installs a global tracer provider exporting to the configured
// collector and returns a shutdown function that flushes pending spans.
// An unreachable collector at startup disables tracing instead of failing.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "wrag"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
