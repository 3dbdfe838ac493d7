// Package observability sets up OpenTelemetry tracing for the pipeline.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type TracingConfig struct {
	Enabled     bool
	Endpoint    string // Jaeger collector, e.g. http://localhost:14268/api/traces
	ServiceName string
	Logger      *slog.Logger
}

// Tracing owns the tracer provider handed to the pipeline.
type Tracing struct {
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
	logger   *slog.Logger
}

// NewTracing builds a batching Jaeger tracer provider and installs it as the
// global provider. Disabled tracing yields a no-op provider.
func NewTracing(cfg TracingConfig) (*Tracing, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Enabled {
		return &Tracing{provider: noop.NewTracerProvider(), logger: cfg.Logger}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "digitaltwin"
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	cfg.Logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "service", cfg.ServiceName)

	return &Tracing{provider: tp, sdk: tp, logger: cfg.Logger}, nil
}

func (t *Tracing) Provider() trace.TracerProvider { return t.provider }

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown() {
	if t.sdk == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.sdk.Shutdown(ctx); err != nil {
		t.logger.Warn("tracer shutdown failed", "err", err)
	}
}
