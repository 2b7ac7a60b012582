// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Version is reported as the service version on every span.
var Version = "dev"

func newExporter(ctx context.Context, endpoint string) (trace.SpanExporter, error) {
	opts := []otlptracehttp.Option{}
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		opts = append(opts, otlptracehttp.WithEndpoint(strings.TrimPrefix(endpoint, "https://")))
	default:
		opts = append(opts,
			otlptracehttp.WithEndpoint(strings.TrimPrefix(endpoint, "http://")),
			otlptracehttp.WithInsecure(),
		)
	}
	return otlptracehttp.New(ctx, opts...)
}

func newResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
	)
}

// NewProvider installs a tracer provider exporting to an OTLP/HTTP collector
// at endpoint (host:port, optionally with an http:// or https:// scheme).
// With an empty endpoint nothing is installed and spans are dropped by the
// global no-op provider.
//
// Returns a teardown func that flushes pending spans.
func NewProvider(ctx context.Context, endpoint, serviceName string) func() {
	if endpoint == "" {
		return func() {}
	}

	exp, err := newExporter(ctx, endpoint)
	if err != nil {
		slog.Error("unable to create trace exporter, tracing disabled", "endpoint", endpoint, "error", err)
		return func() {}
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(newResource(serviceName)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	slog.Info("tracing enabled", "endpoint", endpoint, "service", serviceName)

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("unable to shutdown trace provider", "error", err)
		}
	}
}
