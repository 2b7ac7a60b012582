package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewProviderWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown := NewProvider(context.Background(), "", "execd")
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	shutdown()

	if otel.GetTracerProvider() != before {
		t.Error("tracer provider replaced without an endpoint")
	}
}

func TestNewProviderInstallsSDK(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown := NewProvider(context.Background(), "http://127.0.0.1:4318", "execd-test")
	defer shutdown()

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("provider = %T, want *trace.TracerProvider", otel.GetTracerProvider())
	}
}

func TestNewResource(t *testing.T) {
	res := newResource("execd-test")

	found := false
	for _, kv := range res.Attributes() {
		if kv.Key == semconv.ServiceNameKey && kv.Value.AsString() == "execd-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("service.name missing from %v", res.Attributes())
	}
}
