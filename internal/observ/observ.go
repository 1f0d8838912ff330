// Package observ installs the OpenTelemetry tracer provider that transport
// spans are exported through.
package observ

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Init sets the global tracer provider when observ.enabled is true. Otherwise
// the global no-op provider stays in place and the returned Shutdown does
// nothing.
func Init(ctx context.Context, v *viper.Viper) (Shutdown, error) {
	if !v.GetBool("observ.enabled") {
		return func(context.Context) error { return nil }, nil
	}
	tp, err := NewProvider(ctx, v.GetString("observ.endpoint"), v.GetString("observ.service_name"))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// NewProvider builds a batching provider exporting to an OTLP/HTTP collector
// at endpoint (host:port, scheme optional).
func NewProvider(ctx context.Context, endpoint, serviceName string) (*sdktrace.TracerProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("telemetry endpoint not configured")
	}
	if serviceName == "" {
		serviceName = "multidustry"
	}
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
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
