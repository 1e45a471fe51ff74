package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTLPEndpointFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, returning ""
// when tracing export has not been configured for this process.
func OTLPEndpointFromEnv() string {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// ProviderConfig configures the OTLP/HTTP exporter backing the global
// tracer provider.
type ProviderConfig struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string

	// Endpoint is the OTLP/HTTP collector endpoint, e.g.
	// "otel-collector:4318". Empty uses the exporter's default.
	Endpoint string

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// NewProvider builds and installs a global OpenTelemetry tracer
// provider exporting spans over OTLP/HTTP. The returned shutdown func
// must be called to flush pending spans before process exit.
func NewProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	opts := []otlptracehttp.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
