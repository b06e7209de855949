package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for toolkit spans.
const TracerName = "github.com/magentakit/magenta"

// Environment variables read by InitTracing.
const (
	EnvJaegerEndpoint = "OTEL_EXPORTER_JAEGER_ENDPOINT"
	EnvSampleRatio    = "MAGENTA_TRACE_SAMPLE_RATIO"
)

// InitTracing installs a Jaeger-exporting tracer provider when
// OTEL_EXPORTER_JAEGER_ENDPOINT is set (e.g. http://localhost:14268/api/traces).
// MAGENTA_TRACE_SAMPLE_RATIO in [0, 1] samples root spans; the default keeps
// all of them. Without an endpoint the global no-op provider stays in place
// and the returned shutdown does nothing.
func InitTracing(ctx context.Context, serviceName, version string) (func(context.Context) error, error) {
	endpoint := os.Getenv(EnvJaegerEndpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	sampler, err := samplerFromEnv(os.Getenv(EnvSampleRatio))
	if err != nil {
		return nil, err
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
		semconv.HostName(getHostname()),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	// A CLI run ends quickly, so batches are small and flushed on shutdown.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(128), sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func samplerFromEnv(v string) (sdktrace.Sampler, error) {
	if v == "" {
		return sdktrace.AlwaysSample(), nil
	}
	ratio, err := strconv.ParseFloat(v, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("%s must be a number in [0, 1], got %q", EnvSampleRatio, v)
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
}

// Tracer returns the toolkit tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
