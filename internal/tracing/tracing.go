// Package tracing wires OTLP trace export for the runtime. When disabled
// it still hands out a no-op tracer so span helpers never panic.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/config"
)

const serviceName = "dirigent"

var (
	tracer   oteltrace.Tracer = otel.Tracer(serviceName)
	provider *sdktrace.TracerProvider
)

// Initialize sets up OTLP export per cfg. Disabled tracing keeps the
// default no-op tracer.
func Initialize(cfg config.TracingConfig, logger *zap.Logger) error {
	tracer = otel.Tracer(serviceName)
	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SamplingRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(provider)
	tracer = otel.Tracer(serviceName)

	logger.Info("Tracing initialized",
		zap.String("endpoint", endpoint),
		zap.Float64("sampling_rate", cfg.SamplingRate),
	)
	return nil
}

// Shutdown flushes pending spans. No-op when tracing never started.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// StartSpan opens a span with the given name.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, name)
}

// StartHTTPSpan opens a span for an outbound HTTP call.
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "HTTP "+method)
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLFull(url),
	)
	return ctx, span
}

// W3CTraceparent renders the traceparent header for the current span, or
// "" when the context carries no valid span.
func W3CTraceparent(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-%02x", sc.TraceID(), sc.SpanID(), sc.TraceFlags())
}

// InjectTraceparent propagates the current span to an outbound request.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	if tp := W3CTraceparent(ctx); tp != "" {
		req.Header.Set("traceparent", tp)
	}
}
