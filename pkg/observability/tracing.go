package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig holds the configuration for tracing
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	// Endpoint is the OTLP gRPC collector address. Empty keeps spans in-process.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// Span attribute keys used across the gateway
const (
	TextLengthAttributeKey = attribute.Key("translation.text_length")
	SourceLangAttributeKey = attribute.Key("translation.from")
	TargetLangAttributeKey = attribute.Key("translation.to")
	CacheKeyAttributeKey   = attribute.Key("cache.key")
	CacheOpAttributeKey    = attribute.Key("cache.operation")
	AttemptAttributeKey    = attribute.Key("upstream.attempt")
)

// ShutdownFunc flushes and stops a tracer provider
type ShutdownFunc func(ctx context.Context) error

// InitTracing builds a tracer provider from cfg and installs it globally.
// When tracing is disabled a no-op provider is returned.
func InitTracing(ctx context.Context, cfg TracingConfig, logger Logger) (trace.TracerProvider, ShutdownFunc, error) {
	if !cfg.Enabled {
		logger.Info("Tracing is disabled", nil)
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "translation-gateway"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}

	if cfg.Endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing initialized", map[string]interface{}{
		"service_name": cfg.ServiceName,
		"environment":  cfg.Environment,
		"endpoint":     cfg.Endpoint,
	})

	return tp, tp.Shutdown, nil
}

// TracerOrNoop returns a named tracer from tp, or a no-op tracer when tp is nil
func TracerOrNoop(tp trace.TracerProvider, name string) trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return tp.Tracer(name)
}

// MarkError records err on span and sets an error status
func MarkError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EndSpan records err on span (if any) and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		MarkError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
