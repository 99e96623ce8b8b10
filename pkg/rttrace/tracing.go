// Package rttrace implements the task runtime's tracing collaborator
// as a thin OpenTelemetry-backed span emitter. The runtime must
// function with a no-op sink — Sink is an interface precisely so
// callers that don't want OpenTelemetry can supply NoopSink{}.
package rttrace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/taskrt"

// Sink is the opaque tracing collaborator the core depends on. The
// worker pool and command-buffer dispatcher call it at admission,
// dispatch, and completion points; nothing else in the core module knows
// about OpenTelemetry directly.
type Sink interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func())
}

// NoopSink discards all spans. It is the default for executor.Pool when
// no Sink is configured.
type NoopSink struct{}

func (NoopSink) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func()) {
	return ctx, func() {}
}

// OtelSink emits spans through a configured OpenTelemetry TracerProvider.
type OtelSink struct {
	tracer trace.Tracer
}

// NewOtelSink wraps the given tracer provider's tracer for this module.
func NewOtelSink(provider trace.TracerProvider) *OtelSink {
	return &OtelSink{tracer: provider.Tracer(tracerName)}
}

func (s *OtelSink) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// NewStdoutProvider builds a development TracerProvider that
// pretty-prints spans to stdout.
func NewStdoutProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("taskrt: create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("taskrt: create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return provider, nil
}
