// Package tracing wires optional OTLP span export for the gateway: a
// per-process TracerProvider exporting over OTLP/HTTP when
// telemetry.enabled is set, and a no-op tracer otherwise. Grounded on the
// observer package's Init/NewTracer split (trace-only subset — no
// metrics or log pipeline, since SPEC_FULL scopes this to span emission).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
)

const scopeName = "github.com/nextlevelbuilder/oxicrab-gw"

// Shutdown flushes and closes the configured exporter. Safe to call even
// when tracing was never enabled.
type Shutdown func(context.Context) error

// Init configures the global TracerProvider from cfg. When cfg.Enabled is
// false, it leaves the OTEL default no-op provider in place and returns a
// Shutdown that does nothing — callers don't need to branch on whether
// tracing is active.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("oxicrab-gw")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the process-wide tracer. Before Init (or when tracing is
// disabled) this is OTEL's default no-op tracer, so callers never need a
// nil check.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartSpan starts a span named name with the given attributes
// (attribute.KeyValue values, e.g. attribute.String("k", "v")).
func StartSpan(ctx context.Context, name string, kv ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(kv...))
}

// EndWithError records err on the span (if non-nil) and ends it. A
// convenience for the common defer-span-end-with-status pattern.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// String is a shorthand for attribute.String, re-exported so callers only
// need to import this package for simple span attributes.
func String(key, value string) attribute.KeyValue { return attribute.String(key, value) }

// Int is a shorthand for attribute.Int.
func Int(key string, value int) attribute.KeyValue { return attribute.Int(key, value) }
