// Package telemetry wires OpenTelemetry tracing and Pyroscope profiling for
// offload calls. Without Init every helper works against a no-op tracer.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/marmos91/offload/internal/logger"
)

const (
	instrumentationName = "github.com/marmos91/offload"
	shutdownTimeout     = 5 * time.Second
)

// Config selects where dispatch spans are exported.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is an OTLP/gRPC collector address such as "localhost:4317".
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of calls traced, clamped to [0, 1].
	SampleRate float64
}

// state is the installed tracer. Reads are far more frequent than writes.
var state struct {
	mu      sync.RWMutex
	tracer  trace.Tracer
	enabled bool
}

func install(t trace.Tracer, enabled bool) {
	state.mu.Lock()
	state.tracer = t
	state.enabled = enabled
	state.mu.Unlock()
}

func noopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(instrumentationName)
}

// Init installs an OTLP exporter when cfg.Enabled is set and a no-op tracer
// otherwise. The returned function flushes pending spans.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		install(noopTracer(), false)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	install(tp.Tracer(instrumentationName), true)

	logger.Debug("Tracing enabled", "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "offload"
	}
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// UseTracerProvider installs tp as the source of spans. Tests use it with an
// in-memory recorder.
func UseTracerProvider(tp trace.TracerProvider) {
	install(tp.Tracer(instrumentationName), true)
}

// Tracer returns the installed tracer, or a no-op one before Init.
func Tracer() trace.Tracer {
	state.mu.RLock()
	t := state.tracer
	state.mu.RUnlock()
	if t == nil {
		return noopTracer()
	}
	return t
}

// IsEnabled reports whether spans are exported.
func IsEnabled() bool {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.enabled
}

// StartSpan starts a span as a child of whatever ctx carries. The caller
// ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err on the span in ctx and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetStatus sets the status of the span in ctx.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	trace.SpanFromContext(ctx).SetStatus(code, description)
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the trace ID in ctx, or "" without a recording span.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanID returns the span ID in ctx, or "".
func SpanID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// WithLogContext copies the active trace and span IDs into the LogContext
// carried by ctx so log lines and spans can be correlated.
func WithLogContext(ctx context.Context) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		return ctx
	}
	traceID := TraceID(ctx)
	if traceID == "" {
		return ctx
	}
	return logger.WithContext(ctx, lc.WithTrace(traceID, SpanID(ctx)))
}
