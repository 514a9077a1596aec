package observe

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures the TracingSink.
type TracingConfig struct {
	ServiceName string
	Endpoint    string // OTLP endpoint, e.g. "localhost:4317"
	Insecure    bool
	SampleRate  float64
	UseStdout   bool // emit to stdout instead of OTLP, for local debugging
}

// DefaultTracingConfig returns a configuration that samples every span
// (SampleRate 1.0) and exports it over OTLP gRPC to localhost:4317.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "loadgen-core",
		Endpoint:    "localhost:4317",
		Insecure:    true,
		SampleRate:  1.0,
	}
}

// TracingSink emits one span per resource occurrence, keyed by method
// and path, carrying the terminal status or error as attributes. It
// implements RequestListener; OnBegin starts the span, OnSuccess/
// OnFailure end it.
const shutdownTimeout = 5 * time.Second

type TracingSink struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	spans    sync.Map // *http.Request -> trace.Span
}

// NewTracingSink initializes an OpenTelemetry tracer provider per config
// and returns a sink ready to be attached to an Engine's RequestListener
// slot. Pass an empty ServiceName-only config with SampleRate 0 to get a
// no-op tracer that still satisfies the interface cheaply.
func NewTracingSink(ctx context.Context, config TracingConfig) (*TracingSink, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if config.UseStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		exporter, err = otlptrace.New(ctx, client)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &TracingSink{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, nil
}

func (s *TracingSink) spanFor(req *http.Request) (trace.Span, bool) {
	v, ok := s.spans.Load(req)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}

// OnBegin implements RequestListener, starting a span for req.
func (s *TracingSink) OnBegin(req *http.Request) {
	_, span := s.tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
		))
	s.spans.Store(req, span)
}

// OnCommit implements RequestListener; headers have been written.
func (s *TracingSink) OnCommit(req *http.Request) {
	if span, ok := s.spanFor(req); ok {
		span.AddEvent("request.committed")
	}
}

// OnSuccess implements RequestListener, closing the span with the
// observed status code.
func (s *TracingSink) OnSuccess(req *http.Request, resp *http.Response) {
	if span, ok := s.spanFor(req); ok {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.End()
		s.spans.Delete(req)
	}
}

// OnFailure implements RequestListener, recording the error on the span
// before closing it.
func (s *TracingSink) OnFailure(req *http.Request, err error) {
	if span, ok := s.spanFor(req); ok {
		span.RecordError(err)
		span.End()
		s.spans.Delete(req)
	}
}

// OnLoadGeneratorStop implements StopListener, flushing the exporter.
func (s *TracingSink) OnLoadGeneratorStop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.provider.Shutdown(ctx)
}
