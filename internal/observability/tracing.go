package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rs/zerolog"
)

// TracerName is the instrumentation scope used for request spans
const TracerName = "github.com/aixgo-dev/promdoc"

// TracingConfig holds tracing configuration
type TracingConfig struct {
	// ServiceName is reported as the service.name resource attribute
	ServiceName string

	// Exporter is "otlp", "stdout", or "none"
	Exporter string

	// Endpoint is the OTLP/HTTP endpoint, either host:port or a full URL.
	// Empty means the exporter default (localhost:4318).
	Endpoint string

	// Headers are additional headers for OTLP requests, e.g. authorization
	Headers map[string]string
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

var (
	tracerMu sync.RWMutex
	tracer   trace.Tracer
)

// InitTracing installs a global tracer provider for the configured exporter.
// With the "none" exporter the global noop provider stays in place.
func InitTracing(ctx context.Context, config TracingConfig, logger zerolog.Logger) (ShutdownFunc, error) {
	if config.Exporter == "" || config.Exporter == "none" {
		setTracer(otel.GetTracerProvider().Tracer(TracerName))
		logger.Debug().Msg("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(config.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch config.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		logger.Info().Str("endpoint", config.Endpoint).Msg("Tracing initialized with OTLP exporter")

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		logger.Info().Msg("Tracing initialized with stdout exporter")

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", config.Exporter)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	setTracer(provider.Tracer(TracerName))

	return func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
		}
		return provider.Shutdown(ctx)
	}, nil
}

func setTracer(t trace.Tracer) {
	tracerMu.Lock()
	tracer = t
	tracerMu.Unlock()
}

func currentTracer() trace.Tracer {
	tracerMu.RLock()
	t := tracer
	tracerMu.RUnlock()
	if t == nil {
		return otel.GetTracerProvider().Tracer(TracerName)
	}
	return t
}

// StartSpan starts a server span as a child of ctx
func StartSpan(ctx context.Context, name string, data map[string]any) (context.Context, *Span) {
	attrs := make([]attribute.KeyValue, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, convertToAttribute(k, v))
	}

	spanCtx, span := currentTracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	return spanCtx, &Span{span: span, name: name}
}

// Span wraps an OpenTelemetry span
type Span struct {
	span  trace.Span
	name  string
	ended bool
}

// Name returns the span name
func (s *Span) Name() string {
	return s.name
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value any) {
	if s.span != nil {
		s.span.SetAttributes(convertToAttribute(key, value))
	}
}

// SetError records err and marks the span failed
func (s *Span) SetError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

// End finishes the span. Later calls are no-ops.
func (s *Span) End() {
	if !s.ended && s.span != nil {
		s.span.End()
		s.ended = true
	}
}

// IsEnded returns whether the span has been ended
func (s *Span) IsEnded() bool {
	return s.ended
}

func createOTLPExporter(ctx context.Context, config TracingConfig) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	switch {
	case config.Endpoint == "":
	case strings.Contains(config.Endpoint, "://"):
		opts = append(opts, otlptracehttp.WithEndpointURL(config.Endpoint))
	default:
		opts = append(opts, otlptracehttp.WithEndpoint(config.Endpoint), otlptracehttp.WithInsecure())
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
	}

	client := otlptracehttp.NewClient(opts...)
	return otlptrace.New(ctx, client)
}

func convertToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// ParseHeaders parses the OTEL_EXPORTER_OTLP_HEADERS format "k1=v1,k2=v2".
func ParseHeaders(headerStr string) map[string]string {
	if headerStr == "" {
		return nil
	}

	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}
