package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	ferryerrors "ferry/internal/shared/errors"
	id "ferry/internal/utils/id"
)

const tracerName = "ferry"

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled        bool
	Exporter       string // otlp, zipkin
	OTLPEndpoint   string
	ZipkinEndpoint string
	SampleRate     float64 // 0.0 to 1.0
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps the OpenTelemetry tracer. A nil *TracerProvider is
// valid and produces no-op spans.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider builds a tracer from config. Disabled tracing returns a
// no-op tracer.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(tracerName)}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = tracerName
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(config.Exporter)) {
	case "", "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
	}, nil
}

// NewTracerProviderFrom wraps an existing provider, e.g. one backed by a span
// recorder in tests.
func NewTracerProviderFrom(provider trace.TracerProvider) *TracerProvider {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return &TracerProvider{tracer: provider.Tracer(tracerName)}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp != nil && tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span carrying the run and iteration IDs found in ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		return ctx, noop.Span{}
	}
	if runID := id.RunIDFromContext(ctx); runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	if iterationID := id.IterationIDFromContext(ctx); iterationID != "" {
		attrs = append(attrs, attribute.String(AttrIterationID, iterationID))
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(ErrorAttrs(err)...)
	}
	span.End()
}

// Span names
const (
	SpanPipelineRun   = "ferry.pipeline.run"
	SpanPipelineStage = "ferry.pipeline.stage"
	SpanLoopIteration = "ferry.loop.iteration"
	SpanRemoteSync    = "ferry.remote.sync"
)

// Attribute keys
const (
	AttrRunID       = "ferry.run_id"
	AttrIterationID = "ferry.iteration_id"
	AttrJob         = "ferry.job"
	AttrAgent       = "ferry.agent"
	AttrStage       = "ferry.stage"
	AttrIteration   = "ferry.iteration"
	AttrRemote      = "ferry.remote"
	AttrErrorKind   = "ferry.error_kind"
)

// JobAttrs describes the job a span belongs to.
func JobAttrs(job, agentName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrJob, job),
		attribute.String(AttrAgent, agentName),
	}
}

func StageAttrs(stage string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrStage, stage)}
}

func IterationAttrs(iteration int) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.Int(AttrIteration, iteration)}
}

func RemoteAttrs(remote, branch string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrRemote, remote+"/"+branch)}
}

// ErrorAttrs creates error attributes
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String("error.message", err.Error()),
		attribute.String(AttrErrorKind, ferryerrors.Kind(err)),
	}
}
