package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Span attribute keys.
var (
	AttrRunID          = attribute.Key("run.id")
	AttrRunStatus      = attribute.Key("run.status")
	AttrNode           = attribute.Key("node.name")
	AttrTarget         = attribute.Key("target")
	AttrRecipe         = attribute.Key("recipe.name")
	AttrResource       = attribute.Key("resource.ref")
	AttrProvider       = attribute.Key("provider.name")
	AttrPhase          = attribute.Key("run.phase")
	AttrChanged        = attribute.Key("resource.changed")
	AttrErrorClass     = attribute.Key("error.class")
	AttrPlatformFamily = attribute.Key("platform.family")
)

// Tracer creates the spans of a run: one per run, with child spans for
// recipe loads and activations.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer. A disabled configuration yields a no-op
// tracer.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "otlp":
		exporter, err = newOTLPExporter(cfg)
	case "stdout":
		exporter, err = newStdoutExporter(os.Stdout)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return NewTracerWithExporter(exporter, cfg, serviceName, serviceVersion)
}

// NewTracerWithExporter creates a tracer that batches spans to exporter.
func NewTracerWithExporter(exporter sdktrace.SpanExporter, cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if cfg.ExportTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithExportTimeout(cfg.ExportTimeout))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		sdktrace.WithBatcher(exporter, batchOpts...),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
	}, nil
}

func newOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent("froyo-mysql")),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

func newStdoutExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
}

// StartRun starts the root span of a run.
func (t *Tracer) StartRun(ctx context.Context, runID, node, target string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "run",
		trace.WithAttributes(
			AttrRunID.String(runID),
			AttrNode.String(node),
			AttrTarget.String(target),
		),
	)
}

// StartRecipe starts a span for a recipe load.
func (t *Tracer) StartRecipe(ctx context.Context, recipe string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "recipe "+recipe, trace.WithAttributes(AttrRecipe.String(recipe)))
}

// StartPhase starts a span for a run phase.
func (t *Tracer) StartPhase(ctx context.Context, phase engine.Phase) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "phase "+string(phase), trace.WithAttributes(AttrPhase.String(string(phase))))
}

// ActivationCompleted implements engine.ActivationObserver by recording
// each activation as an event on the span in ctx.
func (t *Tracer) ActivationCompleted(ctx context.Context, a *engine.Activation) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		AttrResource.String(a.Ref.String()),
		AttrProvider.String(a.Provider),
		AttrPhase.String(string(a.Phase)),
		AttrChanged.Bool(a.Changed),
		attribute.Int("activation.seq", a.Seq),
		attribute.Int64("activation.duration_ms", a.Duration.Milliseconds()),
	}
	if a.Error != "" {
		attrs = append(attrs, attribute.String("error.message", a.Error))
	}
	span.AddEvent("activation", trace.WithAttributes(attrs...))
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(AttrErrorClass.String(string(engine.ErrorClassOf(err))))
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
