package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "manim-video-generator"

// Tracer wraps OpenTelemetry tracing for the render orchestrator.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("manim.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for orchestrator tracing.
var (
	AttrRunID      = attribute.Key("manim.run.id")
	AttrScriptID   = attribute.Key("manim.script.id")
	AttrSceneClass = attribute.Key("manim.scene_class")
	AttrAttempt    = attribute.Key("manim.attempt")
	AttrProvider   = attribute.Key("manim.provider")
	AttrOutcome    = attribute.Key("manim.outcome")
)
