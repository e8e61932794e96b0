package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the stepforge tracer.
const tracerName = "github.com/MrWong99/stepforge"

// AttrJobID is the span attribute carrying the job a span belongs to.
const AttrJobID = attribute.Key("job.id")

type jobKey struct{}

// Tracer returns the stepforge tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. When ctx carries a job ID (see
// [StartJobSpan]) the span is tagged with it. The caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := JobID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrJobID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// StartJobSpan attaches jobID to ctx and starts the root span of that job.
// Spans started below it and loggers from [Logger] inherit the job ID.
func StartJobSpan(ctx context.Context, name, jobID string) (context.Context, trace.Span) {
	return StartSpan(context.WithValue(ctx, jobKey{}, jobID), name)
}

// JobID returns the job ID attached by [StartJobSpan], or "".
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobKey{}).(string)
	return id
}

// CorrelationID is the trace ID of the active span in ctx, or "" without
// one. HTTP responses carry it as X-Correlation-ID so a failed job can be
// found in the trace backend.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the job ID and the
// trace and span IDs found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := JobID(ctx); id != "" {
		l = l.With(slog.String("job_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
