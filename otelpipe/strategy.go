// Package otelpipe implements the TracingStrategy capability described in
// spec.md §9: a small interface spanning whichever combination of the
// always-on Hindsight pipeline and the head-sampled OpenTelemetry-compatible
// pipeline a server was started with.
package otelpipe

import (
	"context"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SpanHandle is an open span in whichever backend(s) are active. Callers
// hold one per logical span (Exec, Exec/Process, a ChildCall span, ...)
// between OpenRequestSpan/OpenSubspan and CloseSpan. Every method that operates on a
// SpanHandle also takes the context it was opened from, since the
// Hindsight backend keeps its per-trace state in the context rather than
// in the handle itself (the handle only needs to remember its Hindsight
// span id, a plain deterministic integer).
type SpanHandle struct {
	hindsightSpanID uint64
	otelSpan        oteltrace.Span
}

// Strategy is the capability interface every tracing backend implements.
// Its method set matches spec.md §9's TracingStrategy: open_request_span,
// open_subspan, set_attribute, set_status, close_span, report_breadcrumb,
// fire_trigger.
type Strategy interface {
	// OpenRequestSpan starts the end-to-end span for an inbound request.
	OpenRequestSpan(ctx context.Context, name string, hindsightSpanID uint64) (context.Context, *SpanHandle)
	// OpenSubspan starts a child span of whatever is active in ctx.
	OpenSubspan(ctx context.Context, name string, hindsightSpanID uint64) (context.Context, *SpanHandle)
	SetAttribute(ctx context.Context, h *SpanHandle, key string, value hindsight.AttrValue)
	SetStatus(ctx context.Context, h *SpanHandle, ok bool, description string)
	CloseSpan(ctx context.Context, h *SpanHandle)
	ReportBreadcrumb(ctx context.Context, address string)
	FireTrigger(ctx context.Context, queueID int)
}

// ctxKey namespaces context values this package stores.
type ctxKey int

const traceStateKey ctxKey = 0

// WithTraceState attaches a hindsight.TraceState to ctx, so backends that
// read it (HindsightOnly, OtelOverHindsight) can find it without the
// request state machine needing to thread it through every call.
func WithTraceState(ctx context.Context, ts *hindsight.TraceState) context.Context {
	return context.WithValue(ctx, traceStateKey, ts)
}

// TraceStateFromContext retrieves the TraceState WithTraceState attached,
// or nil if none was (e.g. under NoTracing or OtelOnly).
func TraceStateFromContext(ctx context.Context) *hindsight.TraceState {
	ts, _ := ctx.Value(traceStateKey).(*hindsight.TraceState)
	return ts
}

// setOtelStatus translates a boolean ok/not-ok into otel's codes.Code,
// mirroring how spec.md §7's error taxonomy records non-OK completions.
func setOtelStatus(span oteltrace.Span, ok bool, description string) {
	if ok {
		span.SetStatus(codes.Ok, description)
		return
	}
	span.SetStatus(codes.Error, description)
}

// otelAttr adapts a hindsight.AttrValue into an otel attribute.KeyValue,
// presenting the same observation to both tracing systems.
func otelAttr(key string, v hindsight.AttrValue) attribute.KeyValue {
	return attribute.String(key, v.String())
}
