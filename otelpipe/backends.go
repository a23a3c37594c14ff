package otelpipe

import (
	"context"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NoTracing discards everything; used when a server is started with -x
// none, so the cost of tracing can be measured as a baseline.
type NoTracing struct{}

func (NoTracing) OpenRequestSpan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	return ctx, &SpanHandle{hindsightSpanID: spanID}
}
func (NoTracing) OpenSubspan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	return ctx, &SpanHandle{hindsightSpanID: spanID}
}
func (NoTracing) SetAttribute(context.Context, *SpanHandle, string, hindsight.AttrValue) {}
func (NoTracing) SetStatus(context.Context, *SpanHandle, bool, string)                   {}
func (NoTracing) CloseSpan(context.Context, *SpanHandle)                                 {}
func (NoTracing) ReportBreadcrumb(context.Context, string)                               {}
func (NoTracing) FireTrigger(context.Context, int)                                       {}

// HindsightOnly drives the always-on Hindsight event stream exclusively;
// this is the "retroactive tracing" pipeline spec.md's OVERVIEW centers on.
// It reads its per-trace TraceState out of the context (see WithTraceState)
// rather than carrying it in the SpanHandle, so a bare context.Context is
// enough for every Strategy method.
type HindsightOnly struct {
	Agent *hindsight.Agent
}

// NewTraceState seeds ctx with a fresh TraceState for a new request hop;
// callers (the request state machine) do this once per request, before
// opening the end-to-end span.
func (b HindsightOnly) NewTraceState(ctx context.Context, traceID, parentSpanID uint64, headSample bool) context.Context {
	ts := hindsight.NewTraceState(b.Agent, traceID, parentSpanID, headSample)
	return WithTraceState(ctx, ts)
}

func (b HindsightOnly) OpenRequestSpan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	return b.OpenSubspan(ctx, name, spanID)
}

func (b HindsightOnly) OpenSubspan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	if ts := TraceStateFromContext(ctx); ts != nil {
		ts.LogSpanStart(spanID)
		ts.LogSpanName(spanID, name)
	}
	return ctx, &SpanHandle{hindsightSpanID: spanID}
}

func (b HindsightOnly) SetAttribute(ctx context.Context, h *SpanHandle, key string, value hindsight.AttrValue) {
	if ts := TraceStateFromContext(ctx); ts != nil {
		ts.LogAttribute(h.hindsightSpanID, key, value)
	}
}

func (b HindsightOnly) SetStatus(ctx context.Context, h *SpanHandle, ok bool, description string) {
	ts := TraceStateFromContext(ctx)
	if ts == nil {
		return
	}
	code := uint32(0)
	if !ok {
		code = 1
	}
	ts.LogStatus(h.hindsightSpanID, code)
	if description != "" {
		ts.LogStatusDescription(h.hindsightSpanID, description)
	}
}

func (b HindsightOnly) CloseSpan(ctx context.Context, h *SpanHandle) {
	if ts := TraceStateFromContext(ctx); ts != nil {
		ts.LogSpanEnd(h.hindsightSpanID)
	}
}

func (b HindsightOnly) ReportBreadcrumb(ctx context.Context, address string) {
	if ts := TraceStateFromContext(ctx); ts != nil {
		ts.ReportBreadcrumb(address)
	}
}

func (b HindsightOnly) FireTrigger(ctx context.Context, queueID int) {
	if ts := TraceStateFromContext(ctx); ts != nil {
		ts.Trigger(queueID)
	}
}

// OtelOnly drives only the conventional head-sampled OpenTelemetry
// pipeline, via a real go.opentelemetry.io/otel Tracer.
type OtelOnly struct {
	Tracer oteltrace.Tracer
}

func (b OtelOnly) OpenRequestSpan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	ctx, span := b.Tracer.Start(ctx, name)
	return ctx, &SpanHandle{hindsightSpanID: spanID, otelSpan: span}
}

func (b OtelOnly) OpenSubspan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	ctx, span := b.Tracer.Start(ctx, name)
	return ctx, &SpanHandle{hindsightSpanID: spanID, otelSpan: span}
}

func (b OtelOnly) SetAttribute(ctx context.Context, h *SpanHandle, key string, value hindsight.AttrValue) {
	if h.otelSpan != nil {
		h.otelSpan.SetAttributes(otelAttr(key, value))
	}
}

func (b OtelOnly) SetStatus(ctx context.Context, h *SpanHandle, ok bool, description string) {
	if h.otelSpan != nil {
		setOtelStatus(h.otelSpan, ok, description)
	}
}

func (b OtelOnly) CloseSpan(ctx context.Context, h *SpanHandle) {
	if h.otelSpan != nil {
		h.otelSpan.End()
	}
}

func (b OtelOnly) ReportBreadcrumb(ctx context.Context, address string) {}

func (b OtelOnly) FireTrigger(ctx context.Context, queueID int) {}

// OtelOverHindsight runs both pipelines at once: every span is opened in
// both the Hindsight event stream and the real OTel SDK, letting a single
// benchmark run compare retroactive-tracing overhead against conventional
// head-sampled tracing side by side.
type OtelOverHindsight struct {
	Hindsight HindsightOnly
	Otel      OtelOnly
}

func (b OtelOverHindsight) NewTraceState(ctx context.Context, traceID, parentSpanID uint64, headSample bool) context.Context {
	return b.Hindsight.NewTraceState(ctx, traceID, parentSpanID, headSample)
}

func (b OtelOverHindsight) OpenRequestSpan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	ctx, _ = b.Hindsight.OpenSubspan(ctx, name, spanID)
	return b.Otel.OpenRequestSpan(ctx, name, spanID)
}

func (b OtelOverHindsight) OpenSubspan(ctx context.Context, name string, spanID uint64) (context.Context, *SpanHandle) {
	ctx, _ = b.Hindsight.OpenSubspan(ctx, name, spanID)
	return b.Otel.OpenSubspan(ctx, name, spanID)
}

func (b OtelOverHindsight) SetAttribute(ctx context.Context, h *SpanHandle, key string, value hindsight.AttrValue) {
	b.Hindsight.SetAttribute(ctx, h, key, value)
	b.Otel.SetAttribute(ctx, h, key, value)
}

func (b OtelOverHindsight) SetStatus(ctx context.Context, h *SpanHandle, ok bool, description string) {
	b.Hindsight.SetStatus(ctx, h, ok, description)
	b.Otel.SetStatus(ctx, h, ok, description)
}

func (b OtelOverHindsight) CloseSpan(ctx context.Context, h *SpanHandle) {
	b.Hindsight.CloseSpan(ctx, h)
	b.Otel.CloseSpan(ctx, h)
}

func (b OtelOverHindsight) ReportBreadcrumb(ctx context.Context, address string) {
	b.Hindsight.ReportBreadcrumb(ctx, address)
}

func (b OtelOverHindsight) FireTrigger(ctx context.Context, queueID int) {
	b.Hindsight.FireTrigger(ctx, queueID)
}
