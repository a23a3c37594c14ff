package hindsight

// TraceState is the per-request handle a caller holds for the lifetime of
// one hop's involvement in a trace. It is the Go analogue of the original
// HindsightTraceState: a thin wrapper around an opaque
// per-trace buffer handle plus the trace id and the parent span id this
// hop was invoked with (child span ids are deterministic offsets from
// ParentSpanID, computed by callers per the request state machine's span
// plan, not by TraceState itself).
//
// A TraceState is not safe for concurrent use: exactly one goroutine may
// call its Log* methods at a time, matching the original encoder's
// single-writer contract. The state machine enforces this by construction
// (a Request, and any ChildCall it owns, is only ever touched by the
// handler goroutine that created it).
type TraceState struct {
	agent        *Agent
	buf          *traceBuffer
	traceID      uint64
	parentSpanID uint64
	recording    bool
}

// NewTraceState opens (or continues) this hop's view of a trace. headSample
// is the inbound OTel/Hindsight sampling decision; when true, the state
// immediately fires TriggerHeadBasedSampling, exactly as the original
// encoder's constructor does for head-sampled traces.
func NewTraceState(agent *Agent, traceID, parentSpanID uint64, headSample bool) *TraceState {
	ts := &TraceState{
		agent:        agent,
		traceID:      traceID,
		parentSpanID: parentSpanID,
		recording:    true,
	}
	ts.buf = agent.buffers.acquire(traceID)
	if headSample {
		ts.Trigger(TriggerHeadBasedSampling)
	}
	return ts
}

// Recording reports whether this handle still accepts writes. A
// non-recording handle discards Log* calls cheaply instead of encoding
// them, mirroring recording().
func (t *TraceState) Recording() bool { return t.recording }

func (t *TraceState) ParentSpanID() uint64 { return t.parentSpanID }
func (t *TraceState) TraceID() uint64      { return t.traceID }

func (t *TraceState) logEvent(typ EventType, spanID uint64, payload []byte) {
	if !t.recording {
		return
	}
	t.agent.buffers.write(t, typ, spanID, t.agent.clock(), payload)
}

func (t *TraceState) LogSpanStart(spanID uint64) { t.logEvent(EventSpanStart, spanID, nil) }
func (t *TraceState) LogSpanEnd(spanID uint64)    { t.logEvent(EventSpanEnd, spanID, nil) }
func (t *TraceState) LogSpanName(spanID uint64, name string) {
	t.logEvent(EventSpanName, spanID, []byte(name))
}
func (t *TraceState) LogSpanParent(spanID, parentSpanID uint64) {
	t.logEvent(EventSpanParent, spanID, uint64Payload(parentSpanID))
}
func (t *TraceState) LogSpanKind(spanID uint64, kind uint32) {
	t.logEvent(EventSpanKind, spanID, uint32Payload(kind))
}
func (t *TraceState) LogTracer(spanID uint64, name string) {
	t.logEvent(EventTracer, spanID, []byte(name))
}
func (t *TraceState) LogStatus(spanID uint64, code uint32) {
	t.logEvent(EventStatus, spanID, uint32Payload(code))
}
func (t *TraceState) LogStatusDescription(spanID uint64, description string) {
	t.logEvent(EventStatusDescription, spanID, []byte(description))
}
func (t *TraceState) LogEventRecord(spanID uint64, name string) {
	t.logEvent(EventEvent, spanID, []byte(name))
}

// LogAttribute emits an AttributeKey record followed by the variant-typed
// AttributeValue record(s) this value decomposes into. If key is the
// well-known "Breadcrumb" key it additionally reports a breadcrumb; if key
// is "Trigger" and value is an integer, it additionally fires that trigger
// queue. Both side effects happen in addition to, never instead of,
// writing the event records.
func (t *TraceState) LogAttribute(spanID uint64, key string, value AttrValue) {
	t.logAttributeGeneric(EventAttributeKey, EventAttributeValue, spanID, key, value)

	if isBreadcrumbKey(key) && value.kind == kindString {
		t.ReportBreadcrumb(string(value.bytes))
	}
	if isTriggerKey(key) {
		if queueID, ok := integerValue(value); ok {
			t.Trigger(int(queueID))
		}
	}
}

func (t *TraceState) LogEventAttribute(spanID uint64, key string, value AttrValue) {
	t.logAttributeGeneric(EventEventAttributeKey, EventEventAttributeValue, spanID, key, value)
}

func (t *TraceState) LogLink(spanID, linkedSpanID uint64) {
	t.logEvent(EventLink, spanID, uint64Payload(linkedSpanID))
}

func (t *TraceState) LogLinkAttribute(spanID uint64, key string, value AttrValue) {
	t.logAttributeGeneric(EventLinkAttributeKey, EventLinkAttributeValue, spanID, key, value)
}

func (t *TraceState) logAttributeGeneric(keyType, valueType EventType, spanID uint64, key string, value AttrValue) {
	if !t.recording {
		return
	}
	t.logEvent(keyType, spanID, []byte(key))
	switch value.kind {
	case kindStringSpan:
		for _, s := range value.strs {
			t.logEvent(valueType, spanID, []byte(s))
		}
	default:
		t.logEvent(valueType, spanID, value.bytes)
	}
}

// ReportBreadcrumb records that this hop's buffer output should be
// considered linked, via an out-of-band address string, to whichever agent
// receives the matching breadcrumb on the other side of an RPC. The
// reconstructor's validation pass cross-checks these for symmetry.
func (t *TraceState) ReportBreadcrumb(address string) {
	if !t.recording {
		return
	}
	t.agent.breadcrumbs.report(t.traceID, t.agent.name, address)
}

// Trigger marks this trace's buffers for export under the given queue id.
// Firing is fire-and-forget: if the agent's export path cannot keep up the
// request is silently dropped, matching the no-durability, no-exactly-once
// guarantee.
func (t *TraceState) Trigger(queueID int) {
	if !t.recording {
		return
	}
	t.agent.triggers.fire(t, queueID)
}

func uint64Payload(v uint64) []byte {
	p := Uint64Attr(v)
	return p.bytes
}

func uint32Payload(v uint32) []byte {
	p := Uint32Attr(v)
	return p.bytes
}

func integerValue(v AttrValue) (int64, bool) {
	switch v.kind {
	case kindInt32:
		return int64(int32(leUint32(v.bytes))), true
	case kindInt64:
		return int64(leUint64(v.bytes)), true
	case kindUint32:
		return int64(leUint32(v.bytes)), true
	case kindUint64:
		return int64(leUint64(v.bytes)), true
	default:
		return 0, false
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
