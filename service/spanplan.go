package service

import "math"

// Span names, shared with the reconstruct package's breadcrumb validation:
// a breadcrumb attribute recorded inside SpanNameExec identifies the
// caller (sender) of an RPC, and one recorded inside
// SpanNameChildCallPrepare identifies the sender's intended target, per
// spec.md §7's breadcrumb symmetry rule.
const (
	SpanNameExec             = "Exec"
	SpanNameChildCallPrepare = "ChildCall/Prepare"
)

// Span-id plan from spec.md §9/§4.3: every hop's span ids are deterministic
// offsets from the parent_span_id (p) it was invoked with, so the offline
// reconstructor never needs a side channel to know which span is which --
// it can recover a span's role purely from the arithmetic relationship
// between its id and the hop's parent id.
const (
	spanOffsetExec        = 1 // p+1: the end-to-end span for this hop
	spanOffsetExecProcess = 2 // p+2: opened while doing CPU work / fan-out
	spanOffsetExecFinish  = 3 // p+3: opened when the outbound reply completes
	spanOffsetExecComplete = 4 // p+4: opened while assembling the reply

	// childCallBase reserves a range of 10000 span ids per hop for child
	// calls, leaving room for the id plan to grow without colliding with
	// a future, larger reservation.
	childCallBase = 10000
)

func execSpanID(parentSpanID uint64) uint64        { return parentSpanID + spanOffsetExec }
func execProcessSpanID(parentSpanID uint64) uint64 { return parentSpanID + spanOffsetExecProcess }
func execFinishSpanID(parentSpanID uint64) uint64   { return parentSpanID + spanOffsetExecFinish }
func execCompleteSpanID(parentSpanID uint64) uint64 { return parentSpanID + spanOffsetExecComplete }

// childCallSpanID and childCallPrepareSpanID compute the span ids for the
// i'th child call fired by one hop, given that hop's parent span id.
func childCallSpanID(parentSpanID uint64, i int) uint64 {
	return parentSpanID + spanOffsetExecProcess + childCallBase + uint64(2*i)
}

func childCallPrepareSpanID(parentSpanID uint64, i int) uint64 {
	return childCallSpanID(parentSpanID, i) + 1
}

// triggerThreshold precomputes the integer draw threshold for a
// probability p in [0, 1], per spec.md §9:
// T = floor(MaxUint32 / round(1/p)), with p<=0 => T=0 (never fires) and
// p>=1 => T=MaxUint32 (always fires).
func triggerThreshold(p float64) uint32 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return math.MaxUint32
	}
	divisor := math.Round(1 / p)
	if divisor <= 0 {
		return math.MaxUint32
	}
	return uint32(float64(math.MaxUint32) / divisor)
}

// triggerFires draws a single pseudo-random uint32 and compares it against
// a precomputed threshold -- exactly one RNG draw per queue per request,
// as spec.md's Boundary behaviors section requires.
func triggerFires(draw uint32, threshold uint32) bool {
	return draw < threshold
}
