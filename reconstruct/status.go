package reconstruct

// TraceStatus is the outcome of validating one reconstructed trace.
type TraceStatus int

const (
	StatusValid TraceStatus = iota
	// StatusIgnore is reserved for an explicit "Ignore" attribute passthrough;
	// nothing in this module emits that attribute today, so it is never
	// produced, but the slot is kept so status codes stay stable if a future
	// caller starts logging it.
	StatusIgnore
	StatusMissingPrevBuffer
	StatusMultipleNextBuffers
	StatusPrematureEndOfSlice
	StatusDuplicateBufferID
	StatusEmptyTrace
	StatusMissingChildCalls
	StatusMissingAttributeValue
	StatusMissingSpanStart
	StatusMissingSpanEnd
	StatusUnexpectedBreadcrumb
)

var statusDescriptions = map[TraceStatus]string{
	StatusValid:                 "Valid",
	StatusIgnore:                "Trace with the 'Ignore' attribute set to true",
	StatusMissingPrevBuffer:     "A buffer references another buffer that doesn't exist",
	StatusMultipleNextBuffers:   "Multiple buffers have the same buffer marked as prev (not currently handled)",
	StatusPrematureEndOfSlice:   "Buffers ended with a partial fragment of trace data",
	StatusDuplicateBufferID:     "Multiple buffers have the same buffer ID (not currently handled)",
	StatusEmptyTrace:            "The trace somehow contained no spans",
	StatusMissingChildCalls:     "The number of RPCs executed did not match the number of child calls made",
	StatusMissingAttributeValue: "The span attributes weren't formatted correctly",
	StatusMissingSpanStart:      "Span was ended but not started",
	StatusMissingSpanEnd:        "Span was started but not ended",
	StatusUnexpectedBreadcrumb:  "A breadcrumb was found but not in an Exec or ChildCall/Prepare span",
}

func (s TraceStatus) String() string {
	if d, ok := statusDescriptions[s]; ok {
		return d
	}
	return "Unknown"
}
