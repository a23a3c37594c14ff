package reconstruct

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/mpi-sws-rg/tracebench/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTwoHopTrace encodes a realistic two-agent trace directly against the
// hindsight encoder, mirroring what service.Request/ChildCall actually log:
// agent "A" (the root hop) opens an Exec span, fans out one child call to
// agent "B", and logs the target's address as a Breadcrumb attribute on its
// ChildCall/Prepare span; agent "B" opens its own Exec span and logs the
// caller's address (propagated on the inbound wire context) as its
// Breadcrumb attribute. Both hops fire the same trigger queue so both
// buffer chains are exported to the shared collector log.
func writeTwoHopTrace(t *testing.T, w *bytes.Buffer, traceID uint64, interval int64, triggerQueue int32) {
	t.Helper()

	agentA := hindsight.NewAgent("A-addr", hindsight.NewWriterSink(w), 1<<16)
	agentB := hindsight.NewAgent("B-addr", hindsight.NewWriterSink(w), 1<<16)

	tsA := hindsight.NewTraceState(agentA, traceID, 1000, false)
	tsA.LogSpanStart(1000)
	tsA.LogSpanName(1000, service.SpanNameExec)
	tsA.LogAttribute(1000, "Interval", hindsight.Int64Attr(interval))

	tsA.LogSpanStart(1001)
	tsA.LogSpanName(1001, "ChildCall")
	tsA.LogSpanStart(1002)
	tsA.LogSpanName(1002, service.SpanNameChildCallPrepare)
	tsA.LogAttribute(1002, "Breadcrumb", hindsight.StringAttr("B-addr"))
	tsA.LogSpanEnd(1002)
	tsA.LogSpanEnd(1001)

	tsA.LogAttribute(1000, "Trigger", hindsight.Int32Attr(triggerQueue))
	tsA.LogSpanEnd(1000)
	tsA.Trigger(int(triggerQueue))

	tsB := hindsight.NewTraceState(agentB, traceID, 2000, false)
	tsB.LogSpanStart(2000)
	tsB.LogSpanName(2000, service.SpanNameExec)
	tsB.LogAttribute(2000, "Breadcrumb", hindsight.StringAttr("A-addr"))
	tsB.LogAttribute(2000, "Interval", hindsight.Int64Attr(interval))
	tsB.LogAttribute(2000, "Trigger", hindsight.Int32Attr(triggerQueue))
	tsB.LogSpanEnd(2000)
	tsB.Trigger(int(triggerQueue))
}

func TestReadBuffersRoundTripsAgentAndHeader(t *testing.T) {
	var log bytes.Buffer
	writeTwoHopTrace(t, &log, 42, 5, 3)

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	agents := map[string]bool{}
	for _, r := range raws {
		agents[r.Agent] = true
		assert.Equal(t, uint64(42), r.Header.TraceID)
		assert.Equal(t, r.Header.BufferID, r.Header.PrevBufferID, "single-fragment chain is its own root")
	}
	assert.True(t, agents["A-addr"])
	assert.True(t, agents["B-addr"])
}

func TestReconstructValidTwoHopTrace(t *testing.T) {
	var log bytes.Buffer
	writeTwoHopTrace(t, &log, 42, 5, 3)

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)

	outcomes := Reconstruct(raws)
	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.Equal(t, uint64(42), o.TraceID)
	assert.Equal(t, StatusValid, o.Status)
	assert.Equal(t, []int64{5}, o.Intervals)
	assert.Equal(t, []int64{3}, o.Triggers)
}

func TestReconstructMissingChildCallWhenReceiverNeverAppears(t *testing.T) {
	var log bytes.Buffer
	agentA := hindsight.NewAgent("A-addr", hindsight.NewWriterSink(&log), 1<<16)

	ts := hindsight.NewTraceState(agentA, 99, 1000, false)
	ts.LogSpanStart(1000)
	ts.LogSpanName(1000, service.SpanNameExec)
	ts.LogSpanStart(1002)
	ts.LogSpanName(1002, service.SpanNameChildCallPrepare)
	ts.LogAttribute(1002, "Breadcrumb", hindsight.StringAttr("B-addr"))
	ts.LogSpanEnd(1002)
	ts.LogSpanEnd(1000)
	ts.Trigger(1)

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)

	outcomes := Reconstruct(raws)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusMissingChildCalls, outcomes[0].Status)
}

func TestReconstructUnexpectedBreadcrumbOutsideExecOrPrepareSpan(t *testing.T) {
	var log bytes.Buffer
	agentA := hindsight.NewAgent("A-addr", hindsight.NewWriterSink(&log), 1<<16)

	ts := hindsight.NewTraceState(agentA, 7, 1000, false)
	ts.LogSpanStart(1000)
	ts.LogSpanName(1000, service.SpanNameExec)
	ts.LogSpanStart(1003)
	ts.LogSpanName(1003, "Exec/Process")
	ts.LogAttribute(1003, "Breadcrumb", hindsight.StringAttr("nowhere"))
	ts.LogSpanEnd(1003)
	ts.LogSpanEnd(1000)
	ts.Trigger(1)

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)

	outcomes := Reconstruct(raws)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusUnexpectedBreadcrumb, outcomes[0].Status)
}

func TestReconstructMissingSpanEnd(t *testing.T) {
	var log bytes.Buffer
	agentA := hindsight.NewAgent("A-addr", hindsight.NewWriterSink(&log), 1<<16)

	ts := hindsight.NewTraceState(agentA, 8, 1000, false)
	ts.LogSpanStart(1000)
	ts.LogSpanName(1000, service.SpanNameExec)
	// deliberately never closed
	ts.Trigger(1)

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)

	outcomes := Reconstruct(raws)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusMissingSpanEnd, outcomes[0].Status)
}

func TestGroupAndConcatenateChainsFragmentsByPrevBufferID(t *testing.T) {
	buffers := []RawBuffer{
		{Agent: "A", Header: hindsight.TraceHeader{TraceID: 1, BufferID: 1, PrevBufferID: 1}, Data: []byte("root-")},
		{Agent: "A", Header: hindsight.TraceHeader{TraceID: 1, BufferID: 2, PrevBufferID: 1}, Data: []byte("mid-")},
		{Agent: "A", Header: hindsight.TraceHeader{TraceID: 1, BufferID: 3, PrevBufferID: 2}, Data: []byte("tail")},
	}
	combined, status := groupAndConcatenate("A", buffers)
	require.Equal(t, StatusValid, status)
	require.Len(t, combined, 1)
	assert.Equal(t, "root-mid-tail", string(combined[0].Data))
}

func TestGroupAndConcatenateDuplicateBufferID(t *testing.T) {
	buffers := []RawBuffer{
		{Agent: "A", Header: hindsight.TraceHeader{TraceID: 1, BufferID: 1, PrevBufferID: 1}},
		{Agent: "A", Header: hindsight.TraceHeader{TraceID: 1, BufferID: 1, PrevBufferID: 1}},
	}
	_, status := groupAndConcatenate("A", buffers)
	assert.Equal(t, StatusDuplicateBufferID, status)
}

func TestGroupAndConcatenateMissingPrevBuffer(t *testing.T) {
	buffers := []RawBuffer{
		{Agent: "A", Header: hindsight.TraceHeader{TraceID: 1, BufferID: 2, PrevBufferID: 1}},
	}
	_, status := groupAndConcatenate("A", buffers)
	assert.Equal(t, StatusMissingPrevBuffer, status)
}

func TestReportNormalizesIntervalsAndIncludesAllBucket(t *testing.T) {
	outcomes := []TraceOutcome{
		{TraceID: 1, Status: StatusValid, Intervals: []int64{10}, Triggers: []int64{3}},
		{TraceID: 2, Status: StatusValid, Intervals: []int64{11}, Triggers: []int64{3}},
		{TraceID: 3, Status: StatusMissingChildCalls, Intervals: nil, Triggers: nil},
	}
	report := Report(outcomes)

	assert.Contains(t, report, "All")
	assert.Contains(t, report, "x") // no-interval/trigger bucket for the failed trace
	assert.Contains(t, report, "Valid")
	assert.Contains(t, report, "0") // interval 10 normalized against minInterval=10
	assert.Contains(t, report, "1") // interval 11 normalized to 1
}

func TestBucketLabelSentinels(t *testing.T) {
	assert.Equal(t, "All", bucketLabel(bucketAll, 0))
	assert.Equal(t, "x", bucketLabel(bucketNone, 0))
	assert.Equal(t, "2", bucketLabel(12, 10))
	assert.Equal(t, "12", bucketLabel(12, -1))
}

func writeLenPrefixedRecord(t *testing.T, w *bytes.Buffer, b []byte) {
	t.Helper()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	w.Write(lenbuf[:])
	w.Write(b)
}

func TestReadBuffersStopsCleanlyOnTruncatedTrailingRecord(t *testing.T) {
	var log bytes.Buffer
	writeTwoHopTrace(t, &log, 42, 5, 3)

	// A third record whose length prefix promises more bytes than are
	// actually present, mimicking a collector log cut off mid-write.
	writeLenPrefixedRecord(t, &log, []byte("C-addr"))
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], 1000)
	log.Write(lenbuf[:])
	log.Write([]byte("short"))

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)
	assert.Len(t, raws, 2, "the two well-formed records before the truncated one are kept")
}

func TestReadBuffersStopsCleanlyOnZeroLengthRecord(t *testing.T) {
	var log bytes.Buffer
	writeTwoHopTrace(t, &log, 42, 5, 3)

	writeLenPrefixedRecord(t, &log, nil) // zero-length agent name record

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}

func TestReadBuffersStopsCleanlyOnImplausiblyLargeRecord(t *testing.T) {
	var log bytes.Buffer
	writeTwoHopTrace(t, &log, 42, 5, 3)

	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(maxRecordBytes)+1)
	log.Write(lenbuf[:])

	raws, err := ReadBuffers(&log)
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}
