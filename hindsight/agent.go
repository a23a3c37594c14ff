package hindsight

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
)

// TriggerHeadBasedSampling is the well-known trigger queue id fired
// immediately by NewTraceState when a trace is head-sampled, matching
// TRIGGER_ID_HEAD_BASED_SAMPLING in the original agent.
const TriggerHeadBasedSampling = 0

// TraceHeaderSize is the fixed header every buffer carries on the wire,
// ahead of its event records: trace id, buffer id, previous buffer id, and
// a sequence number within the trace, padded to 32 bytes as spec.md §6
// requires ("min 32 bytes").
const TraceHeaderSize = 32

// TraceHeader is the fixed-size prefix of a RawBuffer record. buffer_id ==
// prev_buffer_id marks the root of a chain.
type TraceHeader struct {
	TraceID      uint64
	BufferID     int32
	PrevBufferID int32
	BufferNumber int32
}

// Marshal encodes the header into its 32-byte wire form.
func (h TraceHeader) Marshal() []byte {
	buf := make([]byte, TraceHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.TraceID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.BufferID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.PrevBufferID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.BufferNumber))
	return buf
}

// UnmarshalTraceHeader decodes a header from the front of buf. buf must be
// at least TraceHeaderSize bytes.
func UnmarshalTraceHeader(buf []byte) TraceHeader {
	return TraceHeader{
		TraceID:      binary.LittleEndian.Uint64(buf[0:8]),
		BufferID:     int32(binary.LittleEndian.Uint32(buf[8:12])),
		PrevBufferID: int32(binary.LittleEndian.Uint32(buf[12:16])),
		BufferNumber: int32(binary.LittleEndian.Uint32(buf[16:20])),
	}
}

// traceBuffer is one fragment of a trace's scratch buffer chain.
type traceBuffer struct {
	header TraceHeader
	data   []byte
}

// CollectorSink receives exported (trace_id, buffer_id, prev_buffer_id,
// event-bytes) records when a trigger fires. It is the Go analogue of the
// original agent's network export path to the offline collector; in this
// module it is typically a file writer consumed later by the
// reconstructor.
type CollectorSink interface {
	Export(agentName string, header TraceHeader, events []byte) error
}

// WriterSink writes length-prefixed buffer records directly to an
// io.Writer in the wire format spec.md §6 describes for the collector's
// input log: (u32 len_agent, agent bytes, u32 len_buf, buf bytes), with buf
// being the TraceHeader followed by concatenated event records.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Export(agentName string, header TraceHeader, events []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agentBytes := []byte(agentName)
	buf := header.Marshal()
	buf = append(buf, events...)

	if err := writeLenPrefixed(s.w, agentBytes); err != nil {
		return err
	}
	return writeLenPrefixed(s.w, buf)
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// bufferAllocator is a deliberately simple stand-in for the opaque
// per-trace buffer pool the real Hindsight agent owns internally: it keeps
// every buffer fragment for a trace in memory, chained by (buffer_id,
// prev_buffer_id), until a trigger fires and the whole chain is handed to
// the CollectorSink. An un-triggered trace's fragments are simply dropped
// when the trace is forgotten -- the memory-pressure loss the spec allows
// for, rather than something this module needs to simulate explicitly.
type bufferAllocator struct {
	bufSize int
	seq     uint64

	mu     sync.Mutex
	chains map[uint64][]*traceBuffer
}

func newBufferAllocator(bufSize int) *bufferAllocator {
	return &bufferAllocator{bufSize: bufSize, chains: make(map[uint64][]*traceBuffer)}
}

func (a *bufferAllocator) nextID() int32 {
	return int32(atomic.AddUint64(&a.seq, 1))
}

func (a *bufferAllocator) acquire(traceID uint64) *traceBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID()
	buf := &traceBuffer{
		header: TraceHeader{TraceID: traceID, BufferID: id, PrevBufferID: id, BufferNumber: 0},
		data:   make([]byte, 0, a.bufSize),
	}
	a.chains[traceID] = append(a.chains[traceID], buf)
	return buf
}

// rollover replaces old with a fresh buffer linked to it via prev_buffer_id,
// implementing the "blocking fallback rolls over to next buffer" write path
// from spec.md §4.1.
func (a *bufferAllocator) rollover(traceID uint64, old *traceBuffer) *traceBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID()
	buf := &traceBuffer{
		header: TraceHeader{
			TraceID:      traceID,
			BufferID:     id,
			PrevBufferID: old.header.BufferID,
			BufferNumber: old.header.BufferNumber + 1,
		},
		data: make([]byte, 0, a.bufSize),
	}
	a.chains[traceID] = append(a.chains[traceID], buf)
	return buf
}

// forget drops a trace's chain without exporting it, freeing the fragments
// for garbage collection. Called by triggerManager.fire once the trace's
// chain has been exported.
func (a *bufferAllocator) forget(traceID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.chains, traceID)
}

func (a *bufferAllocator) chainOf(traceID uint64) []*traceBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*traceBuffer(nil), a.chains[traceID]...)
}

// triggerManager fires named trigger queues. Firing exports every buffer
// fragment accumulated so far for the trace and then forgets the trace,
// matching the fire-and-forget, export-the-whole-chain-on-first-trigger
// behavior implied by spec.md's Trigger semantics.
type triggerManager struct {
	agent *Agent
}

func (tm *triggerManager) fire(t *TraceState, queueID int) {
	agent := tm.agent
	chain := agent.buffers.chainOf(t.traceID)
	if len(chain) == 0 {
		return
	}
	for _, frag := range chain {
		_ = agent.sink.Export(agent.name, frag.header, frag.data)
	}
	agent.buffers.forget(t.traceID)
}

// breadcrumbIndex is a lightweight bookkeeping structure used for local
// introspection (debug logging, tests); the authoritative breadcrumb
// symmetry check lives in the offline reconstructor, which reads
// breadcrumb attribute values back out of the exported event stream.
type breadcrumbIndex struct {
	mu     sync.Mutex
	counts map[uint64]int
}

func newBreadcrumbIndex() *breadcrumbIndex {
	return &breadcrumbIndex{counts: make(map[uint64]int)}
}

func (b *breadcrumbIndex) report(traceID uint64, agentName, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[traceID]++
}

// Agent is the in-process stand-in for the embedded Hindsight agent
// library: it owns the buffer allocator, the trigger manager, the
// breadcrumb index, and the clock used to timestamp events. One Agent is
// shared by every handler goroutine in a server process (its internals are
// synchronized; per-trace TraceState handles are not, by design -- see
// TraceState's doc comment).
type Agent struct {
	name        string
	sink        CollectorSink
	buffers     *bufferAllocator
	triggers    *triggerManager
	breadcrumbs *breadcrumbIndex
	clock       func() uint64
}

// NewAgent constructs an Agent identified by name (the breadcrumb address
// other services will report when calling into this one), exporting
// triggered traces to sink. bufSize bounds each buffer fragment before a
// rollover is forced.
func NewAgent(name string, sink CollectorSink, bufSize int) *Agent {
	a := &Agent{
		name:        name,
		sink:        sink,
		buffers:     newBufferAllocator(bufSize),
		breadcrumbs: newBreadcrumbIndex(),
		clock:       monotonicTSC,
	}
	a.triggers = &triggerManager{agent: a}
	return a
}

// Name returns the breadcrumb address this agent reports as.
func (a *Agent) Name() string { return a.name }

var tscCounter uint64

// monotonicTSC stands in for the raw TSC cycle-counter reads the original
// encoder timestamps events with; spec.md notes these are host-local only
// and never compared across hosts, so a process-local monotonic counter is
// an equally valid (and portable) substitute.
func monotonicTSC() uint64 {
	return atomic.AddUint64(&tscCounter, 1)
}

// write implements the non-blocking-append-then-blocking-rollover path
// described in spec.md §4.1, mutating ts.buf in place when a rollover is
// needed.
func (a *bufferAllocator) write(ts *TraceState, typ EventType, spanID, timestamp uint64, payload []byte) {
	rec := appendEvent(nil, typ, spanID, timestamp, payload)
	if len(ts.buf.data)+len(rec) <= cap(ts.buf.data) || cap(ts.buf.data) == 0 {
		ts.buf.data = append(ts.buf.data, rec...)
		return
	}
	ts.buf = a.rollover(ts.traceID, ts.buf)
	ts.buf.data = append(ts.buf.data, rec...)
}
