// Package reconstruct implements the offline trace reconstructor: reading
// a collector's length-prefixed buffer log back into per-trace event
// streams, chaining each agent's buffer fragments, validating the result
// against the invariants a well-formed trace must satisfy, and reporting a
// (interval, trigger) x status histogram, per spec.md §9.
package reconstruct

import (
	"encoding/binary"
	"io"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/pkg/errors"
)

// RawBuffer is one (agent, header, event-bytes) record read back from a
// collector log, before traces have been grouped or chained. Data holds
// only the event records -- the fixed TraceHeader prefix has already been
// stripped off.
type RawBuffer struct {
	Agent  string
	Header hindsight.TraceHeader
	Data   []byte
}

// maxRecordBytes bounds a single length-prefixed record, guarding against a
// corrupt length prefix causing a huge allocation -- the "size > 100MB is
// likely invalid" check from the original reader.
const maxRecordBytes = 100 * 1024 * 1024

// ReadBuffers reads every length-prefixed (agent, buffer) pair from r until
// EOF, matching the collector log's wire format.
func ReadBuffers(r io.Reader) ([]RawBuffer, error) {
	var out []RawBuffer
	for {
		agentBytes, err := readLenPrefixed(r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		bufBytes, err := readLenPrefixed(r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, errors.Wrap(err, "reconstruct: reading buffer body after agent name")
		}
		if len(bufBytes) < hindsight.TraceHeaderSize {
			continue // malformed record; warn-only in the original, silently skipped here
		}
		header := hindsight.UnmarshalTraceHeader(bufBytes)
		out = append(out, RawBuffer{
			Agent:  string(agentBytes),
			Header: header,
			Data:   bufBytes[hindsight.TraceHeaderSize:],
		})
	}
}

// readLenPrefixed reads one [4-byte little-endian length][body] record.
// A zero-length record, an implausibly large one (size > maxRecordBytes,
// almost certainly a corrupt length prefix rather than a real record), and
// a short read on either the length or the body are all treated as a clean
// end of the log -- matching readLengthPrefixed/readNextBuffer
// (process.cc), which stop there and keep everything already parsed rather
// than failing the whole read over one bad trailing record.
func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenbuf[:])
	if size == 0 || size > maxRecordBytes {
		return nil, io.EOF
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, io.EOF
	}
	return buf, nil
}

// GroupByTraceID partitions raw buffers by the trace they belong to.
func GroupByTraceID(raws []RawBuffer) map[uint64][]RawBuffer {
	out := make(map[uint64][]RawBuffer)
	for _, r := range raws {
		out[r.Header.TraceID] = append(out[r.Header.TraceID], r)
	}
	return out
}

func groupByAgent(raws []RawBuffer) map[string][]RawBuffer {
	out := make(map[string][]RawBuffer)
	for _, r := range raws {
		out[r.Agent] = append(out[r.Agent], r)
	}
	return out
}
