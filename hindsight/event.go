// Package hindsight implements the always-on trace event stream: a compact
// span-event encoder that writes into per-trace scratch buffers, plus the
// in-process agent that owns those buffers, the trigger manager, and the
// breadcrumb index.
package hindsight

import (
	"encoding/binary"
	"errors"
)

// EventType enumerates the on-wire span event records, mirroring the
// original Hindsight agent's event stream layout.
type EventType uint32

const (
	EventSpanStart EventType = iota + 1
	EventSpanEnd
	EventSpanName
	EventSpanParent
	EventAttributeKey
	EventAttributeValue
	EventEvent
	EventEventAttributeKey
	EventEventAttributeValue
	EventLink
	EventLinkAttributeKey
	EventLinkAttributeValue
	EventStatus
	EventStatusDescription
	EventSpanKind
	EventTracer
)

// eventHeaderSize is the fixed-size portion of every event record:
// {type uint32, span_id uint64, timestamp uint64, size uint64}.
const eventHeaderSize = 4 + 8 + 8 + 8

// Record is a single decoded event: its header plus the raw payload bytes
// that followed it on the wire.
type Record struct {
	Type      EventType
	SpanID    uint64
	Timestamp uint64
	Payload   []byte
}

// ErrTruncated is returned by Decode when the buffer ends in the middle of
// a record; callers that tolerate partial buffers treat it as "stop here",
// not as corruption.
var ErrTruncated = errors.New("hindsight: truncated event record")

func putHeader(dst []byte, typ EventType, spanID, timestamp uint64, size int) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(typ))
	binary.LittleEndian.PutUint64(dst[4:12], spanID)
	binary.LittleEndian.PutUint64(dst[12:20], timestamp)
	binary.LittleEndian.PutUint64(dst[20:28], uint64(size))
}

// appendEvent appends one event record (header + payload) to dst.
func appendEvent(dst []byte, typ EventType, spanID, timestamp uint64, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, eventHeaderSize)...)
	putHeader(dst[start:], typ, spanID, timestamp, len(payload))
	dst = append(dst, payload...)
	return dst
}

// Decode parses a contiguous byte slice (typically a CombinedBuffer payload
// after its TraceHeader has been stripped) into a sequence of Records. It
// stops cleanly at the end of the slice; if the final record's header or
// payload runs past the end of buf, Decode returns the records successfully
// parsed so far along with ErrTruncated, since the reconstructor tolerates
// partial trailing traces (see the PrematureEndOfSlice status).
func Decode(buf []byte) ([]Record, error) {
	var records []Record
	offset := 0
	for offset < len(buf) {
		if offset+eventHeaderSize > len(buf) {
			return records, ErrTruncated
		}
		typ := EventType(binary.LittleEndian.Uint32(buf[offset : offset+4]))
		spanID := binary.LittleEndian.Uint64(buf[offset+4 : offset+12])
		timestamp := binary.LittleEndian.Uint64(buf[offset+12 : offset+20])
		size := binary.LittleEndian.Uint64(buf[offset+20 : offset+28])
		offset += eventHeaderSize
		if uint64(offset)+size > uint64(len(buf)) {
			return records, ErrTruncated
		}
		payload := buf[offset : offset+int(size)]
		offset += int(size)
		records = append(records, Record{Type: typ, SpanID: spanID, Timestamp: timestamp, Payload: payload})
	}
	return records, nil
}
