// Package rpcpb defines the wire messages for the benchmark's single RPC,
// Exec, and a gRPC codec that marshals them without a generated
// *.pb.go file: protoc is not available in this build environment, so the
// messages below hand-implement the same Marshal/Unmarshal/Size contract
// github.com/gogo/protobuf's generated code would, using its wire-format
// helpers directly.
package rpcpb

import (
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
)

// field numbers, fixed by the wire schema in spec.md §6.
const (
	fieldOtelTraceID = 1
	fieldOtelSpanID  = 2
	fieldOtelSample  = 3

	fieldHSTraceID     = 1
	fieldHSSpanID      = 2
	fieldHSTriggerFlag = 3
	fieldHSBreadcrumb  = 4

	fieldReqAPI       = 1
	fieldReqPayload   = 2
	fieldReqDebug     = 3
	fieldReqInterval  = 4
	fieldReqOtel      = 5
	fieldReqHindsight = 6

	fieldReplyHindsight = 1
	fieldReplyPayload   = 2
)

// OtelContext mirrors spec.md's ExecRequest.otel sub-message: a 32-hex-char
// trace id, a 16-hex-char span id, and a head-sampling decision.
type OtelContext struct {
	TraceIDHex string
	SpanIDHex  string
	Sample     bool
}

// HindsightContext mirrors the hindsight sub-message shared by ExecRequest
// and ExecReply.
type HindsightContext struct {
	TraceID     uint64
	SpanID      uint64
	TriggerFlag bool
	Breadcrumb  []string
}

// ExecRequest is the single request message the benchmark's RPC accepts.
type ExecRequest struct {
	API       string
	Payload   string
	HasPayload bool
	Debug     bool
	Interval  uint64
	Otel      *OtelContext
	Hindsight *HindsightContext
}

// ExecReply is the RPC's response message.
type ExecReply struct {
	Hindsight *HindsightContext
	Payload   string
}

func (m *ExecRequest) Size() int {
	n := 0
	n += sizeString(fieldReqAPI, m.API)
	if m.HasPayload {
		n += sizeString(fieldReqPayload, m.Payload)
	}
	n += sizeBool(fieldReqDebug, m.Debug)
	n += sizeVarint(fieldReqInterval, m.Interval)
	if m.Otel != nil {
		n += sizeMessage(fieldReqOtel, m.Otel.size())
	}
	if m.Hindsight != nil {
		n += sizeMessage(fieldReqHindsight, m.Hindsight.size())
	}
	return n
}

func (m *ExecRequest) Marshal() ([]byte, error) {
	buf := make([]byte, 0, m.Size())
	buf = appendString(buf, fieldReqAPI, m.API)
	if m.HasPayload {
		buf = appendString(buf, fieldReqPayload, m.Payload)
	}
	buf = appendBool(buf, fieldReqDebug, m.Debug)
	buf = appendVarint(buf, fieldReqInterval, m.Interval)
	if m.Otel != nil {
		buf = appendMessage(buf, fieldReqOtel, m.Otel.marshal())
	}
	if m.Hindsight != nil {
		buf = appendMessage(buf, fieldReqHindsight, m.Hindsight.marshal())
	}
	return buf, nil
}

func (m *ExecRequest) Unmarshal(data []byte) error {
	return decodeFields(data, func(field int, raw fieldValue) error {
		switch field {
		case fieldReqAPI:
			m.API = raw.asString()
		case fieldReqPayload:
			m.Payload = raw.asString()
			m.HasPayload = true
		case fieldReqDebug:
			m.Debug = raw.asBool()
		case fieldReqInterval:
			m.Interval = raw.asVarint()
		case fieldReqOtel:
			m.Otel = &OtelContext{}
			return m.Otel.unmarshal(raw.bytes)
		case fieldReqHindsight:
			m.Hindsight = &HindsightContext{}
			return m.Hindsight.unmarshal(raw.bytes)
		}
		return nil
	})
}

func (m *ExecReply) Size() int {
	n := 0
	if m.Hindsight != nil {
		n += sizeMessage(fieldReplyHindsight, m.Hindsight.size())
	}
	n += sizeString(fieldReplyPayload, m.Payload)
	return n
}

func (m *ExecReply) Marshal() ([]byte, error) {
	buf := make([]byte, 0, m.Size())
	if m.Hindsight != nil {
		buf = appendMessage(buf, fieldReplyHindsight, m.Hindsight.marshal())
	}
	buf = appendString(buf, fieldReplyPayload, m.Payload)
	return buf, nil
}

func (m *ExecReply) Unmarshal(data []byte) error {
	return decodeFields(data, func(field int, raw fieldValue) error {
		switch field {
		case fieldReplyHindsight:
			m.Hindsight = &HindsightContext{}
			return m.Hindsight.unmarshal(raw.bytes)
		case fieldReplyPayload:
			m.Payload = raw.asString()
		}
		return nil
	})
}

func (o *OtelContext) size() int {
	n := sizeString(fieldOtelTraceID, o.TraceIDHex)
	n += sizeString(fieldOtelSpanID, o.SpanIDHex)
	n += sizeBool(fieldOtelSample, o.Sample)
	return n
}

func (o *OtelContext) marshal() []byte {
	buf := make([]byte, 0, o.size())
	buf = appendString(buf, fieldOtelTraceID, o.TraceIDHex)
	buf = appendString(buf, fieldOtelSpanID, o.SpanIDHex)
	buf = appendBool(buf, fieldOtelSample, o.Sample)
	return buf
}

func (o *OtelContext) unmarshal(data []byte) error {
	return decodeFields(data, func(field int, raw fieldValue) error {
		switch field {
		case fieldOtelTraceID:
			o.TraceIDHex = raw.asString()
		case fieldOtelSpanID:
			o.SpanIDHex = raw.asString()
		case fieldOtelSample:
			o.Sample = raw.asBool()
		}
		return nil
	})
}

func (h *HindsightContext) size() int {
	n := sizeVarint(fieldHSTraceID, h.TraceID)
	n += sizeVarint(fieldHSSpanID, h.SpanID)
	n += sizeBool(fieldHSTriggerFlag, h.TriggerFlag)
	for _, b := range h.Breadcrumb {
		n += sizeString(fieldHSBreadcrumb, b)
	}
	return n
}

func (h *HindsightContext) marshal() []byte {
	buf := make([]byte, 0, h.size())
	buf = appendVarint(buf, fieldHSTraceID, h.TraceID)
	buf = appendVarint(buf, fieldHSSpanID, h.SpanID)
	buf = appendBool(buf, fieldHSTriggerFlag, h.TriggerFlag)
	for _, b := range h.Breadcrumb {
		buf = appendString(buf, fieldHSBreadcrumb, b)
	}
	return buf
}

func (h *HindsightContext) unmarshal(data []byte) error {
	return decodeFields(data, func(field int, raw fieldValue) error {
		switch field {
		case fieldHSTraceID:
			h.TraceID = raw.asVarint()
		case fieldHSSpanID:
			h.SpanID = raw.asVarint()
		case fieldHSTriggerFlag:
			h.TriggerFlag = raw.asBool()
		case fieldHSBreadcrumb:
			h.Breadcrumb = append(h.Breadcrumb, raw.asString())
		}
		return nil
	})
}

var errUnexpectedWireType = errors.New("rpcpb: unexpected wire type")

// The helpers below reproduce, by hand, the subset of proto wire-format
// behavior github.com/gogo/protobuf's generated Marshal/Unmarshal methods
// rely on (proto.EncodeVarint/DecodeVarint), rather than reimplementing
// varint encoding independently.

const (
	wireVarint = 0
	wireBytes  = 2
)

func tag(field, wireType int) uint64 { return uint64(field)<<3 | uint64(wireType) }

func sizeVarint(field int, v uint64) int {
	return varintSize(tag(field, wireVarint)) + varintSize(v)
}

func sizeBool(field int, v bool) int {
	return varintSize(tag(field, wireVarint)) + 1
}

func sizeString(field int, s string) int {
	return varintSize(tag(field, wireBytes)) + varintSize(uint64(len(s))) + len(s)
}

func sizeMessage(field int, bodyLen int) int {
	return varintSize(tag(field, wireBytes)) + varintSize(uint64(bodyLen)) + bodyLen
}

func varintSize(v uint64) int {
	return len(proto.EncodeVarint(v))
}

func appendVarint(buf []byte, field int, v uint64) []byte {
	buf = append(buf, proto.EncodeVarint(tag(field, wireVarint))...)
	return append(buf, proto.EncodeVarint(v)...)
}

func appendBool(buf []byte, field int, v bool) []byte {
	var b uint64
	if v {
		b = 1
	}
	return appendVarint(buf, field, b)
}

func appendString(buf []byte, field int, s string) []byte {
	buf = append(buf, proto.EncodeVarint(tag(field, wireBytes))...)
	buf = append(buf, proto.EncodeVarint(uint64(len(s)))...)
	return append(buf, s...)
}

func appendMessage(buf []byte, field int, body []byte) []byte {
	buf = append(buf, proto.EncodeVarint(tag(field, wireBytes))...)
	buf = append(buf, proto.EncodeVarint(uint64(len(body)))...)
	return append(buf, body...)
}

type fieldValue struct {
	wireType int
	varint   uint64
	bytes    []byte
}

func (f fieldValue) asVarint() uint64 { return f.varint }
func (f fieldValue) asBool() bool     { return f.varint != 0 }
func (f fieldValue) asString() string { return string(f.bytes) }

func decodeFields(data []byte, fn func(field int, v fieldValue) error) error {
	for len(data) > 0 {
		key, n := proto.DecodeVarint(data)
		if n == 0 {
			return errors.New("rpcpb: invalid tag varint")
		}
		data = data[n:]
		field := int(key >> 3)
		wireType := int(key & 0x7)

		var fv fieldValue
		fv.wireType = wireType
		switch wireType {
		case wireVarint:
			v, n := proto.DecodeVarint(data)
			if n == 0 {
				return errors.New("rpcpb: invalid varint field")
			}
			data = data[n:]
			fv.varint = v
		case wireBytes:
			l, n := proto.DecodeVarint(data)
			if n == 0 {
				return errors.New("rpcpb: invalid length-delimited field")
			}
			data = data[n:]
			if uint64(len(data)) < l {
				return errors.New("rpcpb: truncated length-delimited field")
			}
			fv.bytes = data[:l]
			data = data[l:]
		default:
			return errUnexpectedWireType
		}
		if err := fn(field, fv); err != nil {
			return err
		}
	}
	return nil
}
