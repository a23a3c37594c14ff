package hindsight

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// AttrValue is the variant payload accepted by LogAttribute, mirroring the
// original encoder's overload set: scalars are written as native
// little-endian fixed-width values, strings as raw UTF-8 bytes, and slices
// as either a single concatenated record (numeric element types) or one
// AttributeValue record per element sharing the same key (strings).
type AttrValue struct {
	kind  attrKind
	bytes []byte
	strs  []string
}

type attrKind int

const (
	kindBool attrKind = iota
	kindInt32
	kindInt64
	kindUint32
	kindUint64
	kindDouble
	kindString
	kindInt32Span
	kindInt64Span
	kindUint32Span
	kindUint64Span
	kindDoubleSpan
	kindStringSpan
)

func BoolAttr(v bool) AttrValue {
	b := byte(0)
	if v {
		b = 1
	}
	return AttrValue{kind: kindBool, bytes: []byte{b}}
}

func Int32Attr(v int32) AttrValue {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return AttrValue{kind: kindInt32, bytes: buf}
}

func Int64Attr(v int64) AttrValue {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return AttrValue{kind: kindInt64, bytes: buf}
}

func Uint32Attr(v uint32) AttrValue {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return AttrValue{kind: kindUint32, bytes: buf}
}

func Uint64Attr(v uint64) AttrValue {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return AttrValue{kind: kindUint64, bytes: buf}
}

func DoubleAttr(v float64) AttrValue {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return AttrValue{kind: kindDouble, bytes: buf}
}

func StringAttr(v string) AttrValue {
	return AttrValue{kind: kindString, bytes: []byte(v)}
}

func Int32SpanAttr(vs []int32) AttrValue {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return AttrValue{kind: kindInt32Span, bytes: buf}
}

func StringSpanAttr(vs []string) AttrValue {
	return AttrValue{kind: kindStringSpan, strs: vs}
}

// String renders a best-effort human/OTel-attribute representation of the
// value. It is lossy for numeric types (everything becomes its decimal or
// raw-byte text form) and exists only for bridging into systems, like the
// OpenTelemetry backend, that want a single display string rather than the
// exact wire-level variant.
func (v AttrValue) String() string {
	switch v.kind {
	case kindBool:
		return strconv.FormatBool(v.bytes[0] != 0)
	case kindInt32:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(v.bytes))), 10)
	case kindInt64:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(v.bytes)), 10)
	case kindUint32:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(v.bytes)), 10)
	case kindUint64:
		return strconv.FormatUint(binary.LittleEndian.Uint64(v.bytes), 10)
	case kindDouble:
		return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(v.bytes)), 'g', -1, 64)
	case kindString:
		return string(v.bytes)
	case kindStringSpan:
		return strings.Join(v.strs, ",")
	default:
		return string(v.bytes)
	}
}

// isBreadcrumbKey reports whether an attribute key is the well-known
// "Breadcrumb" key that additionally invokes ReportBreadcrumb, per the
// original encoder's LogAttribute dispatch.
func isBreadcrumbKey(key string) bool { return key == "Breadcrumb" }

// isTriggerKey reports whether an attribute key is the well-known "Trigger"
// key that additionally invokes Trigger(queue_id) when the value is an
// integer attribute, per the original encoder's LogAttribute dispatch.
func isTriggerKey(key string) bool { return key == "Trigger" }
