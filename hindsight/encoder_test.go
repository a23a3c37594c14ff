package hindsight

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSpanRoundTrip(t *testing.T) {
	var out bytes.Buffer
	agent := NewAgent("test-agent", NewWriterSink(&out), 4096)

	ts := NewTraceState(agent, 42, 100, false)
	require.True(t, ts.Recording())

	ts.LogSpanStart(101)
	ts.LogSpanName(101, "Exec")
	ts.LogAttribute(101, "retries", Int64Attr(3))
	ts.LogSpanEnd(101)
	ts.Trigger(7)

	assert.Empty(t, agent.buffers.chainOf(42))

	decoded := decodeExported(t, out.Bytes())
	require.Len(t, decoded, 5)
	assert.Equal(t, EventSpanStart, decoded[0].Type)
	assert.Equal(t, uint64(101), decoded[0].SpanID)
	assert.Equal(t, EventSpanName, decoded[1].Type)
	assert.Equal(t, "Exec", string(decoded[1].Payload))
	assert.Equal(t, EventAttributeKey, decoded[2].Type)
	assert.Equal(t, "retries", string(decoded[2].Payload))
}

func TestHeadSamplingFiresImmediately(t *testing.T) {
	var out bytes.Buffer
	agent := NewAgent("test-agent", NewWriterSink(&out), 4096)

	NewTraceState(agent, 7, 1, true)

	assert.Positive(t, out.Len())
}

func TestNonRecordingDiscardsWrites(t *testing.T) {
	agent := NewAgent("test-agent", NewWriterSink(&bytes.Buffer{}), 4096)
	ts := NewTraceState(agent, 1, 1, false)
	ts.recording = false

	ts.LogSpanStart(2)

	assert.Empty(t, agent.buffers.chainOf(1)[0].data)
}

func TestBufferRolloverChainsPrevBufferID(t *testing.T) {
	var out bytes.Buffer
	agent := NewAgent("small-agent", NewWriterSink(&out), 32)
	ts := NewTraceState(agent, 9, 1, false)

	for i := 0; i < 20; i++ {
		ts.LogAttribute(2, "k", StringAttr("some moderately long attribute value"))
	}

	chain := agent.buffers.chainOf(9)
	require.Greater(t, len(chain), 1)
	for i := 1; i < len(chain); i++ {
		assert.Equal(t, chain[i-1].header.BufferID, chain[i].header.PrevBufferID)
	}
	assert.Equal(t, chain[0].header.BufferID, chain[0].header.PrevBufferID)
}

// decodeExported parses the WriterSink wire format (length-prefixed agent
// name, length-prefixed header+events) back into Records, skipping the
// header, for assertions in these tests.
func decodeExported(t *testing.T, raw []byte) []Record {
	t.Helper()
	var all []Record
	offset := 0
	for offset < len(raw) {
		agentLen := int(leUint32(raw[offset : offset+4]))
		offset += 4 + agentLen
		bufLen := int(leUint32(raw[offset : offset+4]))
		offset += 4
		buf := raw[offset : offset+bufLen]
		offset += bufLen

		records, err := Decode(buf[TraceHeaderSize:])
		require.NoError(t, err)
		all = append(all, records...)
	}
	return all
}
