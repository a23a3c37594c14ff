package rpcpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRequestRoundTrip(t *testing.T) {
	req := &ExecRequest{
		API:        "matmul",
		Payload:    "hello",
		HasPayload: true,
		Debug:      true,
		Interval:   42,
		Otel: &OtelContext{
			TraceIDHex: "0123456789abcdef0123456789abcdef",
			SpanIDHex:  "ffffffffffffffff",
			Sample:     true,
		},
		Hindsight: &HindsightContext{
			TraceID:     123456789,
			SpanID:      11,
			TriggerFlag: true,
			Breadcrumb:  []string{"host1:9101", "host2:9102"},
		},
	}

	data, err := req.Marshal()
	require.NoError(t, err)
	assert.Equal(t, len(data), req.Size())

	out := &ExecRequest{}
	require.NoError(t, out.Unmarshal(data))
	assert.Equal(t, req.API, out.API)
	assert.Equal(t, req.Payload, out.Payload)
	assert.True(t, out.HasPayload)
	assert.Equal(t, req.Debug, out.Debug)
	assert.Equal(t, req.Interval, out.Interval)
	require.NotNil(t, out.Otel)
	assert.Equal(t, *req.Otel, *out.Otel)
	require.NotNil(t, out.Hindsight)
	assert.Equal(t, req.Hindsight.TraceID, out.Hindsight.TraceID)
	assert.Equal(t, req.Hindsight.Breadcrumb, out.Hindsight.Breadcrumb)
}

func TestExecReplyRoundTrip(t *testing.T) {
	reply := &ExecReply{
		Payload: "Hello matmul",
		Hindsight: &HindsightContext{
			TraceID:    7,
			SpanID:     9,
			Breadcrumb: []string{"host1:9101"},
		},
	}

	data, err := reply.Marshal()
	require.NoError(t, err)

	out := &ExecReply{}
	require.NoError(t, out.Unmarshal(data))
	assert.Equal(t, reply.Payload, out.Payload)
	assert.Equal(t, reply.Hindsight.TraceID, out.Hindsight.TraceID)
}

func TestExecRequestWithoutOptionalFields(t *testing.T) {
	req := &ExecRequest{API: "noop"}
	data, err := req.Marshal()
	require.NoError(t, err)

	out := &ExecRequest{}
	require.NoError(t, out.Unmarshal(data))
	assert.Equal(t, "noop", out.API)
	assert.False(t, out.HasPayload)
	assert.Nil(t, out.Otel)
	assert.Nil(t, out.Hindsight)
}
