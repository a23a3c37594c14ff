package loadgen

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// fakeStub answers every Exec call immediately without touching the
// network, so Client.Run can be exercised deterministically in a test.
type fakeStub struct {
	calls uint64
}

func (f *fakeStub) Exec(ctx context.Context, req *rpcpb.ExecRequest, opts ...grpc.CallOption) (*rpcpb.ExecReply, error) {
	atomic.AddUint64(&f.calls, 1)
	return &rpcpb.ExecReply{Payload: "Hello " + req.API}, nil
}

func TestSampleDecisionApproximatesProbability(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const p = 0.25
	const trials = 20000
	sampled := 0
	for i := 0; i < trials; i++ {
		if sampleDecision(rng, p) {
			sampled++
		}
	}
	got := float64(sampled) / trials
	assert.InDelta(t, p, got, 0.02)
}

func TestSampleDecisionAlwaysTrueAtProbabilityOne(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		assert.True(t, sampleDecision(rng, 1.0))
	}
}

func TestNewTraceIDDerivesHindsightIDFromLeadingBytes(t *testing.T) {
	hexID, hsID := newTraceID()
	assert.Len(t, hexID, 32)
	assert.NotZero(t, hsID)

	raw, err := hex.DecodeString(hexID)
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian.Uint64(raw[:8]), hsID)
}

func TestClosedLoopClientDispatchesUpToLimit(t *testing.T) {
	stub := &fakeStub{}
	var global uint64
	logger := logrus.NewEntry(logrus.New())

	c := NewClient(Config{
		ID:                  1,
		Stub:                stub,
		APIs:                []string{"root"},
		Requests:            4,
		SamplingProbability: 1.0,
		Limit:               50,
		GlobalCount:         &global,
		Logger:              logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Run(ctx)

	// Four workers each poll the shared limit independently, so the final
	// count can overshoot 50 slightly but never by more than the worker
	// count.
	calls := atomic.LoadUint64(&stub.calls)
	assert.GreaterOrEqual(t, calls, uint64(50))
	assert.LessOrEqual(t, calls, uint64(54))
	assert.Equal(t, calls, atomic.LoadUint64(&global))
}

func TestOpenLoopClientRespectsLimit(t *testing.T) {
	stub := &fakeStub{}
	var global uint64
	logger := logrus.NewEntry(logrus.New())

	c := NewClient(Config{
		ID:                  2,
		Stub:                stub,
		APIs:                []string{"root"},
		OpenLoop:            true,
		Requests:            200, // requests/sec
		SamplingProbability: 1.0,
		Limit:               20,
		GlobalCount:         &global,
		Logger:              logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.Run(ctx)

	require.LessOrEqual(t, atomic.LoadUint64(&stub.calls), uint64(20))
}

func TestMergeSnapshotsAggregatesAcrossClients(t *testing.T) {
	a := newLatencyStats()
	a.record(100)
	a.record(300)
	b := newLatencyStats()
	b.record(50)

	agg := mergeSnapshots([]snapshot{a.snapshot(), b.snapshot()})
	assert.Equal(t, uint64(50), agg.Min)
	assert.Equal(t, uint64(300), agg.Max)
	assert.Equal(t, uint64(3), agg.Count)
	assert.InDelta(t, 150.0, agg.AvgMicros(), 0.01)
}
