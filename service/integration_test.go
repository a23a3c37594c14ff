package service

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/mpi-sws-rg/tracebench/otelpipe"
	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// startTestServer wires one in-process server for svcName, listening on an
// ephemeral localhost port, and returns its dial address plus a shutdown
// func. collectorLog is shared across services to emulate one offline
// collector receiving every agent's exported buffers.
func startTestServer(t *testing.T, svcName string, topo *topology.Topology, collectorLog *syncBuffer, triggers []TriggerConfig) string {
	t.Helper()

	svc, err := topo.ResolveService(svcName)
	require.NoError(t, err)
	addr, err := topo.ResolveAddress(svcName)
	require.NoError(t, err)

	agent := hindsight.NewAgent(addr.Instances[0].BreadcrumbAddress(), hindsight.NewWriterSink(collectorLog), 1<<16)
	strategy := otelpipe.HindsightOnly{Agent: agent}

	logger := logrus.NewEntry(logrus.New())
	server := NewServerImpl(svc, topo, addr.Instances[0].BreadcrumbAddress(), strategy, true, 100, 0, triggers, logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := grpc.NewServer()
	server.RegisterOn(g)
	server.Run(2)

	go g.Serve(lis)

	t.Cleanup(func() {
		g.Stop()
		server.Shutdown()
		server.Join()
	})

	return lis.Addr().String()
}

// syncBuffer is a mutex-protected bytes.Buffer, since two agents'
// WriterSinks may export concurrently onto the same log in this test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestTwoServiceChainProducesTriggeredTrace(t *testing.T) {
	topologyJSON := `{
	  "services": [
	    {"name": "a", "apis": [{"name": "root", "exec": 1.0, "children": [
	      {"service": "b", "api": "leaf", "probability": 100}
	    ]}]},
	    {"name": "b", "apis": [{"name": "leaf", "exec": 1.0, "children": []}]}
	  ]
	}`
	addressesJSON := `{
	  "addresses": [
	    {"name": "a", "hostname": "127.0.0.1", "port": 1, "agent_port": 1},
	    {"name": "b", "hostname": "127.0.0.1", "port": 1, "agent_port": 1}
	  ]
	}`
	topo, err := topology.Parse([]byte(topologyJSON), []byte(addressesJSON), nil)
	require.NoError(t, err)

	var log syncBuffer
	triggers := []TriggerConfig{{QueueID: 7, Probability: 1.0}}

	bAddr := startTestServer(t, "b", topo, &log, triggers)
	// Patch the topology's address entry for b to point at the real
	// ephemeral listener, now that it exists.
	topo.Addresses["b"].Instances[0].Hostname, topo.Addresses["b"].Instances[0].Port = splitHostPort(t, bAddr)

	aAddr := startTestServer(t, "a", topo, &log, triggers)

	conn, err := grpc.Dial(aAddr, grpc.WithInsecure(), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcpb.CodecName())))
	require.NoError(t, err)
	defer conn.Close()
	client := rpcpb.NewExecClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Exec(ctx, &rpcpb.ExecRequest{
		API: "root",
		Hindsight: &rpcpb.HindsightContext{
			TraceID:     42,
			SpanID:      1000,
			TriggerFlag: true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello root", reply.Payload)

	require.Eventually(t, func() bool { return log.Len() > 0 }, time.Second, 10*time.Millisecond)
}

// startLimitedTestServer is startTestServer with the admission-control
// knobs (maxOutstanding, handler thread count) exposed, so a test can put
// pressure on a single handler's AdmissionController directly.
func startLimitedTestServer(t *testing.T, svcName string, topo *topology.Topology, collectorLog *syncBuffer, triggers []TriggerConfig, maxOutstanding, nthreads int) string {
	t.Helper()

	svc, err := topo.ResolveService(svcName)
	require.NoError(t, err)
	addr, err := topo.ResolveAddress(svcName)
	require.NoError(t, err)

	agent := hindsight.NewAgent(addr.Instances[0].BreadcrumbAddress(), hindsight.NewWriterSink(collectorLog), 1<<16)
	strategy := otelpipe.HindsightOnly{Agent: agent}

	logger := logrus.NewEntry(logrus.New())
	server := NewServerImpl(svc, topo, addr.Instances[0].BreadcrumbAddress(), strategy, true, maxOutstanding, 0, triggers, logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := grpc.NewServer()
	server.RegisterOn(g)
	server.Run(nthreads)

	go g.Serve(lis)

	t.Cleanup(func() {
		g.Stop()
		server.Shutdown()
		server.Join()
	})

	return lis.Addr().String()
}

// TestAdmissionControlRejectsBeyondMaxOutstanding drives a parent service
// whose single handler is pinned to max_outstanding_requests=1 with a
// flood of concurrent Exec calls, each fanning out to a child service. A
// request only leaves AWAIT_CHILDREN once its child call's response is
// enqueued back onto the handler, so with many calls in flight at once the
// handler's single goroutine inevitably picks up a new inbound call while
// an earlier one is still outstanding -- exactly the case spec.md §157
// bounds via PrepareNextRequest. Without the admission check gating
// process() (service/request.go), every one of these would succeed and
// outstanding_requests would never be bounded.
func TestAdmissionControlRejectsBeyondMaxOutstanding(t *testing.T) {
	topologyJSON := `{
	  "services": [
	    {"name": "a", "apis": [{"name": "root", "exec": 1.0, "children": [
	      {"service": "b", "api": "leaf", "probability": 100}
	    ]}]},
	    {"name": "b", "apis": [{"name": "leaf", "exec": 1.0, "children": []}]}
	  ]
	}`
	addressesJSON := `{
	  "addresses": [
	    {"name": "a", "hostname": "127.0.0.1", "port": 1, "agent_port": 1},
	    {"name": "b", "hostname": "127.0.0.1", "port": 1, "agent_port": 1}
	  ]
	}`
	topo, err := topology.Parse([]byte(topologyJSON), []byte(addressesJSON), nil)
	require.NoError(t, err)

	var log syncBuffer
	triggers := []TriggerConfig{{QueueID: 7, Probability: 1.0}}

	bAddr := startLimitedTestServer(t, "b", topo, &log, triggers, 100, 2)
	topo.Addresses["b"].Instances[0].Hostname, topo.Addresses["b"].Instances[0].Port = splitHostPort(t, bAddr)

	// A single handler (nthreads=1) with max_outstanding_requests=1: the
	// admission controller starts draining as soon as one request is
	// admitted, so any call dispatched while that one is still awaiting
	// its child must be rejected.
	aAddr := startLimitedTestServer(t, "a", topo, &log, triggers, 1, 1)

	conn, err := grpc.Dial(aAddr, grpc.WithInsecure(), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcpb.CodecName())))
	require.NoError(t, err)
	defer conn.Close()
	client := rpcpb.NewExecClient(conn)

	const concurrency = 40
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, concurrency)

	for i := 0; i < concurrency; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := client.Exec(ctx, &rpcpb.ExecRequest{
				API: "root",
				Hindsight: &rpcpb.HindsightContext{
					TraceID:     uint64(i + 1),
					SpanID:      1000,
					TriggerFlag: true,
				},
			})
			results[i] = err
		}()
	}
	close(start)
	wg.Wait()

	var succeeded, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case strings.Contains(err.Error(), "max_outstanding_requests"):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Greater(t, succeeded, 0, "at least one request should be admitted and complete")
	assert.Greater(t, rejected, 0, "at least one request should be rejected once the handler is draining")
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return host, port
}
