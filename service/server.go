// Package service implements the request state machine and handler/
// dispatcher (spec.md §4.3/§4.4): a gRPC server whose inbound Exec calls
// are handed off to a fixed pool of Handler goroutines, each owning its
// own completion queue, admission controller, and client cache.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpi-sws-rg/tracebench/otelpipe"
	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// ServerImpl is one running benchmark server process: the gRPC server plus
// the N handler goroutines that share its topology, tracing strategy, and
// client cache. It implements rpcpb.ExecServer.
type ServerImpl struct {
	Service                 *topology.ServiceConfig
	Topology                *topology.Topology
	LocalBreadcrumbAddress  string
	NoCompute               bool
	MaxOutstandingRequests  int
	InstanceID              int
	LatencyTriggerThreshold time.Duration
	Strategy                otelpipe.Strategy
	Logger                  *logrus.Entry

	triggerStates []triggerState

	handlers    []*Handler
	clients     *clientCache
	grpcServer  *grpc.Server
	alive       atomic.Bool
	nextHandler uint64
	wg          sync.WaitGroup
}

var _ rpcpb.ExecServer = (*ServerImpl)(nil)

// NewServerImpl constructs a server ready to Run. grpcServer should already
// exist (so callers can attach other services / interceptors); RegisterOn
// registers this implementation onto it.
func NewServerImpl(service *topology.ServiceConfig, topo *topology.Topology, localBreadcrumb string, strategy otelpipe.Strategy, noCompute bool, maxOutstanding, instanceID int, triggers []TriggerConfig, logger *logrus.Entry) *ServerImpl {
	if maxOutstanding <= 0 {
		maxOutstanding = 100
	}
	s := &ServerImpl{
		Service:                 service,
		Topology:                topo,
		LocalBreadcrumbAddress:  localBreadcrumb,
		NoCompute:               noCompute,
		MaxOutstandingRequests:  maxOutstanding,
		InstanceID:              instanceID,
		LatencyTriggerThreshold: DefaultLatencyTriggerThreshold,
		Strategy:                strategy,
		Logger:                  logger,
		triggerStates:           buildTriggerStates(triggers),
		clients:                 newClientCache(),
	}
	s.alive.Store(true)
	return s
}

// RegisterOn attaches this implementation's Exec method to a grpc.Server.
func (s *ServerImpl) RegisterOn(g *grpc.Server) {
	s.grpcServer = g
	rpcpb.RegisterExecServer(g, s)
}

// Run starts nthreads Handler goroutines.
func (s *ServerImpl) Run(nthreads int) {
	s.handlers = make([]*Handler, nthreads)
	for i := 0; i < nthreads; i++ {
		h := newHandler(i, s)
		s.handlers[i] = h
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h.Run()
		}()
	}
}

// Shutdown marks the server as draining; in-flight handler completions are
// still processed, but new inbound calls are rejected immediately.
func (s *ServerImpl) Shutdown() {
	s.alive.Store(false)
	for _, h := range s.handlers {
		h.Stop()
	}
}

// Join waits for every handler goroutine to drain and exit.
func (s *ServerImpl) Join() {
	s.wg.Wait()
	s.clients.closeAll()
}

// pickHandler assigns an inbound request to one handler round-robin,
// matching "requests never migrate between handlers" -- the assignment
// happens once, at arrival.
func (s *ServerImpl) pickHandler() *Handler {
	idx := atomic.AddUint64(&s.nextHandler, 1)
	return s.handlers[int(idx)%len(s.handlers)]
}

// Exec is the RPC entry point. Per spec.md §7(i)/(ii), a server that is no
// longer alive (completion-queue shutdown, in the original's terms) returns
// an error for the inbound call without handing it to any handler.
func (s *ServerImpl) Exec(ctx context.Context, req *rpcpb.ExecRequest) (*rpcpb.ExecReply, error) {
	if !s.alive.Load() {
		return nil, errors.New("service: server is shutting down")
	}

	h := s.pickHandler()
	resultCh := make(chan execResult, 1)

	h.Enqueue(func() {
		r := newRequest(h, req, resultCh)
		r.process(true)
	})

	select {
	case res := <-resultCh:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DebugSnapshot is one sample of the stage-depth counters spec.md §4.4's
// debug printer thread reports every 100ms: the admission controller's live
// state, plus the five lock-free milestone counters (cumulative since the
// handler started) a request increments as it passes awaiting admission,
// entering PROCESS, entering AWAIT_CHILDREN, entering FINISH, and fully
// completing. The depth between any two adjacent milestones is the
// difference of their counters.
type DebugSnapshot struct {
	HandlerID   int
	Outstanding int
	Draining    bool

	Awaiting         uint64
	Processing       uint64
	AwaitingChildren uint64
	Finishing        uint64
	Completed        uint64
}

// Snapshot returns a point-in-time view of every handler's admission state
// and milestone counters, used by DebugPrinter (for both its log lines and
// its Prometheus gauges) and by cmd/tracebench-server's /debug/vars endpoint.
func (s *ServerImpl) Snapshot() []DebugSnapshot {
	snaps := make([]DebugSnapshot, len(s.handlers))
	for i, h := range s.handlers {
		snaps[i] = DebugSnapshot{
			HandlerID:        h.ID,
			Outstanding:      h.Admission.Outstanding(),
			Draining:         h.Admission.Draining(),
			Awaiting:         atomic.LoadUint64(&h.Awaiting),
			Processing:       atomic.LoadUint64(&h.Processing),
			AwaitingChildren: atomic.LoadUint64(&h.AwaitingChildren),
			Finishing:        atomic.LoadUint64(&h.Finishing),
			Completed:        atomic.LoadUint64(&h.Completed),
		}
	}
	return snaps
}
