package service

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/mpi-sws-rg/tracebench/otelpipe"
	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/mpi-sws-rg/tracebench/workload"
	"github.com/pkg/errors"
)

// CallStatus is the four-state lifecycle from spec.md §4.3.
type CallStatus int

const (
	StatusCreate CallStatus = iota
	StatusProcess
	StatusAwaitChildren
	StatusFinish
)

// execResult is what a finished Request hands back to the gRPC goroutine
// blocked on it.
type execResult struct {
	reply *rpcpb.ExecReply
	err   error
}

// Request is one in-flight Exec call, implemented as the state machine
// spec.md §4.3 describes. Only the Handler goroutine that owns it ever
// touches its fields after construction.
type Request struct {
	ID      uint64
	Handler *Handler
	Wire    *rpcpb.ExecRequest
	Status  CallStatus

	api *topology.API

	ParentSpanID uint64
	TraceID      uint64
	triggerFlag  bool
	headSample   bool

	ctx         context.Context
	execSpan    *otelpipe.SpanHandle
	processSpan *otelpipe.SpanHandle

	startTime time.Time
	rng       *rand.Rand

	outstandingChildren int
	childOK             bool // sticky: false if any child completed non-OK

	resultCh chan execResult
}

// newRequest constructs a Request in CREATE state and immediately moves it
// through PROCESS -- in the original async server CREATE waits on the next
// inbound RPC; here the RPC has already arrived by the time grpc-go invokes
// our handler, so construction and the CREATE->PROCESS transition happen
// together.
func newRequest(h *Handler, wire *rpcpb.ExecRequest, resultCh chan execResult) *Request {
	atomic.AddUint64(&h.Awaiting, 1)
	r := &Request{
		ID:       h.nextRequestID(),
		Handler:  h,
		Wire:     wire,
		Status:   StatusCreate,
		resultCh: resultCh,
		childOK:  true,
	}
	return r
}

// process runs the PROCESS state: admission bookkeeping, trace-state
// construction, CPU work, and child fan-out, matching spec.md §4.3
// exactly. It always runs on the owning Handler's goroutine.
func (r *Request) process(ok bool) {
	server := r.Handler.Server

	if !ok {
		// Completion-queue shutdown: the server is draining, the inbound
		// call is abandoned without a reply.
		return
	}

	if !r.Handler.Admission.PrepareNextRequest() {
		// Bang-bang admission refused a new receive slot: outstanding
		// requests on this handler are already at or above
		// max_outstanding_requests, or the handler is still draining from
		// a prior spike. Reject rather than queue past the configured
		// bound, per spec.md §157's outstanding_requests invariant.
		r.resultCh <- execResult{err: errors.New("service: handler at max_outstanding_requests, rejecting")}
		return
	}
	r.Handler.Admission.RequestAdmitted()
	atomic.AddUint64(&r.Handler.Processing, 1)
	r.Status = StatusProcess
	r.startTime = time.Now()

	traceID, parentSpanID, headSample, triggerFlag := inboundTraceContext(r.Wire)
	r.TraceID = traceID
	r.ParentSpanID = parentSpanID
	r.headSample = headSample
	r.triggerFlag = triggerFlag
	r.rng = rand.New(rand.NewSource(int64(r.ID) ^ int64(traceID)))

	ctx := context.Background()
	if hb, ok := server.Strategy.(interface {
		NewTraceState(context.Context, uint64, uint64, bool) context.Context
	}); ok {
		ctx = hb.NewTraceState(ctx, traceID, parentSpanID, headSample)
	}

	ctx, execSpan := server.Strategy.OpenRequestSpan(ctx, SpanNameExec, execSpanID(parentSpanID))
	r.execSpan = execSpan
	// The caller stamps its own address into the inbound Hindsight context
	// (see ChildCall.send); logging it here, rather than our own address,
	// is what lets the reconstructor pair this Exec span against the
	// caller's ChildCall/Prepare span.
	if r.Wire.Hindsight != nil {
		for _, addr := range r.Wire.Hindsight.Breadcrumb {
			server.Strategy.SetAttribute(ctx, execSpan, "Breadcrumb", hindsight.StringAttr(addr))
		}
	}
	server.Strategy.SetAttribute(ctx, execSpan, "Interval", hindsight.Int64Attr(int64(r.Wire.Interval)))

	ctx, processSpan := server.Strategy.OpenSubspan(ctx, "Exec/Process", execProcessSpanID(parentSpanID))
	r.processSpan = processSpan
	r.ctx = ctx

	api, err := server.Service.GetAPI(r.Wire.API)
	if err != nil {
		server.Strategy.SetStatus(ctx, processSpan, false, err.Error())
		r.Complete()
		return
	}
	r.api = api

	if !server.NoCompute {
		start := time.Now()
		workload.Run(api.Dims())
		elapsed := time.Since(start)
		server.Strategy.SetAttribute(ctx, processSpan, "duration_ns", hindsight.Int64Attr(elapsed.Nanoseconds()))
	}

	fired := r.drawOutcalls(api)
	r.invokeChildren(fired)
}

// drawOutcalls performs the independent Bernoulli draw per configured
// outcall from spec.md §4.3, resolving multi-instance targets to one
// concrete instance uniformly at random.
func (r *Request) drawOutcalls(api *topology.API) []topology.ResolvedOutcall {
	server := r.Handler.Server
	var fired []topology.ResolvedOutcall
	for _, oc := range api.Children {
		if r.rng.Intn(100) >= oc.Probability {
			continue
		}
		resolved, err := topology.PickInstance(r.rng, server.Topology, oc)
		if err != nil {
			r.Handler.Logger.WithError(err).Warn("failed to resolve outcall target")
			continue
		}
		fired = append(fired, resolved)
	}
	return fired
}

// invokeChildren enters AWAIT_CHILDREN unconditionally -- every request
// passes this milestone, even one that drew zero outcalls -- and fires one
// ChildCall per outcall drawn.
func (r *Request) invokeChildren(calls []topology.ResolvedOutcall) {
	r.Status = StatusAwaitChildren
	atomic.AddUint64(&r.Handler.AwaitingChildren, 1)
	r.outstandingChildren = len(calls)
	if len(calls) == 0 {
		r.Complete()
		return
	}

	for i, oc := range calls {
		client, err := r.Handler.GetClient(oc.Instance.DialAddress())
		if err != nil {
			r.Handler.Logger.WithError(err).Warn("failed to dial child service")
			r.childResponseReceived(nil, false, nil)
			continue
		}

		spanID := childCallSpanID(r.ParentSpanID, i)
		prepareSpanID := childCallPrepareSpanID(r.ParentSpanID, i)

		ctx, span := r.Handler.Server.Strategy.OpenSubspan(r.ctx, "ChildCall", spanID)
		_, prepareSpan := r.Handler.Server.Strategy.OpenSubspan(ctx, SpanNameChildCallPrepare, prepareSpanID)
		// The target's address is logged here, on the sender's side, so the
		// reconstructor can pair this span against the target's own Exec span.
		r.Handler.Server.Strategy.SetAttribute(ctx, prepareSpan, "Breadcrumb", hindsight.StringAttr(oc.Instance.BreadcrumbAddress()))
		r.Handler.Server.Strategy.CloseSpan(ctx, prepareSpan)

		cc := &ChildCall{Parent: r, Outcall: oc, Index: i, SpanID: spanID, client: client, span: span}
		cc.send(ctx)
	}
}

// childResponseReceived handles one child's completion. A non-OK child
// completion is recorded as an error on that child's span but never aborts
// the parent request, per spec.md §7(iii).
func (r *Request) childResponseReceived(cc *ChildCall, ok bool, reply *rpcpb.ExecReply) {
	if cc != nil {
		if ok {
			r.Handler.Server.Strategy.SetStatus(r.ctx, cc.span, true, "")
			if reply != nil && reply.Hindsight != nil {
				for _, b := range reply.Hindsight.Breadcrumb {
					r.Handler.Server.Strategy.ReportBreadcrumb(r.ctx, b)
				}
			}
		} else {
			r.Handler.Server.Strategy.SetStatus(r.ctx, cc.span, false, "child rpc failed")
			r.childOK = false
		}
		r.Handler.Server.Strategy.CloseSpan(r.ctx, cc.span)
	} else {
		r.childOK = false
	}

	r.outstandingChildren--
	if r.outstandingChildren <= 0 {
		r.Complete()
	}
}

// Complete assembles the reply and transitions the request toward FINISH,
// matching spec.md §4.3's Complete() helper.
func (r *Request) Complete() {
	apiName := r.Wire.API
	_, completeSpan := r.Handler.Server.Strategy.OpenSubspan(r.ctx, "Exec/Complete", execCompleteSpanID(r.ParentSpanID))

	reply := &rpcpb.ExecReply{
		Payload: "Hello " + apiName,
		Hindsight: &rpcpb.HindsightContext{
			TraceID:     r.TraceID,
			SpanID:      r.ParentSpanID,
			TriggerFlag: r.triggerFlag,
			Breadcrumb:  []string{r.Handler.Server.LocalBreadcrumbAddress},
		},
	}

	r.Handler.Server.Strategy.CloseSpan(r.ctx, completeSpan)
	r.finish(true, reply, nil)
}

// finish is the FINISH state: it is entered once the outbound reply has
// been assembled, evaluates triggers exactly once per request, and (in this
// synchronous gRPC mapping) hands the reply to the waiting RPC goroutine as
// its last step.
func (r *Request) finish(ok bool, reply *rpcpb.ExecReply, replyErr error) {
	r.Status = StatusFinish
	atomic.AddUint64(&r.Handler.Finishing, 1)
	_, finishSpan := r.Handler.Server.Strategy.OpenSubspan(r.ctx, "Exec/Finish", execFinishSpanID(r.ParentSpanID))

	overallOK := ok && r.childOK
	r.Handler.Server.Strategy.SetStatus(r.ctx, finishSpan, overallOK, "")

	r.Handler.Server.evaluateTriggers(r)

	r.Handler.Server.Strategy.CloseSpan(r.ctx, finishSpan)
	r.Handler.Server.Strategy.CloseSpan(r.ctx, r.processSpan)
	r.Handler.Server.Strategy.CloseSpan(r.ctx, r.execSpan)

	r.Handler.Admission.RequestCompleted()
	atomic.AddUint64(&r.Handler.Completed, 1)
	r.resultCh <- execResult{reply: reply, err: replyErr}
}

// inboundTraceContext extracts the Hindsight trace/span ids and the
// head-sampling decision from an inbound request's wire context. Of the
// OTel context only the sample flag is read; its hex trace and span ids
// are neither parsed nor validated, and the OTel spans this hop opens are
// not linked to them. A missing OTel context leaves headSample false.
func inboundTraceContext(wire *rpcpb.ExecRequest) (traceID, parentSpanID uint64, headSample bool, triggerFlag bool) {
	if wire.Hindsight != nil {
		traceID = wire.Hindsight.TraceID
		parentSpanID = wire.Hindsight.SpanID
		triggerFlag = wire.Hindsight.TriggerFlag
	}
	if wire.Otel != nil {
		headSample = wire.Otel.Sample
	}
	return
}
