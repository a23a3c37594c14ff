package service

import (
	"context"

	"github.com/mpi-sws-rg/tracebench/otelpipe"
	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/mpi-sws-rg/tracebench/topology"
)

// ChildCall is one outbound RPC a Request fired during its PROCESS step.
// It is only ever touched by the Handler goroutine that owns its parent
// Request, matching the ownership rule spec.md §9 calls out as the reason
// Request itself only needs an outstanding-children counter rather than an
// owned set of ChildCall pointers.
type ChildCall struct {
	Parent  *Request
	Outcall topology.ResolvedOutcall
	Index   int
	SpanID  uint64

	client *ChildClient
	span   *otelpipe.SpanHandle

	OK    bool
	Reply *rpcpb.ExecReply
}

// send dispatches the RPC in its own goroutine, then posts the result back
// onto the parent's handler completion queue so only that handler's
// goroutine ever calls childResponseReceived. Per spec.md §5, the
// ChildCall span must already be open (started strictly before dispatch)
// before send is invoked.
func (c *ChildCall) send(ctx context.Context) {
	parent := c.Parent
	handler := parent.Handler

	req := &rpcpb.ExecRequest{
		API:      c.Outcall.API,
		Debug:    parent.Wire.Debug,
		Interval: parent.Wire.Interval,
		Hindsight: &rpcpb.HindsightContext{
			TraceID:     parent.TraceID,
			SpanID:      execProcessSpanID(parent.ParentSpanID),
			TriggerFlag: parent.triggerFlag,
			Breadcrumb:  []string{parent.Handler.Server.LocalBreadcrumbAddress},
		},
	}

	go func() {
		reply, err := c.client.stub.Exec(ctx, req)
		ok := err == nil
		handler.Enqueue(func() {
			parent.childResponseReceived(c, ok, reply)
		})
	}()
}
