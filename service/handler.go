package service

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// completion is one unit of work a Handler's loop processes serially: a
// request's initial arrival, a child RPC's response, or an outbound
// reply's completion. Matching spec.md §9's tag-dispatched rewrite, a
// completion is a plain closure rather than a raw pointer cast -- there is
// no separate arena/index layer to keep safe from use-after-free, since Go
// already owns the lifetime of everything a closure captures.
type completion func()

// Handler is one worker's private slice of the server: its own completion
// queue, admission controller, and client cache, per spec.md §4.4. A
// Request (and any ChildCall it owns) is only ever touched by the Handler
// goroutine that created it; every other goroutine that needs to act on a
// Request does so by enqueueing a completion rather than mutating
// directly.
type Handler struct {
	ID        int
	Server    *ServerImpl
	Admission *AdmissionController
	Logger    *logrus.Entry

	cq          chan completion
	localClients map[string]*ChildClient
	requestSeed uint64

	Awaiting        uint64
	Processing      uint64
	AwaitingChildren uint64
	Finishing       uint64
	Completed       uint64
}

func newHandler(id int, server *ServerImpl) *Handler {
	return &Handler{
		ID:           id,
		Server:       server,
		Admission:    NewAdmissionController(server.MaxOutstandingRequests),
		Logger:       server.Logger.WithField("handler", id),
		cq:           make(chan completion, 1024),
		localClients: make(map[string]*ChildClient),
	}
}

// Run drains the completion queue until it is closed, processing each
// completion serially -- this is the single goroutine that ever touches
// this handler's Requests and ChildCalls.
func (h *Handler) Run() {
	for c := range h.cq {
		c()
	}
}

// Enqueue posts a completion onto this handler's queue. Safe to call from
// any goroutine (the RPC goroutine delivering a request, or a goroutine
// awaiting a child RPC's response).
func (h *Handler) Enqueue(c completion) {
	h.cq <- c
}

// Stop closes the completion queue once all in-flight completions have
// been posted; Run's range loop exits once it drains.
func (h *Handler) Stop() {
	close(h.cq)
}

func (h *Handler) nextRequestID() uint64 {
	return atomic.AddUint64(&h.requestSeed, 1)
}

// GetClient resolves a gRPC client for address, checking this handler's
// private cache first and falling back to the server-wide shared cache on
// a miss, per spec.md §4.4/§5.
func (h *Handler) GetClient(address string) (*ChildClient, error) {
	if c, ok := h.localClients[address]; ok {
		return c, nil
	}
	c, err := h.Server.clients.getOrDial(address)
	if err != nil {
		return nil, err
	}
	h.localClients[address] = c
	return c, nil
}
