package rpcpb

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name, matching the
// original hindsightgrpc.HindsightGRPC service.
const ServiceName = "hindsightgrpc.HindsightGRPC"

// ExecServer is implemented by anything that can answer the benchmark's
// single RPC. spec.md describes the method as gRPC's async
// request/response plumbing over a completion-queue abstraction; in
// grpc-go that plumbing is already provided by the runtime (one goroutine
// per call), so ExecServer implementations here hand the request off to
// their own handler-owned completion queue and block on its reply rather
// than reimplementing grpc's async machinery.
type ExecServer interface {
	Exec(context.Context, *ExecRequest) (*ExecReply, error)
}

// ExecClient is the client-side stub.
type ExecClient interface {
	Exec(ctx context.Context, req *ExecRequest, opts ...grpc.CallOption) (*ExecReply, error)
}

type execClient struct {
	cc grpc.ClientConnInterface
}

// NewExecClient constructs a client stub bound to cc, always invoking with
// the tracebench wire codec.
func NewExecClient(cc grpc.ClientConnInterface) ExecClient {
	return &execClient{cc: cc}
}

func (c *execClient) Exec(ctx context.Context, req *ExecRequest, opts ...grpc.CallOption) (*ExecReply, error) {
	reply := new(ExecReply)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Exec", req, reply, opts...); err != nil {
		return nil, err
	}
	return reply, nil
}

func execHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecServer).Exec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Exec"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExecServer).Exec(ctx, req.(*ExecRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of the ServiceDesc a protoc
// plugin would generate for HindsightGRPC.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exec", Handler: execHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hindsightgrpc.proto",
}

// RegisterExecServer registers srv on s using the codec this package
// defines.
func RegisterExecServer(s *grpc.Server, srv ExecServer) {
	s.RegisterService(&ServiceDesc, srv)
}
