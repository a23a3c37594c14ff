package service

import (
	"sync"

	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"google.golang.org/grpc"
)

// ChildClient is a cached gRPC connection plus stub to one other server
// instance, shared across every handler that calls that address, per
// spec.md §4.4's "single channel+stub per address shared across handlers".
type ChildClient struct {
	Address string
	conn    *grpc.ClientConn
	stub    rpcpb.ExecClient
}

func dialChildClient(address string) (*ChildClient, error) {
	conn, err := grpc.Dial(address,
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcpb.CodecName())),
	)
	if err != nil {
		return nil, err
	}
	return &ChildClient{Address: address, conn: conn, stub: rpcpb.NewExecClient(conn)}, nil
}

func (c *ChildClient) Close() error { return c.conn.Close() }

// clientCache is the server-wide shared map protected by one mutex, held
// for the lookup and, on a miss, for the dial and insertion, matching
// spec.md §5's description of the shared client cache.
type clientCache struct {
	mu      sync.Mutex
	clients map[string]*ChildClient
}

func newClientCache() *clientCache {
	return &clientCache{clients: make(map[string]*ChildClient)}
}

// getOrDial returns the shared client for address, dialing and inserting
// it on first use by any handler.
func (c *clientCache) getOrDial(address string) (*ChildClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.clients[address]; ok {
		return existing, nil
	}
	client, err := dialChildClient(address)
	if err != nil {
		return nil, err
	}
	c.clients[address] = client
	return client, nil
}

func (c *clientCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.Close()
	}
}
