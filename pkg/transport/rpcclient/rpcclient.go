// Package rpcclient implements the RPC ProtocolClient: a lazily-populated,
// endpoint-keyed pool of gRPC connections that send an Envelope as an opaque
// payload to a backend's Process method.
package rpcclient

import (
	"context"
	"encoding/json"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/rpcwire"
)

// Client maintains a pool of long-lived gRPC connections keyed by endpoint.
// Connection acquisition is lazy: the first call for an endpoint dials it
// and caches the result for subsequent calls.
type Client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// New builds an empty connection pool.
func New() *Client {
	return &Client{conns: make(map[string]*grpc.ClientConn)}
}

func (c *Client) connFor(endpoint string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcwire.CodecName)),
	)
	if err != nil {
		return nil, err
	}
	c.conns[endpoint] = conn
	return conn, nil
}

// Process serializes env and sends it as an opaque payload in a Process
// request, deserializing and returning the response payload — an object,
// an array, or a scalar, left to the Dispatcher to judge.
func (c *Client) Process(ctx context.Context, endpoint, serviceName string, env envelope.Envelope) (interface{}, error) {
	body, err := envelope.ToJSON(env)
	if err != nil {
		return nil, coordinatorerrors.EnvelopeMalformed(err)
	}

	conn, err := c.connFor(endpoint)
	if err != nil {
		return nil, coordinatorerrors.TransportError("dial", err)
	}

	req := &rpcwire.ProcessRequest{ServiceName: serviceName, Payload: body}
	resp := &rpcwire.ProcessResponse{}

	if err := conn.Invoke(ctx, rpcwire.FullMethodProcess, req, resp); err != nil {
		if ctx.Err() != nil {
			return nil, coordinatorerrors.BackendTimeout(serviceName)
		}
		return nil, coordinatorerrors.BackendError(serviceName, err)
	}

	if !resp.Success {
		return nil, coordinatorerrors.BackendError(serviceName, errString(resp.ErrorMessage))
	}

	var decoded interface{}
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &decoded); err != nil {
			return nil, coordinatorerrors.BackendError(serviceName, err)
		}
	}
	return decoded, nil
}

// Close tears down every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for endpoint, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, endpoint)
	}
	return firstErr
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func errString(msg string) error {
	if msg == "" {
		msg = "backend reported failure"
	}
	return simpleError(msg)
}
