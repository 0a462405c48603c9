// Package rpcserver implements the Coordinator's RPC inbound surface: a
// hand-registered gRPC service exposing Route and Process unary methods over
// a JSON wire codec, sharing the same RoutingEngine as the HTTP surface.
package rpcserver

import (
	"context"
	"encoding/json"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/metrics"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/registry"
	"github.com/r3e-network/coordinator/pkg/routing"
	"github.com/r3e-network/coordinator/pkg/rpcwire"
	"github.com/r3e-network/coordinator/pkg/transport"
)

// Registry is the subset of registry.Registry the server depends on.
type Registry interface {
	GetByName(name string) (registry.ServiceRecord, bool)
}

// RoutingEngine is the subset of routing.Engine the server depends on.
type RoutingEngine interface {
	Route(ctx context.Context, env envelope.Envelope) (routing.Result, error)
}

// ProtocolClient is the subset of httpclient.Client / rpcclient.Client the
// server depends on to proxy a single-target Process call.
type ProtocolClient interface {
	Process(ctx context.Context, endpoint, serviceName string, env envelope.Envelope) (interface{}, error)
}

// Server implements the hand-registered coordinator.Coordinator gRPC service.
type Server struct {
	grpcServer *grpc.Server
	registry   Registry
	engine     RoutingEngine
	httpClient ProtocolClient
	rpcClient  ProtocolClient
	metrics    *metrics.Metrics
	logger     *logging.Logger
	health     *health.Server
}

// New builds a Server and registers it on a fresh grpc.Server.
func New(reg Registry, engine RoutingEngine, httpClient, rpcClient ProtocolClient, m *metrics.Metrics, logger *logging.Logger) *Server {
	s := &Server{
		registry:   reg,
		engine:     engine,
		httpClient: httpClient,
		rpcClient:  rpcClient,
		metrics:    m,
		logger:     logger,
		health:     health.NewServer(),
	}

	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(rpcwire.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return s
}

// Serve blocks accepting connections on lis until the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops accepting new ones.
func (s *Server) GracefulStop() {
	s.health.SetServingStatus(rpcwire.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
}

// serviceDesc hand-registers the two unary methods in place of generated
// protobuf stubs; requests and responses round-trip through rpcwire's JSON
// codec instead of proto marshaling.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: rpcwire.ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Route", Handler: routeHandler},
		{MethodName: "Process", Handler: processHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coordinator.proto",
}

func routeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpcwire.RouteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).route(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rpcwire.FullMethodRoute}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).route(ctx, req.(*rpcwire.RouteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpcwire.ProcessRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rpcwire.FullMethodProcess}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).process(ctx, req.(*rpcwire.ProcessRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) route(ctx context.Context, req *rpcwire.RouteRequest) (*rpcwire.RouteResponse, error) {
	env := envelope.Build("rpc", req.TenantID, req.UserID, req.QueryText, req.Metadata, nil, "")

	result, err := s.engine.Route(ctx, env)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "rpc route failed", err, map[string]interface{}{"requestId": env.RequestID})
		}
		return nil, err
	}

	names := make([]string, len(result.Candidates))
	rpcCandidates := make([]rpcwire.RoutingCandidate, len(result.Candidates))
	for i, c := range result.Candidates {
		names[i] = c.Record.Name
		rpcCandidates[i] = rpcwire.RoutingCandidate{Name: c.Record.Name, Confidence: c.Confidence, Reason: c.Reason}
	}

	envJSON, err := envelope.ToJSON(env)
	if err != nil {
		return nil, err
	}

	metadataJSON, err := json.Marshal(rpcwire.RoutingMetadata{Method: string(result.Method), Candidates: rpcCandidates})
	if err != nil {
		return nil, err
	}

	return &rpcwire.RouteResponse{
		TargetServices: names,
		NormalizedFields: map[string]string{
			"tenantId": env.TenantID,
			"userId":   env.UserID,
			"source":   env.Source,
		},
		EnvelopeJson:        string(envJSON),
		RoutingMetadataJson: string(metadataJSON),
	}, nil
}

func (s *Server) process(ctx context.Context, req *rpcwire.ProcessRequest) (*rpcwire.ProcessResponse, error) {
	record, ok := s.registry.GetByName(req.ServiceName)
	if !ok {
		err := coordinatorerrors.NotFound("service", req.ServiceName)
		return &rpcwire.ProcessResponse{Success: false, ErrorMessage: err.Error()}, nil
	}

	env, err := envelope.FromJSON(req.Payload)
	if err != nil {
		return &rpcwire.ProcessResponse{Success: false, ErrorMessage: err.Error()}, nil
	}

	protocol, endpoint := transport.Select(record)
	client := s.httpClient
	if protocol == transport.ProtocolRPC {
		client = s.rpcClient
	}

	result, err := client.Process(ctx, endpoint, record.Name, env)
	if s.logger != nil {
		s.logger.LogServiceCall(ctx, record.Name, "Process", 0, err)
	}
	if err != nil {
		return &rpcwire.ProcessResponse{Success: false, ErrorMessage: err.Error()}, nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return &rpcwire.ProcessResponse{Success: false, ErrorMessage: err.Error()}, nil
	}

	return &rpcwire.ProcessResponse{Success: true, Payload: payload}, nil
}
