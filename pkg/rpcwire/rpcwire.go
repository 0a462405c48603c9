// Package rpcwire defines the wire messages and JSON codec shared by the
// RPC inbound server and the RPC ProtocolClient. The Coordinator carries the
// Envelope and routing types as schema-less JSON, so rather than generate
// protobuf stubs it registers a JSON codec under gRPC's own codec registry
// and exposes the service by hand via a grpc.ServiceDesc.
package rpcwire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with encoding.RegisterCodec so any grpc.ClientConn
// dialed with grpc.CallContentSubtype(CodecName) round-trips these types as
// plain JSON instead of protobuf.
const CodecName = "coordinator-json"

// ServiceName is the hand-registered gRPC service name.
const ServiceName = "coordinator.Coordinator"

// FullMethodRoute is the fully-qualified method name for the Route RPC.
const FullMethodRoute = "/" + ServiceName + "/Route"

// FullMethodProcess is the fully-qualified method name for the Process RPC.
const FullMethodProcess = "/" + ServiceName + "/Process"

// RouteRequest is the RPC inbound request for Route.
type RouteRequest struct {
	TenantID  string            `json:"tenantId"`
	UserID    string            `json:"userId"`
	QueryText string            `json:"queryText"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RouteResponse is the RPC inbound response for Route.
type RouteResponse struct {
	TargetServices      []string          `json:"targetServices"`
	NormalizedFields    map[string]string `json:"normalizedFields"`
	EnvelopeJson        string            `json:"envelopeJson"`
	RoutingMetadataJson string            `json:"routingMetadataJson"`
}

// RoutingCandidate is the JSON shape of one ranked candidate inside
// RoutingMetadataJson.
type RoutingCandidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// RoutingMetadata is marshaled into RouteResponse.RoutingMetadataJson.
type RoutingMetadata struct {
	Method     string             `json:"method"`
	Candidates []RoutingCandidate `json:"candidates"`
}

// ProcessRequest carries an opaque, already-serialized Envelope to a
// backend service over RPC.
type ProcessRequest struct {
	ServiceName string `json:"serviceName"`
	Payload     []byte `json:"payload"`
}

// ProcessResponse carries a backend service's opaque response payload.
type ProcessResponse struct {
	Payload      []byte `json:"payload"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// jsonCodec implements encoding.Codec by delegating to encoding/json. gRPC's
// codec contract only requires Marshal/Unmarshal/Name; it does not require
// proto.Message, so it works directly with the plain structs above.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
