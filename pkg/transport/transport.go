// Package transport selects between the HTTP and RPC ProtocolClients for a
// candidate service.
package transport

import (
	"net"
	"net/url"
	"strconv"

	"github.com/r3e-network/coordinator/pkg/registry"
)

// rpcPortOffset is the compatibility derivation used when a ServiceRecord
// does not explicitly set SupportsRPC: endpoint port + 51 is treated as the
// service's RPC listener.
const rpcPortOffset = 51

// Protocol identifies which ProtocolClient a candidate should be dispatched
// through.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolRPC
)

// Select returns the protocol and endpoint to use for rec. SupportsRPC is
// authoritative; the port+51 convention is only a fallback derivation kept
// for compatibility with services that never set the flag.
func Select(rec registry.ServiceRecord) (Protocol, string) {
	if rec.SupportsRPC {
		return ProtocolRPC, rpcEndpoint(rec.Endpoint)
	}
	return ProtocolHTTP, rec.Endpoint
}

func rpcEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	host := u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		return endpoint
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return endpoint
	}
	return net.JoinHostPort(host, strconv.Itoa(port+rpcPortOffset))
}
