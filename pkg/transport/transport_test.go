package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/r3e-network/coordinator/pkg/registry"
)

func TestSelect_HTTPByDefault(t *testing.T) {
	rec := registry.ServiceRecord{Endpoint: "http://payments:4000"}
	protocol, endpoint := Select(rec)
	assert.Equal(t, ProtocolHTTP, protocol)
	assert.Equal(t, "http://payments:4000", endpoint)
}

func TestSelect_RPCWhenFlagSet(t *testing.T) {
	rec := registry.ServiceRecord{Endpoint: "http://payments:4000", SupportsRPC: true}
	protocol, endpoint := Select(rec)
	assert.Equal(t, ProtocolRPC, protocol)
	assert.Equal(t, "payments:4051", endpoint)
}
