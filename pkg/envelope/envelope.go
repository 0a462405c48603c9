// Package envelope defines the canonical internal request shape shared by the
// HTTP and RPC inbound surfaces.
package envelope

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
)

// Version is the fixed envelope schema version.
const Version = "1.0"

// Payload carries the free-form query and side-channel maps.
type Payload struct {
	Query    string            `json:"query"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
}

// Envelope is the protocol-agnostic request object the core operates on.
// It is immutable after construction.
type Envelope struct {
	Version   string  `json:"version"`
	RequestID string  `json:"requestId"`
	Timestamp string  `json:"timestamp"`
	TenantID  string  `json:"tenantId"`
	UserID    string  `json:"userId"`
	Source    string  `json:"source"`
	Payload   Payload `json:"payload"`
}

// Build constructs a new Envelope. requestID is generated when empty.
func Build(source, tenantID, userID, query string, metadata, context map[string]string, requestID string) Envelope {
	if strings.TrimSpace(requestID) == "" {
		requestID = uuid.New().String()
	}
	if strings.TrimSpace(tenantID) == "" {
		tenantID = "default"
	}
	if strings.TrimSpace(userID) == "" {
		userID = "anonymous"
	}

	return Envelope{
		Version:   Version,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TenantID:  tenantID,
		UserID:    userID,
		Source:    source,
		Payload: Payload{
			Query:    query,
			Metadata: metadata,
			Context:  context,
		},
	}
}

// ToJSON serializes the Envelope to canonical JSON.
func ToJSON(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, coordinatorerrors.EnvelopeMalformed(err)
	}
	return data, nil
}

// FromJSON parses bytes produced by ToJSON back into an Envelope.
func FromJSON(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, coordinatorerrors.EnvelopeMalformed(err)
	}
	return env, nil
}

// Validate checks that every required field is present.
func Validate(env Envelope) error {
	switch {
	case strings.TrimSpace(env.Version) == "":
		return coordinatorerrors.EnvelopeInvalid("version is required")
	case strings.TrimSpace(env.RequestID) == "":
		return coordinatorerrors.EnvelopeInvalid("requestId is required")
	case strings.TrimSpace(env.Timestamp) == "":
		return coordinatorerrors.EnvelopeInvalid("timestamp is required")
	case strings.TrimSpace(env.Source) == "":
		return coordinatorerrors.EnvelopeInvalid("source is required")
	}
	return nil
}
