// Package httpclient implements the HTTP ProtocolClient: it POSTs an
// Envelope as JSON to a candidate's /api/process endpoint and parses the
// JSON response.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/httputil"
	"github.com/r3e-network/coordinator/infrastructure/ratelimit"
	"github.com/r3e-network/coordinator/pkg/envelope"
)

const maxResponseBytes = 4 << 20 // 4MiB

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client dispatches Envelopes to backend services over HTTP.
type Client struct {
	http doer
}

// New builds a Client. base may be nil, in which case a default client is
// created; a per-call deadline is always applied via the context instead of
// the client's own Timeout field. When rateLimit.RequestsPerSecond is > 0,
// outbound calls to backend services are throttled so a wide cascade cannot
// hammer a single slow candidate.
func New(base *http.Client, rateLimit ratelimit.RateLimitConfig) *Client {
	timed, _ := httputil.NewClient(httputil.ClientConfig{HTTPClient: base}, httputil.ClientDefaults{Timeout: 30 * time.Second})
	if rateLimit.RequestsPerSecond <= 0 {
		return &Client{http: timed}
	}
	return &Client{http: ratelimit.NewRateLimitedClient(timed, rateLimit)}
}

// Process POSTs env as JSON to endpoint + "/api/process" and decodes the
// response body as a generic JSON value — an object, an array, or a scalar
// — leaving the Dispatcher to judge its shape. It honors ctx's deadline.
func (c *Client) Process(ctx context.Context, endpoint, serviceName string, env envelope.Envelope) (interface{}, error) {
	body, err := envelope.ToJSON(env)
	if err != nil {
		return nil, coordinatorerrors.EnvelopeMalformed(err)
	}

	url := endpoint + "/api/process"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, coordinatorerrors.TransportError("build_request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", env.RequestID)
	req.Header.Set("X-Target-Service", serviceName)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, coordinatorerrors.BackendTimeout(serviceName)
		}
		return nil, coordinatorerrors.BackendError(serviceName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, coordinatorerrors.BackendError(serviceName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, coordinatorerrors.BackendError(serviceName, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(raw)))
	}

	var decoded interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, coordinatorerrors.BackendError(serviceName, fmt.Errorf("invalid JSON response: %w", err))
		}
	}
	return decoded, nil
}
