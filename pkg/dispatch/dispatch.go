// Package dispatch implements the cascade Dispatcher: it invokes ranked
// candidates in order, assesses each response's quality, and stops on the
// first acceptable one.
package dispatch

import (
	"context"
	"time"

	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/metrics"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/routing"
	"github.com/r3e-network/coordinator/pkg/transport"
)

// RejectReason classifies why a candidate's response was not accepted.
type RejectReason string

const (
	RejectServiceError  RejectReason = "service_error"
	RejectNoData        RejectReason = "no_data"
	RejectEmptyData     RejectReason = "empty_data"
	RejectEmptyResults  RejectReason = "empty_results"
	RejectOnlyMetadata  RejectReason = "only_metadata"
	RejectQualityTooLow RejectReason = "quality_too_low"
	RejectTimeout       RejectReason = "timeout"
)

// StopReason classifies why a cascade terminated.
type StopReason string

const (
	StopFoundGoodResponse   StopReason = "found_good_response"
	StopExhaustedCandidates StopReason = "exhausted_candidates"
	StopDeadlineExceeded    StopReason = "deadline_exceeded"
)

// Policy configures cascade execution.
type Policy struct {
	MaxAttempts            int
	PerAttemptTimeout      time.Duration
	MinQualityScore        float64
	StopOnFirst            bool
	RequireRelevantFields  bool
	RejectEmptyCollections bool
}

// DefaultPolicy mirrors the contract's defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:            5,
		PerAttemptTimeout:      5 * time.Second,
		MinQualityScore:        0.3,
		StopOnFirst:            true,
		RequireRelevantFields:  true,
		RejectEmptyCollections: true,
	}
}

// AttemptRecord is produced per candidate invocation.
type AttemptRecord struct {
	Rank         int
	ServiceName  string
	Confidence   float64
	Success      bool
	Quality      float64
	DurationMs   int64
	RejectReason RejectReason
}

// Chosen is the accepted candidate and its raw response payload.
type Chosen struct {
	Candidate routing.Candidate
	Payload   map[string]interface{}
}

// asObject reports whether raw decoded as a JSON object. A top-level array
// or scalar response is never a structured object, so it is always quality
// 0 and rejected as empty_data rather than handed to assessQuality/isGood.
func asObject(raw interface{}) (map[string]interface{}, bool) {
	m, ok := raw.(map[string]interface{})
	return m, ok
}

// Result is the outcome of a single Dispatch call.
type Result struct {
	Chosen     *Chosen
	Attempts   []AttemptRecord
	StopReason StopReason
}

// ProtocolClient is the subset of httpclient.Client / rpcclient.Client the
// Dispatcher depends on. The returned value is whatever JSON value the
// backend responded with: an object, an array, a scalar, or nil for an
// empty body.
type ProtocolClient interface {
	Process(ctx context.Context, endpoint, serviceName string, env envelope.Envelope) (interface{}, error)
}

// Dispatcher executes cascades against an ordered candidate list.
type Dispatcher struct {
	httpClient ProtocolClient
	rpcClient  ProtocolClient
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// New builds a Dispatcher.
func New(httpClient, rpcClient ProtocolClient, m *metrics.Metrics, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{httpClient: httpClient, rpcClient: rpcClient, metrics: m, logger: logger}
}

// Dispatch invokes candidates in rank order, up to min(len(candidates),
// policy.MaxAttempts), honoring ctx's overall deadline in addition to
// policy.PerAttemptTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, env envelope.Envelope, candidates []routing.Candidate, policy Policy) Result {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	var (
		attempts []AttemptRecord
		chosen   *Chosen
	)

	deadlineExceeded := false

	for i := 0; i < maxAttempts; i++ {
		candidate := candidates[i]
		rank := i + 1

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= 0 {
			deadlineExceeded = true
			break
		}

		attemptTimeout := policy.PerAttemptTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < attemptTimeout {
				attemptTimeout = remaining
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		start := time.Now()
		payload, err := d.invoke(attemptCtx, candidate.Record, env)
		duration := time.Since(start)
		cancel()

		if err != nil {
			reason := RejectServiceError
			if attemptCtx.Err() == context.DeadlineExceeded {
				reason = RejectTimeout
			}
			attempts = append(attempts, AttemptRecord{
				Rank: rank, ServiceName: candidate.Record.Name, Confidence: candidate.Confidence,
				Success: false, Quality: 0, DurationMs: duration.Milliseconds(), RejectReason: reason,
			})
			d.logAttempt(ctx, candidate.Record.Name, rank, 0, reason, err)
			continue
		}

		obj, isObject := asObject(payload)

		var (
			quality float64
			good    bool
			reason  RejectReason
		)
		if !isObject {
			quality, good, reason = 0, false, RejectEmptyData
		} else {
			effective := unwrap(obj)
			quality = assessQuality(effective)
			good, reason = isGood(effective, quality, policy)
		}

		attempts = append(attempts, AttemptRecord{
			Rank: rank, ServiceName: candidate.Record.Name, Confidence: candidate.Confidence,
			Success: good, Quality: quality, DurationMs: duration.Milliseconds(), RejectReason: reason,
		})

		if good {
			d.logAttempt(ctx, candidate.Record.Name, rank, quality, "", nil)
			if chosen == nil {
				chosen = &Chosen{Candidate: candidate, Payload: obj}
			}
			if policy.StopOnFirst {
				break
			}
			continue
		}

		d.logAttempt(ctx, candidate.Record.Name, rank, quality, reason, nil)
	}

	result := Result{Attempts: attempts, Chosen: chosen}
	switch {
	case chosen != nil:
		result.StopReason = StopFoundGoodResponse
	case deadlineExceeded:
		result.StopReason = StopDeadlineExceeded
	default:
		result.StopReason = StopExhaustedCandidates
	}

	d.recordMetrics(result)
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, rec routing.Candidate, env envelope.Envelope) (interface{}, error) {
	protocol, endpoint := transport.Select(rec.Record)
	if protocol == transport.ProtocolRPC {
		return d.rpcClient.Process(ctx, endpoint, rec.Record.Name, env)
	}
	return d.httpClient.Process(ctx, endpoint, rec.Record.Name, env)
}

func (d *Dispatcher) logAttempt(ctx context.Context, serviceName string, rank int, confidence float64, reason RejectReason, err error) {
	if d.logger == nil {
		return
	}
	d.logger.LogCascadeAttempt(ctx, serviceName, rank, confidence, string(reason), err)
}

func (d *Dispatcher) recordMetrics(result Result) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordCascadeAttempts(string(result.StopReason), len(result.Attempts))
	if result.Chosen != nil {
		for _, a := range result.Attempts {
			if a.ServiceName == result.Chosen.Candidate.Record.Name && a.Success {
				d.metrics.RecordCascadeSuccess(a.Rank - 1)
				break
			}
		}
	} else {
		d.metrics.RecordCascadeExhausted()
	}
}

var metadataOnlyKeys = map[string]struct{}{
	"timestamp": {}, "status": {}, "message": {}, "success": {}, "error": {},
}

// unwrap applies the single-level `data` unwrap: when payload has exactly
// one top-level key `data` whose value is itself an object, quality checks
// evaluate that nested object instead. It never recurses.
func unwrap(payload map[string]interface{}) map[string]interface{} {
	if len(payload) != 1 {
		return payload
	}
	data, ok := payload["data"]
	if !ok {
		return payload
	}
	nested, ok := data.(map[string]interface{})
	if !ok {
		return payload
	}
	return nested
}

func assessQuality(r map[string]interface{}) float64 {
	k := len(r)
	switch {
	case k == 0:
		return 0.0
	case k < 3:
		return 0.3
	case k < 10:
		return 0.7
	default:
		return 1.0
	}
}

func isGood(r map[string]interface{}, quality float64, policy Policy) (bool, RejectReason) {
	if len(r) == 0 {
		return false, RejectEmptyData
	}

	if policy.RejectEmptyCollections {
		for _, key := range []string{"results", "items", "data"} {
			if v, ok := r[key]; ok {
				if arr, isArr := v.([]interface{}); isArr && len(arr) == 0 {
					return false, RejectEmptyResults
				}
			}
		}
	}

	if policy.RequireRelevantFields && onlyMetadataKeys(r) {
		return false, RejectOnlyMetadata
	}

	if quality < policy.MinQualityScore {
		return false, RejectQualityTooLow
	}

	return true, ""
}

func onlyMetadataKeys(r map[string]interface{}) bool {
	for key := range r {
		if _, metadata := metadataOnlyKeys[key]; !metadata {
			return false
		}
	}
	return true
}
