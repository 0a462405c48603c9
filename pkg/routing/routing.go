// Package routing orchestrates ranking for an inbound Envelope: it takes an
// active-service snapshot, asks the AIRanker to rank it, and falls back to
// the KeywordIndex when the AIRanker is disabled, unavailable, or exhausted.
package routing

import (
	"context"
	"time"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/metrics"
	"github.com/r3e-network/coordinator/pkg/airanker"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/keywordindex"
	"github.com/r3e-network/coordinator/pkg/registry"
)

const maxCandidates = 10

// Method labels which ranker produced a Result's candidates.
type Method string

const (
	MethodAI      Method = "ai"
	MethodKeyword Method = "keyword"
)

// Candidate is the routing-engine-level view of a ranked service.
type Candidate struct {
	Record     registry.ServiceRecord
	Confidence float64
	Reason     string
}

// Result is the ordered candidate list produced by Route, capped at 10.
type Result struct {
	Candidates []Candidate
	Method     Method
}

// AIRanker is the subset of airanker.Ranker the engine depends on.
type AIRanker interface {
	Rank(ctx context.Context, env envelope.Envelope, snapshot []registry.ServiceRecord) ([]airanker.Candidate, error)
}

// KeywordIndex is the subset of keywordindex.Index the engine depends on.
type KeywordIndex interface {
	Score(q keywordindex.Query, snapshot []registry.ServiceRecord) []keywordindex.Candidate
}

// Registry is the subset of registry.Registry the engine depends on.
type Registry interface {
	List(filter registry.Filter) []registry.ServiceRecord
}

// Engine orchestrates ranking, AI→keyword fallback, and candidate capping.
type Engine struct {
	registry        Registry
	ai              AIRanker
	keyword         KeywordIndex
	aiEnabled       bool
	fallbackEnabled bool
	metrics         *metrics.Metrics
	logger          *logging.Logger
}

// New builds an Engine. ai may be nil when aiEnabled is false.
func New(reg Registry, ai AIRanker, keyword KeywordIndex, aiEnabled, fallbackEnabled bool, m *metrics.Metrics, logger *logging.Logger) *Engine {
	return &Engine{
		registry:        reg,
		ai:              ai,
		keyword:         keyword,
		aiEnabled:       aiEnabled,
		fallbackEnabled: fallbackEnabled,
		metrics:         m,
		logger:          logger,
	}
}

// Route produces an ordered, ≤10-entry candidate list for env.
func (e *Engine) Route(ctx context.Context, env envelope.Envelope) (Result, error) {
	start := time.Now()
	snapshot := e.registry.List(registry.Filter{OnlyActive: true})
	if len(snapshot) == 0 {
		return Result{}, coordinatorerrors.NoActiveServices()
	}

	var (
		result Result
		err    error
	)

	if e.aiEnabled && e.ai != nil {
		result, err = e.routeWithAI(ctx, env, snapshot)
	} else {
		result = e.routeWithKeyword(env, snapshot)
	}

	if err != nil {
		return Result{}, err
	}

	if len(result.Candidates) > maxCandidates {
		result.Candidates = result.Candidates[:maxCandidates]
	}

	if e.metrics != nil {
		e.metrics.RecordRouting(string(result.Method), time.Since(start))
	}
	return result, nil
}

func (e *Engine) routeWithAI(ctx context.Context, env envelope.Envelope, snapshot []registry.ServiceRecord) (Result, error) {
	candidates, err := e.ai.Rank(ctx, env, snapshot)
	if err == nil {
		return Result{Candidates: fromAIRanker(candidates), Method: MethodAI}, nil
	}

	if !e.fallbackEnabled {
		return Result{}, err
	}

	if e.logger != nil {
		e.logger.Warn(ctx, "airanker unavailable, falling back to keyword index", map[string]interface{}{"error": err.Error()})
	}
	if e.metrics != nil {
		e.metrics.RecordRoutingFallback()
	}
	return e.routeWithKeyword(env, snapshot), nil
}

func (e *Engine) routeWithKeyword(env envelope.Envelope, snapshot []registry.ServiceRecord) Result {
	q := keywordindex.Query{
		Text:        env.Payload.Query,
		PayloadType: env.Payload.Metadata["type"],
		Metadata:    env.Payload.Metadata,
	}
	candidates := e.keyword.Score(q, snapshot)
	return Result{Candidates: fromKeywordIndex(candidates), Method: MethodKeyword}
}

func fromAIRanker(in []airanker.Candidate) []Candidate {
	out := make([]Candidate, len(in))
	for i, c := range in {
		out[i] = Candidate{Record: c.Record, Confidence: c.Confidence, Reason: c.Reason}
	}
	return out
}

func fromKeywordIndex(in []keywordindex.Candidate) []Candidate {
	out := make([]Candidate, len(in))
	for i, c := range in {
		out[i] = Candidate{Record: c.Record, Confidence: c.Confidence, Reason: c.Reason}
	}
	return out
}
