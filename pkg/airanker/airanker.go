// Package airanker ranks registered services for an Envelope by delegating
// to an external LLM provider, enforcing a strict JSON response contract and
// degrading to the caller's fallback path on any provider failure.
package airanker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/resilience"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/registry"
)

const maxCandidates = 10

// state is the per-call state machine described by the ranking contract:
// Idle -> Sending -> (Success | Timeout | ProviderError | ParseError).
type state string

const (
	stateIdle          state = "idle"
	stateSending       state = "sending"
	stateSuccess       state = "success"
	stateTimeout       state = "timeout"
	stateProviderError state = "provider_error"
	stateParseError    state = "parse_error"
)

// Candidate is a scored service produced by the ranker.
type Candidate struct {
	Record     registry.ServiceRecord
	Confidence float64
	Reason     string
}

// Config configures the ranker.
type Config struct {
	Enabled        bool
	Model          string
	APIKey         string
	Temperature    float64
	MaxCandidates  int
	MinConfidence  float64
	RequestTimeout time.Duration
}

// DefaultConfig mirrors the contract's defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:    0.1,
		MaxCandidates:  maxCandidates,
		MinConfidence:  0.3,
		RequestTimeout: 10 * time.Second,
	}
}

// Provider is the minimal LLM surface the ranker needs. The production
// implementation wraps anthropic-sdk-go; tests supply a fake.
type Provider interface {
	Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error)
}

// Ranker calls Provider to rank active services for an Envelope.
type Ranker struct {
	cfg      Config
	provider Provider
	breaker  *resilience.CircuitBreaker
	logger   *logging.Logger
}

// New builds a Ranker. breaker wraps the outermost provider call boundary;
// callers construct it with resilience.New so the AIRanker and the rest of
// the codebase share one circuit-breaker implementation.
func New(cfg Config, provider Provider, breaker *resilience.CircuitBreaker, logger *logging.Logger) *Ranker {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = maxCandidates
	}
	return &Ranker{cfg: cfg, provider: provider, breaker: breaker, logger: logger}
}

type targetService struct {
	ServiceName string  `json:"serviceName"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// Rank scores snapshot against env's payload using the configured provider.
// It never returns an empty, non-error candidate list: when filtering
// leaves nothing, it synthesizes descending confidences starting at 0.30,
// matching the KeywordIndex's no-match behavior.
func (r *Ranker) Rank(ctx context.Context, env envelope.Envelope, snapshot []registry.ServiceRecord) ([]Candidate, error) {
	st := stateIdle
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	byName := make(map[string]registry.ServiceRecord, len(snapshot))
	for _, rec := range snapshot {
		if rec.Status == registry.StatusActive {
			byName[strings.ToLower(rec.Name)] = rec
		}
	}

	prompt := buildPrompt(env, snapshot)

	st = stateSending
	var raw string
	callErr := r.breaker.Execute(ctx, func() error {
		var err error
		raw, err = r.provider.Complete(ctx, r.cfg.Model, r.cfg.Temperature, prompt)
		return err
	})

	if callErr != nil {
		if ctx.Err() != nil {
			st = stateTimeout
		} else {
			st = stateProviderError
		}
		r.logger.Debug(ctx, "airanker call failed", map[string]interface{}{"state": string(st)})
		return nil, coordinatorerrors.AIUnavailable(callErr)
	}

	parsed, ok := parseResponse(raw)
	if !ok {
		st = stateParseError
		r.logger.Debug(ctx, "airanker response failed to parse", map[string]interface{}{"state": string(st)})
		return nil, coordinatorerrors.AIUnavailable(fmt.Errorf("airanker: response is not valid JSON"))
	}
	st = stateSuccess

	candidates := make([]Candidate, 0, len(parsed))
	for _, t := range parsed {
		rec, found := byName[strings.ToLower(t.ServiceName)]
		if !found {
			continue
		}
		confidence := clamp01(t.Confidence)
		if confidence < r.cfg.MinConfidence {
			continue
		}
		candidates = append(candidates, Candidate{Record: rec, Confidence: confidence, Reason: t.Reasoning})
	}

	if len(candidates) == 0 {
		return syntheticCandidates(snapshot, r.cfg.MaxCandidates), nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Record.RegisteredAt.Before(candidates[j].Record.RegisteredAt)
	})

	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}
	return candidates, nil
}

func buildPrompt(env envelope.Envelope, snapshot []registry.ServiceRecord) string {
	var sb strings.Builder
	sb.WriteString("You are routing a request to one or more backend services.\n")
	sb.WriteString(fmt.Sprintf("Request query: %s\n", env.Payload.Query))
	sb.WriteString(fmt.Sprintf("Request context: %v\n", env.Payload.Context))
	sb.WriteString(fmt.Sprintf("Request metadata: %v\n", env.Payload.Metadata))
	sb.WriteString("Available active services:\n")

	for _, rec := range snapshot {
		if rec.Status != registry.StatusActive {
			continue
		}
		sb.WriteString(fmt.Sprintf("- name=%s endpoint=%s capabilities=%v", rec.Name, rec.Endpoint, rec.Capabilities))
		if rec.Manifest != nil {
			var paths []string
			for _, ep := range rec.Manifest.Endpoints {
				paths = append(paths, fmt.Sprintf("%s %s", ep.Method, ep.Path))
			}
			sb.WriteString(fmt.Sprintf(" endpoints=%v events=%v", paths, rec.Manifest.Events))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Respond with a strict JSON object of exactly this shape, no prose, no code fences:\n")
	sb.WriteString(`{"targetServices":[{"serviceName":"...","confidence":0.0,"reasoning":"..."}],"strategy":"..."}`)
	return sb.String()
}

// parseResponse strips surrounding code-fence markers and decodes the
// strict JSON contract tolerantly via gjson.
func parseResponse(raw string) ([]targetService, bool) {
	cleaned := stripCodeFences(raw)
	if !gjson.Valid(cleaned) {
		return nil, false
	}

	result := gjson.Parse(cleaned)
	targets := result.Get("targetServices")
	if !targets.Exists() || !targets.IsArray() {
		return nil, false
	}

	var out []targetService
	for _, t := range targets.Array() {
		out = append(out, targetService{
			ServiceName: t.Get("serviceName").String(),
			Confidence:  t.Get("confidence").Float(),
			Reasoning:   t.Get("reasoning").String(),
		})
	}
	return out, true
}

func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func syntheticCandidates(snapshot []registry.ServiceRecord, limit int) []Candidate {
	active := make([]registry.ServiceRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.Status == registry.StatusActive {
			active = append(active, rec)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].RegisteredAt.Before(active[j].RegisteredAt)
	})
	if limit <= 0 {
		limit = maxCandidates
	}
	if len(active) > limit {
		active = active[:limit]
	}

	out := make([]Candidate, 0, len(active))
	confidence := 0.30
	for _, rec := range active {
		out = append(out, Candidate{Record: rec, Confidence: confidence, Reason: "no AI-ranked match; synthetic floor candidate"})
		confidence -= 0.01
		if confidence < 0 {
			confidence = 0
		}
	}
	return out
}
