// Package keywordindex implements the deterministic, local-only candidate
// ranker used as a floor for the AIRanker and as its fallback.
package keywordindex

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/r3e-network/coordinator/pkg/registry"
)

const maxCandidates = 10

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"for": {}, "in": {}, "on": {}, "with": {}, "is": {}, "are": {}, "be": {},
}

// Candidate is a scored service produced by scoring a query.
type Candidate struct {
	Record     registry.ServiceRecord
	Confidence float64
	Reason     string
}

// Query is the subset of an Envelope the index scores against.
type Query struct {
	Text        string
	PayloadType string
	Metadata    map[string]string
}

type tokenSet struct {
	names        map[string]struct{}
	capabilities map[string]struct{}
	segments     map[string]struct{}
	events       map[string]struct{}
}

// Index precomputes a token set per active ServiceRecord and scores queries
// against it. Readers observe a consistent snapshot via an atomic pointer
// swap; rebuilds never block readers.
type Index struct {
	tokens atomic.Pointer[map[string]tokenSet]
	mu     sync.Mutex // serializes concurrent Rebuild calls only
}

// New creates an empty Index.
func New() *Index {
	idx := &Index{}
	empty := make(map[string]tokenSet)
	idx.tokens.Store(&empty)
	return idx
}

// Rebuild recomputes the token set for every active record. It implements
// registry.IndexRebuilder.
func (idx *Index) Rebuild(snapshot []registry.ServiceRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	next := make(map[string]tokenSet, len(snapshot))
	for _, rec := range snapshot {
		if rec.Status != registry.StatusActive {
			continue
		}
		next[rec.ID] = tokensFor(rec)
	}
	idx.tokens.Store(&next)
}

func tokensFor(rec registry.ServiceRecord) tokenSet {
	ts := tokenSet{
		names:        splitTokens(rec.Name, '-', '_'),
		capabilities: toTokenSet(rec.Capabilities),
		segments:     map[string]struct{}{},
		events:       map[string]struct{}{},
	}

	if rec.Manifest != nil {
		for _, ep := range rec.Manifest.Endpoints {
			for seg := range splitTokens(ep.Path, '/', '-', '_') {
				ts.segments[seg] = struct{}{}
			}
			for word := range wordsOf(ep.Description) {
				ts.segments[word] = struct{}{}
			}
		}
		for _, ev := range rec.Manifest.Events {
			ts.events[strings.ToLower(ev)] = struct{}{}
		}
	}

	return ts
}

// Score scores query against every active service captured in the last
// Rebuild, returning descending-confidence candidates capped at 10. When no
// record scores above zero, every active service is returned with a
// descending synthetic confidence starting at 0.30, ordered by
// registeredAt ascending, so the Dispatcher always has candidates.
func (idx *Index) Score(q Query, snapshot []registry.ServiceRecord) []Candidate {
	tokens := *idx.tokens.Load()
	queryTokens := wordsOf(q.Text)
	typeToken := strings.ToLower(strings.TrimSpace(q.PayloadType))
	if typeToken == "" && q.Metadata != nil {
		typeToken = strings.ToLower(strings.TrimSpace(q.Metadata["type"]))
	}

	candidates := make([]Candidate, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.Status != registry.StatusActive {
			continue
		}
		ts, ok := tokens[rec.ID]
		if !ok {
			ts = tokensFor(rec)
		}

		score, reasons := scoreRecord(rec, ts, q.Text, queryTokens, typeToken)
		if score > 0 {
			if score > 1.0 {
				score = 1.0
			}
			candidates = append(candidates, Candidate{
				Record:     rec,
				Confidence: score,
				Reason:     strings.Join(reasons, "; "),
			})
		}
	}

	if len(candidates) == 0 {
		return syntheticCandidates(snapshot)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Record.RegisteredAt.Before(candidates[j].Record.RegisteredAt)
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

func scoreRecord(rec registry.ServiceRecord, ts tokenSet, queryText string, queryTokens map[string]struct{}, typeToken string) (float64, []string) {
	score := 0.0
	var reasons []string

	lowerName := strings.ToLower(rec.Name)
	if lowerName != "" && strings.Contains(strings.ToLower(queryText), lowerName) {
		score += 0.8
		reasons = append(reasons, "exact name match")
	}

	capMatches := 0
	for cap := range ts.capabilities {
		if _, ok := queryTokens[cap]; ok {
			capMatches++
		}
	}
	if capMatches > 0 {
		score += 0.6 * float64(capMatches)
		reasons = append(reasons, "capability match")
	}

	segMatches := 0
	for seg := range ts.segments {
		if _, ok := queryTokens[seg]; ok {
			segMatches++
		}
	}
	if segMatches > 0 {
		score += 0.4 * float64(segMatches)
		reasons = append(reasons, "endpoint path match")
	}

	eventMatches := 0
	for ev := range ts.events {
		if _, ok := queryTokens[ev]; ok {
			eventMatches++
		}
	}
	if eventMatches > 0 {
		score += 0.5 * float64(eventMatches)
		reasons = append(reasons, "event match")
	}

	if typeToken != "" && typeToken == lowerName {
		score += 0.7
		reasons = append(reasons, "payload type match")
	}

	return score, reasons
}

func syntheticCandidates(snapshot []registry.ServiceRecord) []Candidate {
	active := make([]registry.ServiceRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.Status == registry.StatusActive {
			active = append(active, rec)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].RegisteredAt.Before(active[j].RegisteredAt)
	})
	if len(active) > maxCandidates {
		active = active[:maxCandidates]
	}

	out := make([]Candidate, 0, len(active))
	confidence := 0.30
	for _, rec := range active {
		out = append(out, Candidate{
			Record:     rec,
			Confidence: confidence,
			Reason:     "no keyword match; synthetic floor candidate",
		})
		confidence -= 0.01
		if confidence < 0 {
			confidence = 0
		}
	}
	return out
}

func splitTokens(s string, seps ...rune) map[string]struct{} {
	out := map[string]struct{}{}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		for _, sep := range seps {
			if r == sep {
				return true
			}
		}
		return r == ' '
	})
	for _, f := range fields {
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

func toTokenSet(values []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, v := range values {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

func wordsOf(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}
