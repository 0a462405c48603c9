package keywordindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/coordinator/pkg/registry"
)

func activeRecord(id, name string, registeredAt time.Time, caps []string, manifest *registry.Manifest) registry.ServiceRecord {
	return registry.ServiceRecord{
		ID:           id,
		Name:         name,
		Status:       registry.StatusActive,
		Capabilities: caps,
		Manifest:     manifest,
		RegisteredAt: registeredAt,
	}
}

func TestScore_ExactNameMatch(t *testing.T) {
	idx := New()
	now := time.Now().UTC()
	payments := activeRecord("1", "payments", now, nil, nil)
	snapshot := []registry.ServiceRecord{payments}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "please process my payments request"}, snapshot)

	require.Len(t, results, 1)
	assert.Equal(t, "payments", results[0].Record.Name)
	assert.InDelta(t, 0.8, results[0].Confidence, 0.0001)
}

func TestScore_CapabilityAndEndpointAndEventWeights(t *testing.T) {
	idx := New()
	now := time.Now().UTC()
	rec := activeRecord("1", "ledger", now, []string{"refunds"}, &registry.Manifest{
		Endpoints: []registry.ManifestEndpoint{{Path: "/api/refunds", Method: "POST", Description: "issue refund"}},
		Events:    []string{"refund_issued"},
	})
	snapshot := []registry.ServiceRecord{rec}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "issue a refund via refund_issued event"}, snapshot)

	require.Len(t, results, 1)
	assert.Greater(t, results[0].Confidence, 0.5)
}

func TestScore_PayloadTypeMatch(t *testing.T) {
	idx := New()
	now := time.Now().UTC()
	rec := activeRecord("1", "notifications", now, nil, nil)
	snapshot := []registry.ServiceRecord{rec}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "send this", PayloadType: "notifications"}, snapshot)

	require.Len(t, results, 1)
	assert.InDelta(t, 0.7, results[0].Confidence, 0.0001)
}

func TestScore_NoMatchReturnsSyntheticFallback(t *testing.T) {
	idx := New()
	t0 := time.Now().UTC()
	t1 := t0.Add(time.Minute)
	a := activeRecord("1", "alpha", t0, nil, nil)
	b := activeRecord("2", "beta", t1, nil, nil)
	snapshot := []registry.ServiceRecord{b, a}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "completely unrelated gibberish"}, snapshot)

	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Record.Name)
	assert.InDelta(t, 0.30, results[0].Confidence, 0.0001)
	assert.Equal(t, "beta", results[1].Record.Name)
	assert.Less(t, results[1].Confidence, results[0].Confidence)
}

func TestScore_CapsAtTenCandidates(t *testing.T) {
	idx := New()
	now := time.Now().UTC()
	var snapshot []registry.ServiceRecord
	for i := 0; i < 15; i++ {
		snapshot = append(snapshot, activeRecord(string(rune('a'+i)), "svc", now.Add(time.Duration(i)*time.Second), nil, nil))
	}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "route to svc now"}, snapshot)

	assert.Len(t, results, 10)
}

func TestScore_IgnoresInactiveRecords(t *testing.T) {
	idx := New()
	now := time.Now().UTC()
	inactive := registry.ServiceRecord{ID: "1", Name: "payments", Status: registry.StatusInactive, RegisteredAt: now}
	snapshot := []registry.ServiceRecord{inactive}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "payments"}, snapshot)

	assert.Empty(t, results)
}

func TestScore_ConfidenceClampedAtOne(t *testing.T) {
	idx := New()
	now := time.Now().UTC()
	rec := activeRecord("1", "payments", now, []string{"payments", "refunds", "billing"}, &registry.Manifest{
		Endpoints: []registry.ManifestEndpoint{{Path: "/payments/refunds/billing"}},
		Events:    []string{"payments", "refunds"},
	})
	snapshot := []registry.ServiceRecord{rec}
	idx.Rebuild(snapshot)

	results := idx.Score(Query{Text: "payments refunds billing payments refunds billing"}, snapshot)

	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].Confidence, 1.0)
}
