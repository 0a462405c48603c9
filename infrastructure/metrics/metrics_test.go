package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordHTTPRequest("test-service", "GET", "/api/test", "200", 100*time.Millisecond)
	m.RecordHTTPRequest("test-service", "POST", "/api/test", "201", 200*time.Millisecond)
	m.RecordHTTPRequest("test-service", "GET", "/api/test", "404", 50*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordError("test-service", "validation", "register")
	m.RecordError("test-service", "dispatch", "route")
}

func TestSetRegisteredServices(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.SetRegisteredServices("active", 5)
	m.SetRegisteredServices("pending_migration", 1)
	m.SetRegisteredServices("inactive", 0)
}

func TestRecordRegistryMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordRegistryMutation("register", "success")
	m.RecordRegistryMutation("completeMigration", "error")
}

func TestRecordRouting(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordRouting("ai", 50*time.Millisecond)
	m.RecordRouting("keyword", 2*time.Millisecond)
	m.RecordRoutingFallback()
	m.SetAICircuitState(0)
}

func TestRecordRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordRegistrationRequest()
	m.RecordRegistrationRequest()
	m.RecordRegistrationFailure()

	if got := testutil.ToFloat64(m.RegistrationRequests); got != 2 {
		t.Errorf("RegistrationRequests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RegistrationFailures); got != 1 {
		t.Errorf("RegistrationFailures = %v, want 1", got)
	}
}

func TestRecordRoutingRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordRoutingRequest("ai", "ok")
	m.RecordRoutingRequest("keyword", "error")

	if got := testutil.ToFloat64(m.RoutingRequests.WithLabelValues("ai", "ok")); got != 1 {
		t.Errorf("RoutingRequests{ai,ok} = %v, want 1", got)
	}
}

func TestRecordCascadeSuccessFallbackLabelsByRank(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordCascadeSuccess(2)

	if got := testutil.ToFloat64(m.CascadeFallbackUsed.WithLabelValues("2")); got != 1 {
		t.Errorf("CascadeFallbackUsed{rank=2} = %v, want 1", got)
	}
}

func TestRecordCascade(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordCascadeAttempts("success", 1)
	m.RecordCascadeSuccess(0)
	m.RecordCascadeAttempts("success", 3)
	m.RecordCascadeSuccess(2)
	m.RecordCascadeAttempts("exhausted", 5)
	m.RecordCascadeExhausted()
}

func TestUpdateUptime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)
	startTime := time.Now().Add(-1 * time.Hour)

	m.UpdateUptime(startTime)
}

func TestInFlightCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
	m.DecrementInFlight()
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}
