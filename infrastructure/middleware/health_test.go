package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthChecker_SnapshotReportsHealthy(t *testing.T) {
	h := NewHealthChecker("1.0.0")
	h.RegisterCheck("always-ok", func() error { return nil })

	status := h.Snapshot()

	if status.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", status.Status)
	}
	if status.Checks["always-ok"] != "ok" {
		t.Fatalf("checks[always-ok] = %q, want ok", status.Checks["always-ok"])
	}
}

func TestHealthChecker_SnapshotReportsUnhealthyOnFailingCheck(t *testing.T) {
	h := NewHealthChecker("1.0.0")
	h.RegisterCheck("store", func() error { return errors.New("unreachable") })

	status := h.Snapshot()

	if status.Status != "unhealthy" {
		t.Fatalf("status = %q, want unhealthy", status.Status)
	}
	if status.Checks["store"] != "unreachable" {
		t.Fatalf("checks[store] = %q, want unreachable", status.Checks["store"])
	}
}

func TestHealthChecker_HandlerWritesServiceUnavailableWhenUnhealthy(t *testing.T) {
	h := NewHealthChecker("1.0.0")
	h.RegisterCheck("store", func() error { return errors.New("down") })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.Handler()(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestLivenessHandler_AlwaysReportsAlive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	LivenessHandler()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestReadinessHandler_ReflectsReadyFlag(t *testing.T) {
	ready := false
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	ReadinessHandler(&ready)(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when not ready", rr.Code)
	}

	ready = true
	rr = httptest.NewRecorder()
	ReadinessHandler(&ready)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when ready", rr.Code)
	}
}

func TestRuntimeStats_ReportsGoroutineCount(t *testing.T) {
	stats := RuntimeStats()

	if _, ok := stats["goroutines"]; !ok {
		t.Fatalf("expected goroutines key in runtime stats")
	}
	if _, ok := stats["go_version"]; !ok {
		t.Fatalf("expected go_version key in runtime stats")
	}
}
