package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	infralogging "github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/pkg/dispatch"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/registry"
	"github.com/r3e-network/coordinator/pkg/routing"
)

func testLogger() *infralogging.Logger {
	return infralogging.New("coordinator-test", "error", "json")
}

type fakeRegistry struct {
	registerErr error
	record      registry.ServiceRecord
	services    []registry.ServiceRecord
}

func (f *fakeRegistry) Register(name, version, endpoint, healthPath string, capabilities []string) (registry.ServiceRecord, error) {
	if f.registerErr != nil {
		return registry.ServiceRecord{}, f.registerErr
	}
	return registry.ServiceRecord{ID: "svc-1", Name: name, Status: registry.StatusPendingMigration}, nil
}

func (f *fakeRegistry) CompleteMigration(id string, manifest registry.Manifest) (registry.ServiceRecord, error) {
	return f.record, nil
}

func (f *fakeRegistry) List(_ registry.Filter) []registry.ServiceRecord {
	return f.services
}

func (f *fakeRegistry) DeleteAll() int {
	return len(f.services)
}

type fakeEngine struct {
	result routing.Result
	err    error
}

func (f *fakeEngine) Route(_ context.Context, _ envelope.Envelope) (routing.Result, error) {
	return f.result, f.err
}

type fakeDispatcher struct {
	result dispatch.Result
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ envelope.Envelope, _ []routing.Candidate, _ dispatch.Policy) dispatch.Result {
	return f.result
}

func TestHandleRegister_Success(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(reg, &fakeEngine{}, &fakeDispatcher{}, dispatch.DefaultPolicy(), nil, testLogger(), Config{})

	body, _ := json.Marshal(registerRequest{Name: "payments", Version: "1.0.0", Endpoint: "http://payments:4000"})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleRegister_ConflictPropagatesError(t *testing.T) {
	reg := &fakeRegistry{registerErr: coordinatorerrors.NameConflict("payments")}
	srv := New(reg, &fakeEngine{}, &fakeDispatcher{}, dispatch.DefaultPolicy(), nil, testLogger(), Config{})

	body, _ := json.Marshal(registerRequest{Name: "payments"})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleRoute_ReturnsChosenPayload(t *testing.T) {
	engine := &fakeEngine{result: routing.Result{Method: routing.MethodKeyword}}
	dispatcher := &fakeDispatcher{result: dispatch.Result{
		Chosen:     &dispatch.Chosen{Payload: map[string]interface{}{"ok": true}},
		StopReason: dispatch.StopFoundGoodResponse,
	}}
	srv := New(&fakeRegistry{}, engine, dispatcher, dispatch.DefaultPolicy(), nil, testLogger(), Config{})

	body, _ := json.Marshal(routeRequest{Query: "route this"})
	req := httptest.NewRequest(http.MethodPost, "/route", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp routeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, true, resp.Dispatch.Chosen["ok"])
	assert.Equal(t, dispatch.StopFoundGoodResponse, resp.Dispatch.StopReason)
	assert.Equal(t, routing.MethodKeyword, resp.Routing.Method)
}

func TestHandleRoute_NoActiveServicesPropagatesError(t *testing.T) {
	engine := &fakeEngine{err: coordinatorerrors.NoActiveServices()}
	srv := New(&fakeRegistry{}, engine, &fakeDispatcher{}, dispatch.DefaultPolicy(), nil, testLogger(), Config{})

	body, _ := json.Marshal(routeRequest{Query: "route this"})
	req := httptest.NewRequest(http.MethodPost, "/route", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv := New(&fakeRegistry{}, &fakeEngine{}, &fakeDispatcher{}, dispatch.DefaultPolicy(), nil, testLogger(), Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListServices_Filters(t *testing.T) {
	reg := &fakeRegistry{services: []registry.ServiceRecord{{ID: "1", Name: "payments"}}}
	srv := New(reg, &fakeEngine{}, &fakeDispatcher{}, dispatch.DefaultPolicy(), nil, testLogger(), Config{})

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listServicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "payments", resp.Services[0].Name)
}
