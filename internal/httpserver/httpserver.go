// Package httpserver implements the Coordinator's HTTP inbound surface:
// registration, routing, and the operational endpoints, sharing the same
// RoutingEngine and Dispatcher as the RPC surface.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/metrics"
	"github.com/r3e-network/coordinator/infrastructure/middleware"
	"github.com/r3e-network/coordinator/pkg/dispatch"
	"github.com/r3e-network/coordinator/pkg/envelope"
	"github.com/r3e-network/coordinator/pkg/registry"
	"github.com/r3e-network/coordinator/pkg/routing"
)

// Registry is the subset of registry.Registry the server depends on.
type Registry interface {
	Register(name, version, endpoint, healthPath string, capabilities []string) (registry.ServiceRecord, error)
	CompleteMigration(id string, manifest registry.Manifest) (registry.ServiceRecord, error)
	List(filter registry.Filter) []registry.ServiceRecord
	DeleteAll() int
}

// RoutingEngine is the subset of routing.Engine the server depends on.
type RoutingEngine interface {
	Route(ctx context.Context, env envelope.Envelope) (routing.Result, error)
}

// Dispatcher is the subset of dispatch.Dispatcher the server depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, env envelope.Envelope, candidates []routing.Candidate, policy dispatch.Policy) dispatch.Result
}

// Server wires the registration, routing, and operational HTTP endpoints.
type Server struct {
	router      *mux.Router
	registry    Registry
	engine      RoutingEngine
	dispatcher  Dispatcher
	policy      dispatch.Policy
	metrics     *metrics.Metrics
	logger      *logging.Logger
	health      *middleware.HealthChecker
	ready       bool
	startTime   time.Time
	httpTimeout time.Duration
}

// Config configures the HTTP server's middleware chain.
type Config struct {
	RateLimitPerSecond int
	RateLimitBurst     int
	ResponseTimeout    time.Duration
	CORSConfig         *middleware.CORSConfig
	Version            string
}

// New builds the HTTP server and registers its full route table.
func New(reg Registry, engine RoutingEngine, dispatcher Dispatcher, policy dispatch.Policy, m *metrics.Metrics, logger *logging.Logger, cfg Config) *Server {
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	health := middleware.NewHealthChecker(cfg.Version)
	health.RegisterCheck("registry", func() error {
		if reg == nil {
			return coordinatorerrors.Misconfiguration("registry", "registry dependency missing")
		}
		return nil
	})

	s := &Server{
		registry:    reg,
		engine:      engine,
		dispatcher:  dispatcher,
		policy:      policy,
		metrics:     m,
		logger:      logger,
		health:      health,
		ready:       true,
		startTime:   time.Now(),
		httpTimeout: cfg.ResponseTimeout,
	}
	s.router = s.buildRouter(cfg)
	return s
}

// Router returns the underlying http.Handler for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) *mux.Router {
	r := mux.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(s.logger)
	r.Use(recovery.Handler)
	r.Use(middleware.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware("coordinator", s.metrics))
	}
	r.Use(middleware.NewCORSMiddleware(cfg.CORSConfig).Handler)
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)

	if cfg.ResponseTimeout > 0 {
		r.Use(middleware.NewTimeoutMiddleware(cfg.ResponseTimeout).Handler)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, s.logger)

	r.Handle("/register", limiter.Handler(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/register/{id}/migration", limiter.Handler(http.HandlerFunc(s.handleCompleteMigration))).Methods(http.MethodPost)
	r.Handle("/route", limiter.Handler(http.HandlerFunc(s.handleRoute))).Methods(http.MethodPost)
	r.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/register/services", s.handleDeleteAllServices).Methods(http.MethodDelete)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", middleware.ReadinessHandler(&s.ready)).Methods(http.MethodGet)
	r.HandleFunc("/debug/runtime", s.handleRuntimeStats).Methods(http.MethodGet)

	return r
}

type registerRequest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Endpoint     string   `json:"endpoint"`
	HealthPath   string   `json:"healthPath"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.RecordRegistrationRequest()
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if s.metrics != nil {
			s.metrics.RecordRegistrationFailure()
		}
		writeError(w, coordinatorerrors.EnvelopeMalformed(err))
		return
	}

	record, err := s.registry.Register(req.Name, req.Version, req.Endpoint, req.HealthPath, req.Capabilities)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRegistrationFailure()
			s.metrics.RecordRegistryMutation("register", "failure")
		}
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRegistryMutation("register", "success")
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleCompleteMigration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var manifest registry.Manifest
	if err := json.NewDecoder(r.Body).Decode(&manifest); err != nil {
		writeError(w, coordinatorerrors.EnvelopeMalformed(err))
		return
	}

	record, err := s.registry.CompleteMigration(id, manifest)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRegistryMutation("completeMigration", "failure")
		}
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRegistryMutation("completeMigration", "success")
	}
	writeJSON(w, http.StatusOK, record)
}

type routeRequest struct {
	Query    string            `json:"query"`
	Metadata map[string]string `json:"metadata"`
	Context  map[string]string `json:"context"`
	TenantID string            `json:"tenantId"`
	UserID   string            `json:"userId"`
}

// routeCandidate is the wire projection of a single ranked candidate.
type routeCandidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type routingInfo struct {
	Method       routing.Method   `json:"method"`
	Candidates   []routeCandidate `json:"candidates"`
	ProcessingMs int64            `json:"processingMs"`
}

type dispatchInfo struct {
	Chosen     map[string]interface{}  `json:"chosen,omitempty"`
	Attempts   []dispatch.AttemptRecord `json:"attempts"`
	StopReason dispatch.StopReason      `json:"stopReason"`
}

type routeResponse struct {
	Success  bool         `json:"success"`
	Routing  routingInfo  `json:"routing"`
	Dispatch dispatchInfo `json:"dispatch"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coordinatorerrors.EnvelopeMalformed(err))
		return
	}

	env := envelope.Build("http", req.TenantID, req.UserID, req.Query, req.Metadata, req.Context, "")

	result, err := s.engine.Route(r.Context(), env)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRoutingRequest("none", "error")
		}
		writeError(w, err)
		return
	}

	cascade := s.dispatcher.Dispatch(r.Context(), env, result.Candidates, s.policy)

	candidates := make([]routeCandidate, len(result.Candidates))
	for i, c := range result.Candidates {
		candidates[i] = routeCandidate{Name: c.Record.Name, Confidence: c.Confidence, Reason: c.Reason}
	}

	resp := routeResponse{
		Success: cascade.Chosen != nil,
		Routing: routingInfo{
			Method:       result.Method,
			Candidates:   candidates,
			ProcessingMs: time.Since(start).Milliseconds(),
		},
		Dispatch: dispatchInfo{
			Attempts:   cascade.Attempts,
			StopReason: cascade.StopReason,
		},
	}
	if cascade.Chosen != nil {
		resp.Dispatch.Chosen = cascade.Chosen.Payload
	}

	if s.metrics != nil {
		status := "error"
		if resp.Success {
			status = "ok"
		}
		s.metrics.RecordRoutingRequest(string(result.Method), status)
	}

	writeJSON(w, http.StatusOK, resp)
}

// serviceView is the wire projection of a single registered service.
type serviceView struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Endpoint     string          `json:"endpoint"`
	Status       registry.Status `json:"status"`
	RegisteredAt time.Time       `json:"registeredAt"`
}

type listServicesResponse struct {
	Services []serviceView `json:"services"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{}
	includeAll := r.URL.Query().Get("includeAll") == "true"
	if !includeAll {
		filter.OnlyActive = true
	}

	records := s.registry.List(filter)
	services := make([]serviceView, len(records))
	for i, rec := range records {
		services[i] = serviceView{
			Name:         rec.Name,
			Version:      rec.Version,
			Endpoint:     rec.Endpoint,
			Status:       rec.Status,
			RegisteredAt: rec.RegisteredAt,
		}
	}
	writeJSON(w, http.StatusOK, listServicesResponse{Services: services})
}

func (s *Server) handleDeleteAllServices(w http.ResponseWriter, r *http.Request) {
	count := s.registry.DeleteAll()
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

type healthResponse struct {
	Status             string `json:"status"`
	Uptime             string `json:"uptime"`
	RegisteredServices int    `json:"registeredServices"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.Snapshot()
	status := "ok"
	if snapshot.Status != "healthy" {
		status = "degraded"
	}

	resp := healthResponse{
		Status:             status,
		Uptime:             time.Since(s.startTime).String(),
		RegisteredServices: len(s.registry.List(registry.Filter{})),
	}

	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, resp)
}

func (s *Server) handleRuntimeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.RuntimeStats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := coordinatorerrors.HTTPStatus(err)
	coordErr := coordinatorerrors.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if coordErr != nil {
		_ = json.NewEncoder(w).Encode(coordErr)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
}
