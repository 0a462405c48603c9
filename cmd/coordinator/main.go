// Package main provides the Coordinator entry point: it wires the registry,
// rankers, routing engine, dispatcher, changelog, and the HTTP/RPC inbound
// servers, then runs until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/r3e-network/coordinator/infrastructure/httputil"
	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/metrics"
	"github.com/r3e-network/coordinator/infrastructure/middleware"
	"github.com/r3e-network/coordinator/infrastructure/ratelimit"
	"github.com/r3e-network/coordinator/infrastructure/resilience"
	"github.com/r3e-network/coordinator/internal/config"
	"github.com/r3e-network/coordinator/internal/healthmonitor"
	"github.com/r3e-network/coordinator/internal/httpserver"
	"github.com/r3e-network/coordinator/internal/rpcserver"
	"github.com/r3e-network/coordinator/pkg/airanker"
	"github.com/r3e-network/coordinator/pkg/changelog"
	"github.com/r3e-network/coordinator/pkg/dispatch"
	"github.com/r3e-network/coordinator/pkg/keywordindex"
	"github.com/r3e-network/coordinator/pkg/registry"
	"github.com/r3e-network/coordinator/pkg/routing"
	"github.com/r3e-network/coordinator/pkg/transport/httpclient"
	"github.com/r3e-network/coordinator/pkg/transport/rpcclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("CRITICAL: invalid configuration: %v", err)
	}

	logger := logging.New("coordinator", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New("coordinator")

	index := keywordindex.New()

	var store registry.Store
	if cfg.Registry.StoreURL != "" {
		sqlStore, err := registry.NewSQLStore(cfg.Registry.StoreURL)
		if err != nil {
			log.Fatalf("CRITICAL: failed to connect registry store: %v", err)
		}
		store = sqlStore
	}

	var mirror changelog.Mirror
	if cfg.Changelog.StoreURL != "" {
		redisMirror, err := changelog.NewRedisMirror(cfg.Changelog.StoreURL, "", int64(cfg.Changelog.MaxEntries))
		if err != nil {
			logger.Warn(context.Background(), "changelog redis mirror disabled", map[string]interface{}{"error": err.Error()})
		} else {
			mirror = redisMirror
		}
	}
	changes := changelog.New(cfg.Changelog.MaxEntries, mirror, logger)

	reg := registry.New(index, changes, store)

	var ranker routing.AIRanker
	if cfg.AI.Enabled {
		breaker := resilience.New(resilience.Config{
			MaxFailures: cfg.AI.CircuitMaxFailure,
			Timeout:     cfg.AI.CircuitTimeout,
			OnStateChange: func(from, to resilience.State) {
				logger.Info(context.Background(), "ai circuit breaker state change", map[string]interface{}{"from": from.String(), "to": to.String()})
				m.SetAICircuitState(int(to))
			},
		})
		provider := airanker.NewAnthropicProvider(cfg.AI.ProviderKey)
		aiCfg := airanker.DefaultConfig()
		aiCfg.Model = cfg.AI.Model
		aiCfg.Temperature = cfg.AI.Temperature
		aiCfg.MaxCandidates = cfg.AI.MaxCandidates
		aiCfg.MinConfidence = cfg.AI.MinConfidence
		aiCfg.RequestTimeout = cfg.AI.RequestTimeout
		ranker = airanker.New(aiCfg, provider, breaker, logger)
	}

	engine := routing.New(reg, ranker, index, cfg.AI.Enabled, cfg.AI.FallbackEnabled, m, logger)

	outboundBase := &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}
	httpTransport := httpclient.New(outboundBase, ratelimit.RateLimitConfig{
		RequestsPerSecond: cfg.Outbound.RateLimitPerSecond,
		Burst:             cfg.Outbound.RateLimitBurst,
	})
	rpcTransport := rpcclient.New()
	defer rpcTransport.Close()

	dispatcher := dispatch.New(httpTransport, rpcTransport, m, logger)

	policy := dispatch.Policy{
		MaxAttempts:            cfg.Cascade.MaxAttempts,
		PerAttemptTimeout:      cfg.Cascade.AttemptTimeout,
		MinQualityScore:        cfg.Cascade.MinQualityScore,
		StopOnFirst:            cfg.Cascade.StopOnFirst,
		RequireRelevantFields:  cfg.Cascade.RequireRelevantFields,
		RejectEmptyCollections: cfg.Cascade.RejectEmptyCollection,
	}

	monitor := healthmonitor.New(healthmonitor.Config{
		Enabled:          cfg.Health.Enabled,
		Interval:         cfg.Health.Interval,
		FailureThreshold: cfg.Health.FailureThreshold,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
	}, reg, m, logger)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	if err := monitor.Start(rootCtx); err != nil {
		log.Fatalf("CRITICAL: failed to start health monitor: %v", err)
	}

	httpSrv := httpserver.New(reg, engine, dispatcher, policy, m, logger, httpserver.Config{
		ResponseTimeout: 60 * time.Second,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpSrv.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	rpcSrv := rpcserver.New(reg, engine, httpTransport, rpcTransport, m, logger)
	rpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCPort))
	if err != nil {
		log.Fatalf("CRITICAL: failed to listen on RPC port %d: %v", cfg.RPCPort, err)
	}

	shutdown := middleware.NewGracefulShutdown(server, cfg.ShutdownTimeout)
	shutdown.OnShutdown(func() {
		cancelRoot()
		monitor.Stop()
		rpcSrv.GracefulStop()
		if closer, ok := mirror.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	})
	shutdown.ListenForSignals()

	go func() {
		logger.Info(context.Background(), "rpc server starting", map[string]interface{}{"port": cfg.RPCPort})
		if err := rpcSrv.Serve(rpcListener); err != nil {
			logger.Error(context.Background(), "rpc server exited", err, nil)
		}
	}()

	go func() {
		logger.Info(context.Background(), "http server starting", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(context.Background(), "http server exited", err)
		}
	}()

	shutdown.Wait()
	logger.Info(context.Background(), "coordinator shut down cleanly", nil)
}
