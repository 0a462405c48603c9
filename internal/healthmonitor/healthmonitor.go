// Package healthmonitor implements the optional background prober that
// demotes unresponsive active services back to inactive through the
// Registry's normal mutation path.
package healthmonitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/coordinator/infrastructure/httputil"
	"github.com/r3e-network/coordinator/infrastructure/logging"
	"github.com/r3e-network/coordinator/infrastructure/metrics"
	"github.com/r3e-network/coordinator/pkg/registry"
)

// Registry is the subset of registry.Registry the monitor depends on.
type Registry interface {
	List(filter registry.Filter) []registry.ServiceRecord
	Deactivate(id string) (registry.ServiceRecord, error)
	MarkHealthChecked(id string, at time.Time)
}

// Config configures the prober's schedule and failure tolerance.
type Config struct {
	Enabled          bool
	Interval         time.Duration
	FailureThreshold int
	ProbeTimeout     time.Duration
}

// Monitor periodically probes every active ServiceRecord's health endpoint
// and deactivates services that fail FailureThreshold consecutive probes.
type Monitor struct {
	cfg      Config
	registry Registry
	client   *http.Client
	metrics  *metrics.Metrics
	logger   *logging.Logger

	cron *cron.Cron

	mu       sync.Mutex
	failures map[string]int
}

// New builds a Monitor. It does not start probing until Start is called.
func New(cfg Config, reg Registry, m *metrics.Metrics, logger *logging.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		registry: reg,
		client:   httputil.CopyHTTPClientWithTimeout(http.DefaultClient, cfg.ProbeTimeout, false),
		metrics:  m,
		logger:   logger,
		failures: make(map[string]int),
	}
}

// Start schedules the periodic probe. A no-op when the monitor is disabled.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.cfg.Interval)
	if _, err := m.cron.AddFunc(spec, func() { m.probeAll(ctx) }); err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight probe round.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

func (m *Monitor) probeAll(ctx context.Context) {
	records := m.registry.List(registry.Filter{OnlyActive: true})

	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		go func(rec registry.ServiceRecord) {
			defer wg.Done()
			m.probeOne(ctx, rec)
		}(rec)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, rec registry.ServiceRecord) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	healthy := m.probe(probeCtx, rec.Endpoint+rec.HealthPath)
	now := time.Now().UTC()
	m.registry.MarkHealthChecked(rec.ID, now)

	if healthy {
		m.mu.Lock()
		delete(m.failures, rec.ID)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.failures[rec.ID]++
	count := m.failures[rec.ID]
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Warn(ctx, "health probe failed", map[string]interface{}{
			"service": rec.Name, "endpoint": rec.Endpoint, "consecutiveFailures": count,
		})
	}
	if m.metrics != nil {
		m.metrics.RecordError("healthmonitor", "probe_failed", rec.Name)
	}

	if count < m.cfg.FailureThreshold {
		return
	}

	if _, err := m.registry.Deactivate(rec.ID); err != nil {
		if m.logger != nil {
			m.logger.Error(ctx, "failed to deactivate unhealthy service", err, map[string]interface{}{"service": rec.Name})
		}
		return
	}

	m.mu.Lock()
	delete(m.failures, rec.ID)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Warn(ctx, "service deactivated after consecutive health probe failures", map[string]interface{}{
			"service": rec.Name, "threshold": m.cfg.FailureThreshold,
		})
	}
}

func (m *Monitor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
