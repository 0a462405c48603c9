// Package config provides the Coordinator's env-driven configuration loader.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/runtime"
)

// AIConfig configures the AIRanker.
type AIConfig struct {
	Enabled           bool
	ProviderKey       string
	Model             string
	Temperature       float64
	MaxCandidates     int
	MinConfidence     float64
	RequestTimeout    time.Duration
	FallbackEnabled   bool
	CircuitMaxFailure int
	CircuitTimeout    time.Duration
}

// CascadeConfig configures the Dispatcher's default policy.
type CascadeConfig struct {
	MaxAttempts           int
	AttemptTimeout        time.Duration
	MinQualityScore       float64
	StopOnFirst           bool
	RequireRelevantFields bool
	RejectEmptyCollection bool
}

// RegistryConfig configures the optional persisted service store.
type RegistryConfig struct {
	StoreURL string
}

// ChangelogConfig configures the bounded event ring and its optional mirror.
type ChangelogConfig struct {
	MaxEntries int
	StoreURL   string
}

// HealthMonitorConfig configures the optional background health prober.
type HealthMonitorConfig struct {
	Enabled            bool
	Interval           time.Duration
	FailureThreshold   int
	ProbeTimeout       time.Duration
}

// OutboundConfig throttles the Coordinator's own outbound HTTP calls to
// backend services, protecting a slow candidate from being hammered by a
// wide cascade. Zero RateLimitPerSecond disables throttling.
type OutboundConfig struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Config is the fully resolved, validated Coordinator configuration.
type Config struct {
	HTTPPort        int
	RPCPort         int
	ShutdownTimeout time.Duration

	AI          AIConfig
	Cascade     CascadeConfig
	Registry    RegistryConfig
	Changelog   ChangelogConfig
	Health      HealthMonitorConfig
	Outbound    OutboundConfig

	LogLevel  string
	LogFormat string
}

// Load resolves configuration from the environment (and, in development, an
// optional .env file), validating every value. It fails fast with a
// MisconfigurationOnStartup error when a required value is malformed.
func Load() (*Config, error) {
	if runtime.IsDevelopment() {
		_ = godotenv.Load()
	}

	cfg := &Config{
		HTTPPort:        runtime.ResolveInt(0, "HTTP_PORT", 3000),
		RPCPort:         runtime.ResolveInt(0, "RPC_PORT", 50051),
		ShutdownTimeout: runtime.ResolveDuration(0, "SHUTDOWN_TIMEOUT_MS", 30*time.Second),

		AI: AIConfig{
			Enabled:           runtime.ResolveBool(false, "AI_ENABLED"),
			ProviderKey:       runtime.ResolveString("", "AI_PROVIDER_KEY", ""),
			Model:             runtime.ResolveString("", "AI_MODEL", "claude-3-5-sonnet-latest"),
			Temperature:       resolveFloat("AI_TEMPERATURE", 0.1),
			MaxCandidates:     runtime.ResolveInt(0, "AI_MAX_CANDIDATES", 10),
			MinConfidence:     resolveFloat("AI_MIN_CONFIDENCE", 0.3),
			RequestTimeout:    runtime.ResolveDuration(0, "AI_REQUEST_TIMEOUT_MS", 10*time.Second),
			FallbackEnabled:   runtime.ResolveBool(true, "AI_FALLBACK_ENABLED"),
			CircuitMaxFailure: runtime.ResolveInt(0, "AI_CIRCUIT_MAX_FAILURES", 5),
			CircuitTimeout:    runtime.ResolveDuration(0, "AI_CIRCUIT_TIMEOUT_MS", 30*time.Second),
		},

		Cascade: CascadeConfig{
			MaxAttempts:           runtime.ResolveInt(0, "CASCADE_MAX_ATTEMPTS", 5),
			AttemptTimeout:        runtime.ResolveDuration(0, "CASCADE_ATTEMPT_TIMEOUT_MS", 5*time.Second),
			MinQualityScore:       resolveFloat("CASCADE_MIN_QUALITY", 0.3),
			StopOnFirst:           runtime.ResolveBool(true, "CASCADE_STOP_ON_FIRST"),
			RequireRelevantFields: runtime.ResolveBool(true, "CASCADE_REQUIRE_RELEVANT_FIELDS"),
			RejectEmptyCollection: runtime.ResolveBool(true, "CASCADE_REJECT_EMPTY_COLLECTIONS"),
		},

		Registry: RegistryConfig{
			StoreURL: runtime.ResolveString("", "REGISTRY_STORE_URL", ""),
		},

		Changelog: ChangelogConfig{
			MaxEntries: runtime.ResolveInt(0, "CHANGELOG_MAX_ENTRIES", 1000),
			StoreURL:   runtime.ResolveString("", "CHANGELOG_STORE_URL", ""),
		},

		Health: HealthMonitorConfig{
			Enabled:          runtime.ResolveBool(false, "HEALTHCHECK_ENABLED"),
			Interval:         runtime.ResolveDuration(0, "HEALTHCHECK_INTERVAL_MS", 30*time.Second),
			FailureThreshold: runtime.ResolveInt(0, "HEALTHCHECK_FAILURE_THRESHOLD", 5),
			ProbeTimeout:     runtime.ResolveDuration(0, "HEALTHCHECK_PROBE_TIMEOUT_MS", 5*time.Second),
		},

		Outbound: OutboundConfig{
			RateLimitPerSecond: resolveFloat("OUTBOUND_RATE_LIMIT_PER_SECOND", 0),
			RateLimitBurst:     runtime.ResolveInt(0, "OUTBOUND_RATE_LIMIT_BURST", 0),
		},

		LogLevel:  runtime.ResolveString("", "LOG_LEVEL", "info"),
		LogFormat: runtime.ResolveString("", "LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return coordinatorerrors.Misconfiguration("HTTP_PORT", fmt.Sprintf("must be 1-65535, got %d", c.HTTPPort))
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return coordinatorerrors.Misconfiguration("RPC_PORT", fmt.Sprintf("must be 1-65535, got %d", c.RPCPort))
	}
	if c.Cascade.MinQualityScore < 0 || c.Cascade.MinQualityScore > 1 {
		return coordinatorerrors.Misconfiguration("CASCADE_MIN_QUALITY", fmt.Sprintf("must be in [0,1], got %v", c.Cascade.MinQualityScore))
	}
	if c.Cascade.MaxAttempts <= 0 {
		return coordinatorerrors.Misconfiguration("CASCADE_MAX_ATTEMPTS", fmt.Sprintf("must be > 0, got %d", c.Cascade.MaxAttempts))
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return coordinatorerrors.Misconfiguration("AI_MIN_CONFIDENCE", fmt.Sprintf("must be in [0,1], got %v", c.AI.MinConfidence))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		return coordinatorerrors.Misconfiguration("AI_TEMPERATURE", fmt.Sprintf("must be in [0,1], got %v", c.AI.Temperature))
	}
	if c.AI.Enabled && strings.TrimSpace(c.AI.ProviderKey) == "" {
		return coordinatorerrors.Misconfiguration("AI_PROVIDER_KEY", "required when AI_ENABLED=true")
	}
	if c.Changelog.MaxEntries <= 0 {
		return coordinatorerrors.Misconfiguration("CHANGELOG_MAX_ENTRIES", fmt.Sprintf("must be > 0, got %d", c.Changelog.MaxEntries))
	}
	return nil
}

func resolveFloat(envKey string, fallback float64) float64 {
	return runtime.ResolveFloat(0, envKey, fallback)
}
