// Package config loads and validates engine configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Model backend settings.
	Backend        string // "ollama" or "openai"
	OllamaURL      string
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	SynthesisModel string // model used for the final verdict
	PerCallTimeout time.Duration

	// Panel settings.
	PanelPath      string // JSON panel file; empty means the built-in corps
	MaxConcurrency int

	// Resilience settings.
	RetryAttempts   int
	RetryBase       time.Duration
	RetryMax        time.Duration
	BreakerFailures int
	BreakerProbes   int
	BreakerCooldown time.Duration

	// Cache settings.
	CachePath       string
	CacheTTL        time.Duration
	CleanupInterval time.Duration

	// Reputation settings.
	DatabaseURL string // Postgres DSN; empty disables reputation tracking

	// Review settings.
	RequeryThreshold float64
	MaxFollowUps     int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Backend:          envStr("DELPHI_BACKEND", "ollama"),
		OllamaURL:        envStr("OLLAMA_URL", "http://localhost:11434"),
		OpenAIBaseURL:    envStr("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		SynthesisModel:   envStr("DELPHI_SYNTHESIS_MODEL", "gemma:2b"),
		PerCallTimeout:   envDuration("DELPHI_CALL_TIMEOUT", 60*time.Second),
		PanelPath:        envStr("DELPHI_PANEL_FILE", ""),
		MaxConcurrency:   envInt("DELPHI_MAX_CONCURRENCY", 4),
		RetryAttempts:    envInt("DELPHI_RETRY_ATTEMPTS", 3),
		RetryBase:        envDuration("DELPHI_RETRY_BASE", 500*time.Millisecond),
		RetryMax:         envDuration("DELPHI_RETRY_MAX", 8*time.Second),
		BreakerFailures:  envInt("DELPHI_BREAKER_FAILURES", 5),
		BreakerProbes:    envInt("DELPHI_BREAKER_PROBES", 2),
		BreakerCooldown:  envDuration("DELPHI_BREAKER_COOLDOWN", 60*time.Second),
		CachePath:        envStr("DELPHI_CACHE_PATH", "data/agent_cache.db"),
		CacheTTL:         envDuration("DELPHI_CACHE_TTL", 24*time.Hour),
		CleanupInterval:  envDuration("DELPHI_CACHE_CLEANUP_INTERVAL", time.Hour),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		RequeryThreshold: envFloat("DELPHI_REQUERY_THRESHOLD", 0.6),
		MaxFollowUps:     envInt("DELPHI_MAX_FOLLOW_UPS", 3),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     envBool("DELPHI_OTEL_INSECURE", false),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "delphi"),
		LogLevel:         envStr("DELPHI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c Config) Validate() error {
	switch c.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("config: DELPHI_BACKEND must be \"ollama\" or \"openai\", got %q", c.Backend)
	}
	if c.Backend == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required for the openai backend")
	}
	if c.SynthesisModel == "" {
		return fmt.Errorf("config: DELPHI_SYNTHESIS_MODEL is required")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("config: DELPHI_MAX_CONCURRENCY must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: DELPHI_RETRY_ATTEMPTS must be positive")
	}
	if c.RequeryThreshold < 0 || c.RequeryThreshold > 1 {
		return fmt.Errorf("config: DELPHI_REQUERY_THRESHOLD must be in [0,1]")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
