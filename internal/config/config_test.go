package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Backend)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	assert.Equal(t, "gemma:2b", cfg.SynthesisModel)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 5, cfg.BreakerFailures)
	assert.Equal(t, 60*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 0.6, cfg.RequeryThreshold)
	assert.Equal(t, "delphi", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DELPHI_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DELPHI_MAX_CONCURRENCY", "8")
	t.Setenv("DELPHI_CACHE_TTL", "30m")
	t.Setenv("DELPHI_REQUERY_THRESHOLD", "0.75")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Backend)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 0.75, cfg.RequeryThreshold)
}

func TestMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("DELPHI_MAX_CONCURRENCY", "not-a-number")
	t.Setenv("DELPHI_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "anthropic" },
			wantErr: "DELPHI_BACKEND",
		},
		{
			name:    "openai without key",
			mutate:  func(c *Config) { c.Backend = "openai"; c.OpenAIAPIKey = "" },
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "empty synthesis model",
			mutate:  func(c *Config) { c.SynthesisModel = "" },
			wantErr: "DELPHI_SYNTHESIS_MODEL",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.MaxConcurrency = 0 },
			wantErr: "DELPHI_MAX_CONCURRENCY",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.RequeryThreshold = 1.5 },
			wantErr: "DELPHI_REQUERY_THRESHOLD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
