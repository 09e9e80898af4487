package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig tunes the retry layer. Zero values take defaults.
type RetryConfig struct {
	MaxAttempts  int           // total attempts including the first (default 3)
	BaseInterval time.Duration // first backoff delay (default 500ms)
	MaxInterval  time.Duration // backoff cap (default 8s)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 8 * time.Second
	}
	return c
}

// Retry wraps a Caller with bounded exponential-backoff retries. Only
// transient failures are retried; a non-transient error or an open circuit
// surfaces immediately.
type Retry struct {
	next   Caller
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetry wraps next with retries.
func NewRetry(next Caller, cfg RetryConfig, logger *slog.Logger) *Retry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retry{next: next, cfg: cfg.withDefaults(), logger: logger}
}

func (r *Retry) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.BaseInterval
	bo.MaxInterval = r.cfg.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotifyWithData(func() (string, error) {
		attempt++
		out, err := r.next.Complete(ctx, modelID, prompt)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrCircuitOpen) || !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1)), ctx), func(err error, next time.Duration) {
		r.logger.Warn("model call failed, retrying",
			"model", modelID, "attempt", attempt, "backoff", next, "error", err)
	})
}
