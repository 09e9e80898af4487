package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the lifecycle state of one model's circuit.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the circuit breaker. Zero values take defaults.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // consecutive half-open successes before closing (default 2)
	Cooldown         time.Duration // open duration before probing (default 60s)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// BreakerStatus is a point-in-time snapshot of one model's circuit.
type BreakerStatus struct {
	Model               string       `json:"model"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastFailure         time.Time    `json:"lastFailure,omitzero"`
}

// circuit tracks one model's failure history. Guarded by Breaker.mu.
type circuit struct {
	state       BreakerState
	failures    int // consecutive failures while closed or half-open
	successes   int // consecutive successes while half-open
	lastFailure time.Time
}

// Breaker wraps a Caller with per-model circuit breaking. Each model ID gets
// an independent circuit: one misbehaving backend never blocks the rest of
// the panel. While a circuit is open, calls fail fast with ErrCircuitOpen
// and no network attempt is made.
type Breaker struct {
	next   Caller
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit

	now func() time.Time // injectable for tests
}

// NewBreaker wraps next with circuit breaking.
func NewBreaker(next Caller, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		next:     next,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

func (b *Breaker) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	if err := b.before(modelID); err != nil {
		return "", err
	}
	out, err := b.next.Complete(ctx, modelID, prompt)
	b.after(modelID, err)
	return out, err
}

// before admits or rejects a call. An open circuit whose cooldown has
// elapsed transitions to half-open and admits a probe.
func (b *Breaker) before(modelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(modelID)
	if c.state != StateOpen {
		return nil
	}
	if b.now().Sub(c.lastFailure) < b.cfg.Cooldown {
		return ErrCircuitOpen
	}
	c.state = StateHalfOpen
	c.successes = 0
	b.logger.Info("circuit half-open, probing", "model", modelID)
	return nil
}

// after records the call outcome. The breaker trips on any failure,
// transient or not, since both kinds indicate the backend is not producing
// answers. A caller-side cancellation says nothing about the backend and
// leaves the circuit untouched.
func (b *Breaker) after(modelID string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(modelID)
	if err == nil {
		switch c.state {
		case StateHalfOpen:
			c.successes++
			if c.successes >= b.cfg.SuccessThreshold {
				c.state = StateClosed
				c.failures = 0
				c.successes = 0
				b.logger.Info("circuit closed", "model", modelID)
			}
		default:
			c.failures = 0
		}
		return
	}

	c.lastFailure = b.now()
	switch c.state {
	case StateHalfOpen:
		// A failed probe reopens immediately and restarts the cooldown.
		c.state = StateOpen
		c.successes = 0
		b.logger.Warn("circuit reopened after failed probe", "model", modelID, "error", err)
	default:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.state = StateOpen
			b.logger.Warn("circuit opened", "model", modelID, "failures", c.failures, "error", err)
		}
	}
}

// circuit returns the tracked circuit for a model, creating it closed.
// Caller must hold b.mu.
func (b *Breaker) circuit(modelID string) *circuit {
	c, ok := b.circuits[modelID]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[modelID] = c
	}
	return c
}

// Status snapshots every tracked circuit, sorted by nothing in particular;
// callers that care about order should sort.
func (b *Breaker) Status() []BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BreakerStatus, 0, len(b.circuits))
	for model, c := range b.circuits {
		out = append(out, BreakerStatus{
			Model:               model,
			State:               c.state,
			ConsecutiveFailures: c.failures,
			LastFailure:         c.lastFailure,
		})
	}
	return out
}
