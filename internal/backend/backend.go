// Package backend provides the model-caller abstraction and its resilience
// middleware. A Caller takes a model identifier and a prompt and returns
// text; everything else (transport, retry, circuit breaking) is layered
// around that single contract by constructor injection:
//
//	caller := backend.NewRetry(backend.NewBreaker(raw, bcfg, logger), rcfg, logger)
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Caller completes a prompt against a named model backend.
type Caller interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

// ErrCircuitOpen is returned without a network attempt while a backend's
// breaker is open. It is never retried.
var ErrCircuitOpen = errors.New("backend: circuit open")

// Error is a failed backend call. Transient errors (timeouts, connection
// failures, 5xx, 429) are retried; the rest are not.
type Error struct {
	Backend   string
	Status    int // HTTP status when applicable, else 0
	Msg       string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: status %d: %s", e.Backend, e.Status, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Msg, e.Err)
	}
	return fmt.Sprintf("backend %s: %s", e.Backend, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Transient
	}
	// Deadline overruns from the per-call context behave like timeouts.
	return errors.Is(err, context.DeadlineExceeded)
}

// transientStatus classifies an HTTP status for retry purposes.
func transientStatus(status int) bool {
	return status >= 500 || status == 429
}
