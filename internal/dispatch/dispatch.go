// Package dispatch fans a forecasting question out to every panel member
// and collects exactly one settled response per member. Failures are values:
// an agent that errors out is recorded as failed and its siblings run to
// completion regardless.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solstice-ai/delphi/internal/backend"
	"github.com/solstice-ai/delphi/internal/cache"
	"github.com/solstice-ai/delphi/internal/model"
)

// DefaultMaxConcurrency bounds simultaneous model calls when the caller
// does not configure a limit.
const DefaultMaxConcurrency = 4

// maxErrorLen truncates stored failure text so one giant stack trace does
// not bloat every result payload.
const maxErrorLen = 300

// agentPrompt is the persona prompt. It instructs the agent to answer in
// structured JSON and spells out the decline protocol, so an out-of-domain
// expert wastes no weight on a question it cannot help with.
const agentPrompt = `You are %s. %s You are given curated context snippets and a mission question.
Use ONLY the provided context. If you have meaningful insights, respond in JSON with keys: analysis (string), probability (0-1 float), confidence (0-1 float), recommendation (string).
If the topic is outside your domain expertise or context provides insufficient relevant information for your specialty, you may DECLINE by responding with JSON: {"declined": true, "reason": "brief explanation"}.
Context:
%s

Question: %s
`

// Dispatcher runs the panel against the resilient model caller with a
// cache-first policy.
type Dispatcher struct {
	caller backend.Caller
	cache  *cache.Store
	logger *slog.Logger
	limit  int
}

// New creates a Dispatcher. maxConcurrency <= 0 takes the default.
func New(caller backend.Caller, store *cache.Store, maxConcurrency int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Dispatcher{caller: caller, cache: store, logger: logger, limit: maxConcurrency}
}

// Limit returns the configured concurrency bound.
func (d *Dispatcher) Limit() int { return d.limit }

// Prompt renders the persona prompt for one agent.
func Prompt(profile model.AgentProfile, contextText, question string) string {
	if contextText == "" {
		contextText = "No context available."
	}
	return fmt.Sprintf(agentPrompt, profile.Name, profile.Persona, contextText, question)
}

// Dispatch asks every panel member the question concurrently and returns one
// response per member, in panel order. Cached answers (including cached
// declines) skip the model entirely. Cancelling ctx abandons in-flight
// calls; already-settled members keep their responses.
func (d *Dispatcher) Dispatch(ctx context.Context, panel model.Panel, q model.Question, contextText string) []model.AgentResponse {
	responses := make([]model.AgentResponse, len(panel))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(panel), d.limit))

	for i, profile := range panel {
		g.Go(func() error {
			responses[i] = d.callAgent(gctx, profile, q, contextText)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

// callAgent resolves one panel member: cache hit, fresh model call, or a
// recorded failure.
func (d *Dispatcher) callAgent(ctx context.Context, profile model.AgentProfile, q model.Question, contextText string) model.AgentResponse {
	start := time.Now()

	entry, hit, err := d.cache.GetOrFill(ctx, q.Hash, profile.Name, func(fctx context.Context) (cache.Entry, error) {
		raw, err := d.caller.Complete(fctx, profile.Model, Prompt(profile, contextText, q.Text))
		if err != nil {
			return cache.Entry{}, err
		}
		brief, declined, reason := model.ParseAgentReply(raw)
		return cache.Entry{
			Brief:         brief,
			Raw:           raw,
			Declined:      declined,
			DeclineReason: reason,
		}, nil
	})
	if err != nil {
		d.logger.Warn("agent call failed",
			"agent", profile.Name, "model", profile.Model, "error", err)
		return model.AgentResponse{
			Agent:   profile.Name,
			Model:   profile.Model,
			Status:  model.StatusFailed,
			Error:   truncate(err.Error(), maxErrorLen),
			Latency: time.Since(start),
		}
	}

	resp := entryResponse(profile, entry)
	resp.Cached = hit
	resp.Latency = time.Since(start)
	if hit {
		d.logger.Debug("cache hit", "agent", profile.Name)
	}
	return resp
}

// Requery re-invokes one agent with an expanded prompt, replacing its cached
// entry so later runs see the deeper answer. A failed requery is reported
// failed and leaves the original cached entry alone.
func (d *Dispatcher) Requery(ctx context.Context, profile model.AgentProfile, q model.Question, prompt string) model.AgentResponse {
	start := time.Now()

	raw, err := d.caller.Complete(ctx, profile.Model, prompt)
	if err != nil {
		d.logger.Warn("requery failed",
			"agent", profile.Name, "model", profile.Model, "error", err)
		return model.AgentResponse{
			Agent:   profile.Name,
			Model:   profile.Model,
			Status:  model.StatusFailed,
			Error:   truncate(err.Error(), maxErrorLen),
			Latency: time.Since(start),
		}
	}

	brief, declined, reason := model.ParseAgentReply(raw)
	entry := cache.Entry{Brief: brief, Raw: raw, Declined: declined, DeclineReason: reason}
	if err := d.cache.Put(ctx, q.Hash, profile.Name, entry); err != nil {
		d.logger.Warn("requery cache write failed", "agent", profile.Name, "error", err)
	}

	resp := entryResponse(profile, entry)
	resp.Latency = time.Since(start)
	return resp
}

func entryResponse(profile model.AgentProfile, e cache.Entry) model.AgentResponse {
	resp := model.AgentResponse{
		Agent: profile.Name,
		Model: profile.Model,
		Raw:   e.Raw,
	}
	if e.Declined {
		resp.Status = model.StatusDeclined
		resp.DeclineReason = e.DeclineReason
		return resp
	}
	resp.Status = model.StatusSucceeded
	resp.Brief = e.Brief
	return resp
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
