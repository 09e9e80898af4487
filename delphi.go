// Package delphi is the public API for embedding the Delphi forecasting
// engine.
//
// Consumers construct an Engine and either run single forecasts or serve the
// MCP protocol:
//
//	eng, err := delphi.New(
//	    delphi.WithLogger(logger),
//	    delphi.WithContextProvider(myRetriever),
//	)
//	if err != nil { ... }
//	result, err := eng.Forecast(ctx, "Will Brent crude close above $90 before July?")
//
// The import graph enforces a strict no-cycle rule: delphi (root) imports
// internal/*, but internal/* never imports delphi (root). Public types
// (Result, Consensus, etc.) are standalone structs with no internal imports;
// conversion helpers (toPublicResult and friends) live here because this is
// the only file that sees both sides of the boundary.
package delphi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/solstice-ai/delphi/internal/backend"
	"github.com/solstice-ai/delphi/internal/cache"
	"github.com/solstice-ai/delphi/internal/config"
	"github.com/solstice-ai/delphi/internal/dispatch"
	"github.com/solstice-ai/delphi/internal/forecast"
	"github.com/solstice-ai/delphi/internal/mcp"
	"github.com/solstice-ai/delphi/internal/model"
	"github.com/solstice-ai/delphi/internal/panel"
	"github.com/solstice-ai/delphi/internal/reputation"
	"github.com/solstice-ai/delphi/internal/review"
	"github.com/solstice-ai/delphi/internal/synthesis"
	"github.com/solstice-ai/delphi/internal/telemetry"
)

// ErrInsufficientPanel is returned by Forecast when fewer than two panel
// members produced a usable answer. The accompanying Result still carries
// the per-agent responses for diagnosis.
var ErrInsufficientPanel = forecast.ErrInsufficientPanel

// Engine is the forecasting engine lifecycle. Construct with New(), run
// forecasts with Forecast(), serve MCP with ServeMCP(), and always call
// Shutdown(). Engine has no public fields — use New() options to configure.
type Engine struct {
	cfg          config.Config
	breaker      *backend.Breaker
	store        *cache.Store
	tracker      *reputation.Tracker // nil when no database is configured
	forecasts    *forecast.Service
	mcpSrv       *mcp.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the engine. It loads configuration, opens the response
// cache, connects to the reputation database when one is configured, and
// wires the panel pipeline. It does NOT start any goroutines — call Run()
// or ServeMCP() for the background cache maintenance loop.
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.cachePath != "" {
		cfg.CachePath = o.cachePath
	}
	if o.panelFile != "" {
		cfg.PanelPath = o.panelFile
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("delphi starting", "version", version, "backend", cfg.Backend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Model backend: configured caller, wrapped in circuit breaking and
	// retries. The breaker sits inside the retry loop so an open circuit
	// ends the retries immediately.
	var raw backend.Caller
	switch {
	case o.modelCaller != nil:
		raw = o.modelCaller
	case cfg.Backend == "openai":
		raw = backend.NewOpenAICaller(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.PerCallTimeout)
	default:
		raw = backend.NewOllamaCaller(cfg.OllamaURL, cfg.PerCallTimeout)
	}
	breaker := backend.NewBreaker(raw, backend.BreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		SuccessThreshold: cfg.BreakerProbes,
		Cooldown:         cfg.BreakerCooldown,
	}, logger)
	caller := backend.NewRetry(breaker, backend.RetryConfig{
		MaxAttempts:  cfg.RetryAttempts,
		BaseInterval: cfg.RetryBase,
		MaxInterval:  cfg.RetryMax,
	}, logger)

	members, err := panel.Load(cfg.PanelPath)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("panel: %w", err)
	}
	logger.Info("panel loaded", "members", len(members), "source", panelSource(cfg.PanelPath))

	store, err := cache.Open(cfg.CachePath, cfg.CacheTTL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("cache: %w", err)
	}

	var tracker *reputation.Tracker
	if cfg.DatabaseURL != "" {
		tracker, err = reputation.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = store.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("reputation: %w", err)
		}
	} else {
		logger.Info("reputation: disabled (no DATABASE_URL), agents weigh in at neutral")
	}

	var provider forecast.ContextProvider
	if o.contextProvider != nil {
		provider = &providerAdapter{p: o.contextProvider}
	}

	d := dispatch.New(caller, store, cfg.MaxConcurrency, logger)
	r := review.New(d, review.Config{
		RequeryThreshold: cfg.RequeryThreshold,
		MaxFollowUps:     cfg.MaxFollowUps,
	}, logger)
	syn := synthesis.New(caller, cfg.SynthesisModel, logger)
	forecasts := forecast.New(members, d, r, syn, tracker, provider, logger)

	eng := &Engine{
		cfg:          cfg,
		breaker:      breaker,
		store:        store,
		tracker:      tracker,
		forecasts:    forecasts,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	eng.mcpSrv = mcp.New(forecasts, tracker, breaker, logger, version)
	return eng, nil
}

// Forecast runs the full panel on one question.
func (e *Engine) Forecast(ctx context.Context, question string) (Result, error) {
	res, err := e.forecasts.Run(ctx, question)
	if err != nil && !errors.Is(err, ErrInsufficientPanel) {
		return Result{}, err
	}
	return toPublicResult(res), err
}

// RecordOutcome grades a resolved prediction by its per-agent id
// ("<prediction_id>:<agent>"). Outcome is 1 if the event happened, 0 if
// not; fractional values are allowed for partial resolutions.
func (e *Engine) RecordOutcome(ctx context.Context, predictionID string, outcome float64) error {
	if e.tracker == nil {
		return fmt.Errorf("delphi: reputation tracking is not configured")
	}
	return e.tracker.RecordOutcome(ctx, predictionID, outcome)
}

// ReputationReport returns the full performance picture for one agent.
func (e *Engine) ReputationReport(ctx context.Context, agent string) (ReputationReport, error) {
	if e.tracker == nil {
		return ReputationReport{}, fmt.Errorf("delphi: reputation tracking is not configured")
	}
	rep, err := e.tracker.Report(ctx, agent)
	if err != nil {
		return ReputationReport{}, err
	}
	return ReputationReport(rep), nil
}

// BreakerStatus snapshots the circuit state of every backing model seen so
// far this process.
func (e *Engine) BreakerStatus() []BreakerStatus {
	statuses := e.breaker.Status()
	out := make([]BreakerStatus, len(statuses))
	for i, s := range statuses {
		out[i] = BreakerStatus{
			Model:               s.Model,
			State:               string(s.State),
			ConsecutiveFailures: s.ConsecutiveFailures,
			LastFailure:         s.LastFailure,
		}
	}
	return out
}

// Run starts the background cache maintenance loop and blocks until ctx is
// cancelled, then shuts down. Use this when the process only answers
// programmatic Forecast calls.
func (e *Engine) Run(ctx context.Context) error {
	go e.cacheCleanupLoop(ctx)
	<-ctx.Done()
	return e.Shutdown(context.Background())
}

// ServeMCP serves the MCP protocol over stdin/stdout until the transport
// closes or ctx is cancelled, then shuts down.
func (e *Engine) ServeMCP(ctx context.Context) error {
	go e.cacheCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.mcpSrv.ServeStdio()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	if err := e.Shutdown(context.Background()); serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown closes the cache, the reputation pool, and the OTEL providers.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("delphi shutting down")

	if err := e.store.Close(); err != nil {
		e.logger.Error("cache close error", "error", err)
	}
	if e.tracker != nil {
		e.tracker.Close()
	}
	_ = e.otelShutdown(ctx)

	e.logger.Info("delphi stopped")
	return nil
}

// cacheCleanupLoop evicts expired cache rows on the configured interval.
func (e *Engine) cacheCleanupLoop(ctx context.Context) {
	if e.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.store.CleanupExpired(ctx); err != nil {
				e.logger.Warn("cache cleanup failed", "error", err)
			}
		}
	}
}

func panelSource(path string) string {
	if path == "" {
		return "builtin"
	}
	return path
}

// providerAdapter bridges the public ContextProvider to the internal one.
type providerAdapter struct {
	p ContextProvider
}

func (a *providerAdapter) Context(ctx context.Context, question string, c model.DomainClassification) ([]model.Snippet, error) {
	snippets, err := a.p.Context(ctx, question, toPublicClassification(c))
	if err != nil {
		return nil, err
	}
	out := make([]model.Snippet, len(snippets))
	for i, s := range snippets {
		out[i] = model.Snippet(s)
	}
	return out, nil
}

// ── internal → public conversions ─────────────────────────────────────────────

func toPublicClassification(c model.DomainClassification) Classification {
	out := Classification{
		Primary:    c.Primary,
		Confidence: c.Confidence,
	}
	for _, s := range c.Secondary {
		out.Secondary = append(out.Secondary, DomainScore(s))
	}
	return out
}

func toPublicResponse(r model.AgentResponse) AgentResponse {
	out := AgentResponse{
		Agent:         r.Agent,
		Model:         r.Model,
		Status:        string(r.Status),
		DeclineReason: r.DeclineReason,
		Error:         r.Error,
		Cached:        r.Cached,
		Latency:       r.Latency,
	}
	if r.Brief != nil {
		b := Brief(*r.Brief)
		out.Brief = &b
	}
	return out
}

func toPublicResponses(rs []model.AgentResponse) []AgentResponse {
	if rs == nil {
		return nil
	}
	out := make([]AgentResponse, len(rs))
	for i, r := range rs {
		out[i] = toPublicResponse(r)
	}
	return out
}

func toPublicConsensus(c model.ConsensusResult) Consensus {
	out := Consensus{
		Probability:    c.Probability,
		Confidence:     c.Confidence,
		TotalWeight:    c.TotalWeight,
		DissentRatio:   c.DissentRatio,
		RequiresReview: c.RequiresReview,
	}
	for _, w := range c.Weights {
		out.Weights = append(out.Weights, AgentWeight(w))
	}
	return out
}

func toPublicResult(r model.Result) Result {
	out := Result{
		PredictionID:   r.PredictionID,
		Question:       r.QuestionText,
		Classification: toPublicClassification(r.Classification),
		Responses:      toPublicResponses(r.Responses),
		Declined:       toPublicResponses(r.Declined),
		Consensus:      toPublicConsensus(r.Consensus),
		Verdict:        Verdict(r.Verdict),
		FailedAgents:   r.FailedAgents,
		Elapsed:        r.Elapsed,
	}
	for _, q := range r.Quality {
		out.Quality = append(out.Quality, QualityScore{
			Agent:        q.Agent,
			Depth:        q.Depth,
			RedFlags:     q.RedFlags,
			NeedsRequery: q.NeedsRequery,
			Requeried:    q.Requeried,
		})
	}
	return out
}
