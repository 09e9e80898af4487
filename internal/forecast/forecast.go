// Package forecast provides the shared orchestration logic for a forecasting
// run.
//
// Both the library facade and the MCP server delegate to this service, so a
// forecast behaves the same regardless of which surface triggered it:
// classify, dispatch the panel, review and requery, weight by reputation,
// aggregate, record pending predictions, synthesize.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/solstice-ai/delphi/internal/classify"
	"github.com/solstice-ai/delphi/internal/consensus"
	"github.com/solstice-ai/delphi/internal/dispatch"
	"github.com/solstice-ai/delphi/internal/model"
	"github.com/solstice-ai/delphi/internal/reputation"
	"github.com/solstice-ai/delphi/internal/review"
	"github.com/solstice-ai/delphi/internal/synthesis"
	"github.com/solstice-ai/delphi/internal/telemetry"
)

// ErrInsufficientPanel is returned when fewer than MinUsableAgents panel
// members produced a usable answer. The accompanying Result still carries
// the per-agent responses for diagnosis, but no consensus or verdict.
var ErrInsufficientPanel = errors.New("forecast: insufficient usable agents")

// MinUsableAgents is the smallest panel that can form a consensus.
const MinUsableAgents = 2

// maxSnippetLen bounds how much of one context snippet reaches the prompts.
const maxSnippetLen = 1500

// ContextProvider supplies ranked background material for a question.
// Implementations live outside the engine; a nil provider means agents
// answer from their own knowledge.
type ContextProvider interface {
	Context(ctx context.Context, question string, c model.DomainClassification) ([]model.Snippet, error)
}

// Service runs forecasts end to end.
type Service struct {
	panel      model.Panel
	classifier *classify.Classifier
	dispatcher *dispatch.Dispatcher
	reviewer   *review.Reviewer
	synth      *synthesis.Synthesizer
	tracker    *reputation.Tracker // nil disables reputation weighting and persistence
	provider   ContextProvider     // nil means no external context
	tracer     trace.Tracer
	logger     *slog.Logger

	dispatchDuration  metric.Float64Histogram
	consensusDuration metric.Float64Histogram
	requeries         metric.Int64Counter
}

// New creates a forecast Service.
// tracker may be nil if no database is configured (agents weigh in at the
// neutral reputation). provider may be nil.
func New(p model.Panel, d *dispatch.Dispatcher, r *review.Reviewer, syn *synthesis.Synthesizer, tracker *reputation.Tracker, provider ContextProvider, logger *slog.Logger) *Service {
	meter := telemetry.Meter("delphi/forecast")
	dispatchDur, _ := meter.Float64Histogram("delphi.dispatch.duration",
		metric.WithDescription("Time to fan a question out to the panel (ms)"),
		metric.WithUnit("ms"),
	)
	consensusDur, _ := meter.Float64Histogram("delphi.consensus.duration",
		metric.WithDescription("Time to review, weight and aggregate responses (ms)"),
		metric.WithUnit("ms"),
	)
	requeries, _ := meter.Int64Counter("delphi.review.requeries",
		metric.WithDescription("Agents re-queried by the meta-analyst"),
	)
	return &Service{
		panel:             p,
		classifier:        classify.New(),
		dispatcher:        d,
		reviewer:          r,
		synth:             syn,
		tracker:           tracker,
		provider:          provider,
		tracer:            telemetry.Tracer("delphi/forecast"),
		logger:            logger,
		dispatchDuration:  dispatchDur,
		consensusDuration: consensusDur,
		requeries:         requeries,
	}
}

// Run executes one full forecast for the raw question text.
//
// The error return is reserved for terminal conditions: invalid input and an
// unusable panel. Individual agent failures, a lost synthesizer, or a missing
// reputation score degrade the Result instead of failing the run.
func (s *Service) Run(ctx context.Context, rawQuestion string) (model.Result, error) {
	started := time.Now()

	q, err := model.NewQuestion(rawQuestion)
	if err != nil {
		return model.Result{}, fmt.Errorf("forecast: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "forecast.run")
	defer span.End()

	classification := s.classifier.Classify(q.Text)

	span.SetAttributes(
		attribute.String("delphi.question_hash", q.Hash),
		attribute.String("delphi.domain", classification.Primary),
	)

	contextText := s.contextText(ctx, q.Text, classification)

	dispatchStart := time.Now()
	responses := s.dispatcher.Dispatch(ctx, s.panel, q, contextText)
	s.dispatchDuration.Record(ctx, float64(time.Since(dispatchStart).Milliseconds()),
		metric.WithAttributes(attribute.String("domain", classification.Primary)))

	consensusStart := time.Now()
	scores, responses := s.reviewer.Review(ctx, s.panel, q, contextText, responses)
	for _, qs := range scores {
		if qs.Requeried {
			s.requeries.Add(ctx, 1,
				metric.WithAttributes(attribute.String("agent", qs.Agent)))
		}
	}

	usable := 0
	for _, r := range responses {
		if r.Usable() {
			usable++
		}
	}

	result := model.Result{
		Question:       q,
		QuestionText:   q.Text,
		Classification: classification,
		Responses:      responses,
		Declined:       filterStatus(responses, model.StatusDeclined),
		Quality:        scores,
		FailedAgents:   len(filterStatus(responses, model.StatusFailed)),
	}

	if usable < MinUsableAgents {
		result.Elapsed = time.Since(started)
		s.logger.Warn("panel below minimum usable size",
			"question_hash", q.Hash,
			"usable", usable,
			"declined", len(result.Declined),
			"failed", result.FailedAgents)
		return result, ErrInsufficientPanel
	}

	reputations := s.reputations(ctx, responses, classification.Primary)
	result.Consensus = consensus.Aggregate(s.panel, responses, classification, reputations)
	s.consensusDuration.Record(ctx, float64(time.Since(consensusStart).Milliseconds()),
		metric.WithAttributes(attribute.String("domain", classification.Primary)))

	result.PredictionID = uuid.NewString()
	s.recordPredictions(ctx, result.PredictionID, q, classification.Primary, responses)

	result.Verdict = s.synth.Synthesize(ctx, q.Text, contextText, responses, result.Consensus)
	result.Elapsed = time.Since(started)

	s.logger.Info("forecast complete",
		"question_hash", q.Hash,
		"domain", classification.Primary,
		"probability", result.Consensus.Probability,
		"confidence", result.Consensus.Confidence,
		"dissent", result.Consensus.DissentRatio,
		"usable", usable,
		"elapsed", result.Elapsed)

	return result, nil
}

// contextText fetches and renders provider snippets. Provider errors are not
// fatal: the panel answers without context.
func (s *Service) contextText(ctx context.Context, question string, c model.DomainClassification) string {
	if s.provider == nil {
		return ""
	}
	snippets, err := s.provider.Context(ctx, question, c)
	if err != nil {
		s.logger.Warn("context provider failed, proceeding without context", "error", err)
		return ""
	}
	if len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	for i, sn := range snippets {
		text := sn.Text
		if len(text) > maxSnippetLen {
			text = text[:maxSnippetLen]
		}
		if sn.Title != "" {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, sn.Title, text)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// reputations looks up the score for every voting agent in the question's
// primary domain. A nil tracker or a lookup failure leaves the agent out of
// the map, which the aggregator treats as the neutral 0.5.
func (s *Service) reputations(ctx context.Context, responses []model.AgentResponse, domain string) map[string]float64 {
	if s.tracker == nil {
		return nil
	}
	out := make(map[string]float64)
	for _, r := range responses {
		if !r.Voting() {
			continue
		}
		score, err := s.tracker.Score(ctx, r.Agent, domain)
		if err != nil {
			s.logger.Warn("reputation lookup failed", "agent", r.Agent, "error", err)
			continue
		}
		out[r.Agent] = score
	}
	return out
}

// recordPredictions writes one pending prediction per voting agent so a later
// outcome can grade the whole panel. Write failures are logged and skipped.
func (s *Service) recordPredictions(ctx context.Context, runID string, q model.Question, domain string, responses []model.AgentResponse) {
	if s.tracker == nil {
		return
	}
	for _, r := range responses {
		if !r.Voting() {
			continue
		}
		p := reputation.Prediction{
			ID:          runID + ":" + r.Agent,
			Agent:       r.Agent,
			Domain:      domain,
			Text:        q.Text,
			Probability: r.Brief.Probability,
			Confidence:  r.Brief.Confidence,
		}
		if err := s.tracker.RecordPrediction(ctx, p); err != nil {
			s.logger.Warn("record prediction failed", "agent", r.Agent, "error", err)
		}
	}
}

func filterStatus(responses []model.AgentResponse, status model.ResponseStatus) []model.AgentResponse {
	var out []model.AgentResponse
	for _, r := range responses {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}
