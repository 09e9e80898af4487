package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/solstice-ai/delphi/internal/cache"
	"github.com/solstice-ai/delphi/internal/dispatch"
	"github.com/solstice-ai/delphi/internal/model"
	"github.com/solstice-ai/delphi/internal/review"
	"github.com/solstice-ai/delphi/internal/synthesis"
	"github.com/solstice-ai/delphi/internal/testutil"
)

// deepAnalysisText is thorough enough that the meta-analyst passes it
// untouched, so call counts in these tests are not disturbed by requery
// traffic.
const deepAnalysisText = "According to customs data reported in 2025, throughput fell 12% because congestion leads to rerouting. Therefore freight rates could rise, although demand might weaken. However, the mechanism depends on inventory levels. Historically, similar shocks in 2021 resolved within 6 months. Specifically, Rotterdam Port and Suez Canal are the indicators to watch before 2026. Possibly a 30% spike, potentially a return to baseline."

func deepReplyWith(probability, confidence float64) string {
	return fmt.Sprintf(`{"analysis": %q, "probability": %.2f, "confidence": %.2f, "recommendation": "watch canal throughput"}`,
		deepAnalysisText, probability, confidence)
}

var deepReply = deepReplyWith(0.7, 0.6)

const verdictReply = `{"verdict": "Rates are likely to spike before recovering.", "probability": 0.68, "confidence": 0.6, "rationale": "Panel agreement on routing pressure."}`

// scriptedCaller answers per model id and counts every backend call.
type scriptedCaller struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   int
}

func (c *scriptedCaller) Complete(_ context.Context, modelID, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := c.errs[modelID]; err != nil {
		return "", err
	}
	return c.replies[modelID], nil
}

func (c *scriptedCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type staticProvider struct {
	snippets []model.Snippet
	err      error
}

func (p *staticProvider) Context(_ context.Context, _ string, _ model.DomainClassification) ([]model.Snippet, error) {
	return p.snippets, p.err
}

func testPanel() model.Panel {
	return model.Panel{
		{Name: "alpha", Persona: "You are alpha.", Model: "model-a", BaseWeight: 1.0, DomainTags: []string{"economics"}},
		{Name: "beta", Persona: "You are beta.", Model: "model-b", BaseWeight: 1.0, DomainTags: []string{"energy"}},
		{Name: "gamma", Persona: "You are gamma.", Model: "model-c", BaseWeight: 1.2},
	}
}

func newService(t *testing.T, caller *scriptedCaller, provider ContextProvider) *Service {
	t.Helper()
	store, err := cache.Open(":memory:", time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := dispatch.New(caller, store, 0, testutil.TestLogger())
	r := review.New(d, review.Config{}, testutil.TestLogger())
	syn := synthesis.New(caller, "model-synth", testutil.TestLogger())
	return New(testPanel(), d, r, syn, nil, provider, testutil.TestLogger())
}

func TestRunHappyPathWithDecline(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a":     deepReplyWith(0.8, 0.9),
		"model-b":     deepReplyWith(0.6, 0.7),
		"model-c":     `{"declined": true, "reason": "outside my specialty"}`,
		"model-synth": verdictReply,
	}}
	svc := newService(t, caller, nil)

	result, err := svc.Run(context.Background(), "Will freight rates spike because of canal congestion?")
	require.NoError(t, err)

	require.Len(t, result.Responses, 3)
	require.Len(t, result.Declined, 1)
	assert.Equal(t, "gamma", result.Declined[0].Agent)
	assert.Equal(t, 0, result.FailedAgents)
	assert.NotEmpty(t, result.PredictionID)

	// The decliner contributes no weight; the consensus sits between the
	// two votes.
	require.Len(t, result.Consensus.Weights, 2)
	assert.Greater(t, result.Consensus.Probability, 0.6)
	assert.Less(t, result.Consensus.Probability, 0.8)
	assert.Greater(t, result.Consensus.Confidence, 0.7)
	assert.Less(t, result.Consensus.Confidence, 0.9)
	assert.Zero(t, result.Consensus.DissentRatio)

	assert.False(t, result.Verdict.FromFallback)
	assert.Equal(t, "Rates are likely to spike before recovering.", result.Verdict.Text)
	assert.Len(t, result.Quality, 2)
}

func TestRunAllAgentsFailIsInsufficientPanel(t *testing.T) {
	boom := errors.New("backend model: status 500")
	caller := &scriptedCaller{errs: map[string]error{
		"model-a": boom,
		"model-b": boom,
		"model-c": boom,
	}}
	svc := newService(t, caller, nil)

	result, err := svc.Run(context.Background(), "Will the grid hold through the winter?")
	require.ErrorIs(t, err, ErrInsufficientPanel)

	// The partial result still names every failure, but carries no numbers.
	require.Len(t, result.Responses, 3)
	assert.Equal(t, 3, result.FailedAgents)
	assert.Empty(t, result.PredictionID)
	assert.Zero(t, result.Consensus.TotalWeight)
	assert.Empty(t, result.Verdict.Text)
}

func TestRunSecondPassIsFullyCached(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a":     deepReply,
		"model-b":     deepReply,
		"model-c":     deepReply,
		"model-synth": verdictReply,
	}}
	svc := newService(t, caller, nil)

	const question = "Will the central bank cut interest rates this year?"

	first, err := svc.Run(context.Background(), question)
	require.NoError(t, err)
	// 3 panel calls plus 1 synthesizer call.
	require.Equal(t, 4, caller.callCount())

	second, err := svc.Run(context.Background(), question)
	require.NoError(t, err)
	// Only the synthesizer runs again; every panel answer comes from cache.
	assert.Equal(t, 5, caller.callCount())
	for _, r := range second.Responses {
		assert.True(t, r.Cached, "agent %s should be served from cache", r.Agent)
	}

	assert.Equal(t, first.Consensus, second.Consensus)
	assert.Equal(t, first.Classification, second.Classification)
}

func TestRunRejectsInvalidQuestions(t *testing.T) {
	svc := newService(t, &scriptedCaller{}, nil)

	_, err := svc.Run(context.Background(), "   ")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientPanel)
}

func TestRunRendersProviderContext(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a":     deepReply,
		"model-b":     deepReply,
		"model-c":     deepReply,
		"model-synth": verdictReply,
	}}
	provider := &staticProvider{snippets: []model.Snippet{
		{Title: "Canal report", Text: "Transit slots cut by a third.", Relevance: 0.9},
		{Text: "Spot rates doubled since March.", Relevance: 0.7},
	}}
	svc := newService(t, caller, provider)

	rendered := svc.contextText(context.Background(), "q", model.DomainClassification{Primary: "economics"})
	assert.Contains(t, rendered, "1. [Canal report] Transit slots cut by a third.")
	assert.Contains(t, rendered, "2. Spot rates doubled since March.")

	_, err := svc.Run(context.Background(), "Will spot freight rates fall back by summer?")
	require.NoError(t, err)
}

func TestRunSurvivesProviderFailure(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a":     deepReply,
		"model-b":     deepReply,
		"model-c":     deepReply,
		"model-synth": verdictReply,
	}}
	svc := newService(t, caller, &staticProvider{err: errors.New("search: upstream timeout")})

	result, err := svc.Run(context.Background(), "Will the election produce a coalition government?")
	require.NoError(t, err)
	assert.Len(t, result.Consensus.Weights, 3)
}

func TestRunStartsItsOwnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	caller := &scriptedCaller{replies: map[string]string{
		"model-a":     deepReply,
		"model-b":     deepReply,
		"model-c":     deepReply,
		"model-synth": verdictReply,
	}}
	svc := newService(t, caller, nil)

	// No span in the incoming context; the service opens one itself so
	// library embedders get traces without running a server.
	_, err := svc.Run(context.Background(), "Will freight rates spike because of canal congestion?")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	span := spans[len(spans)-1]
	assert.Equal(t, "forecast.run", span.Name())

	attrs := make(map[attribute.Key]string, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.NotEmpty(t, attrs["delphi.question_hash"])
	assert.Equal(t, "logistics", attrs["delphi.domain"])
}
