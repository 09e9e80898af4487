package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/solstice-ai/delphi/internal/backend"
	"github.com/solstice-ai/delphi/internal/cache"
	"github.com/solstice-ai/delphi/internal/dispatch"
	"github.com/solstice-ai/delphi/internal/forecast"
	"github.com/solstice-ai/delphi/internal/model"
	"github.com/solstice-ai/delphi/internal/review"
	"github.com/solstice-ai/delphi/internal/synthesis"
	"github.com/solstice-ai/delphi/internal/testutil"
)

const deepReply = `{"analysis": "According to customs data reported in 2025, throughput fell 12% because congestion leads to rerouting. Therefore freight rates could rise, although demand might weaken. However, the mechanism depends on inventory levels. Historically, similar shocks in 2021 resolved within 6 months. Specifically, Rotterdam Port and Suez Canal are the indicators to watch before 2026. Possibly a 30% spike, potentially a return to baseline.", "probability": 0.7, "confidence": 0.6, "recommendation": "watch canal throughput"}`

type scriptedCaller struct {
	mu      sync.Mutex
	replies map[string]string
}

func (c *scriptedCaller) Complete(_ context.Context, modelID, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies[modelID], nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	caller := &scriptedCaller{replies: map[string]string{
		"model-a":     deepReply,
		"model-b":     deepReply,
		"model-synth": `{"verdict": "Likely.", "probability": 0.7, "confidence": 0.6}`,
	}}
	breaker := backend.NewBreaker(caller, backend.BreakerConfig{}, testutil.TestLogger())

	store, err := cache.Open(":memory:", time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	panel := model.Panel{
		{Name: "alpha", Persona: "You are alpha.", Model: "model-a", BaseWeight: 1.0},
		{Name: "beta", Persona: "You are beta.", Model: "model-b", BaseWeight: 1.0},
	}
	d := dispatch.New(breaker, store, 0, testutil.TestLogger())
	r := review.New(d, review.Config{}, testutil.TestLogger())
	syn := synthesis.New(breaker, "model-synth", testutil.TestLogger())
	svc := forecast.New(panel, d, r, syn, nil, nil, testutil.TestLogger())

	return New(svc, nil, breaker, testutil.TestLogger(), "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestForecastTool(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleForecast(context.Background(), toolRequest("delphi_forecast", map[string]any{
		"question": "Will the canal reopen to full capacity this year?",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var payload struct {
		PredictionID string `json:"prediction_id"`
		Consensus    struct {
			Probability float64 `json:"probability"`
		} `json:"consensus"`
		Verdict struct {
			Text string `json:"verdict"`
		} `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	assert.NotEmpty(t, payload.PredictionID)
	assert.InDelta(t, 0.7, payload.Consensus.Probability, 1e-9)
	assert.Equal(t, "Likely.", payload.Verdict.Text)
}

func TestForecastToolRequiresQuestion(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleForecast(context.Background(), toolRequest("delphi_forecast", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "question is required")
}

func TestReputationToolWithoutDatabase(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleReputation(context.Background(), toolRequest("delphi_reputation", map[string]any{
		"agent": "alpha",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not configured")
}

func TestRecordOutcomeToolWithoutDatabase(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleRecordOutcome(context.Background(), toolRequest("delphi_record_outcome", map[string]any{
		"prediction_id": "abc:alpha",
		"outcome":       1.0,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not configured")
}

func TestBreakersTool(t *testing.T) {
	s := newTestServer(t)

	// Run a forecast so circuits exist for the panel models.
	_, err := s.handleForecast(context.Background(), toolRequest("delphi_forecast", map[string]any{
		"question": "Will the port strike end before the holidays?",
	}))
	require.NoError(t, err)

	res, err := s.handleBreakers(context.Background(), mcplib.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var payload struct {
		Breakers []struct {
			Model string `json:"model"`
			State string `json:"state"`
		} `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	require.NotEmpty(t, payload.Breakers)
	for _, b := range payload.Breakers {
		assert.Equal(t, "closed", b.State)
	}
}
