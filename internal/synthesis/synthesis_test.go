package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-ai/delphi/internal/model"
	"github.com/solstice-ai/delphi/internal/testutil"
)

type stubCaller struct {
	reply  string
	err    error
	prompt string
}

func (c *stubCaller) Complete(_ context.Context, _, prompt string) (string, error) {
	c.prompt = prompt
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func testConsensus() model.ConsensusResult {
	return model.ConsensusResult{Probability: 0.72, Confidence: 0.61, TotalWeight: 2.4}
}

func testResponses() []model.AgentResponse {
	return []model.AgentResponse{
		{
			Agent:  "alpha",
			Status: model.StatusSucceeded,
			Brief:  &model.Brief{Analysis: "flows recover", Probability: 0.8, Confidence: 0.6, Recommendation: "watch rates"},
		},
		{Agent: "beta", Status: model.StatusDeclined, DeclineReason: "not my field"},
	}
}

func TestSynthesizeParsesVerdict(t *testing.T) {
	caller := &stubCaller{reply: `{"verdict": "Escalation is more likely than not.", "probability": 0.68, "confidence": 0.6, "rationale": "specialists agree"}`}
	s := New(caller, "synth-model", testutil.TestLogger())

	v := s.Synthesize(context.Background(), "Will it escalate?", "ctx", testResponses(), testConsensus())
	assert.Equal(t, "Escalation is more likely than not.", v.Text)
	assert.InDelta(t, 0.68, v.Probability, 1e-9)
	assert.InDelta(t, 0.6, v.Confidence, 1e-9)
	assert.Equal(t, "specialists agree", v.Rationale)
	assert.False(t, v.FromFallback)
}

func TestSynthesizeCallFailureFallsBack(t *testing.T) {
	caller := &stubCaller{err: errors.New("backend down")}
	s := New(caller, "synth-model", testutil.TestLogger())

	v := s.Synthesize(context.Background(), "Will it escalate?", "ctx", testResponses(), testConsensus())
	assert.True(t, v.FromFallback)
	assert.InDelta(t, 0.72, v.Probability, 1e-9)
	assert.InDelta(t, 0.61, v.Confidence, 1e-9)
	assert.Contains(t, v.Text, "0.72")
}

func TestSynthesizeUnparsedKeepsTextWithConsensusNumbers(t *testing.T) {
	caller := &stubCaller{reply: "On balance the panel leans toward escalation over the next quarter."}
	s := New(caller, "synth-model", testutil.TestLogger())

	v := s.Synthesize(context.Background(), "Will it escalate?", "ctx", testResponses(), testConsensus())
	assert.True(t, v.FromFallback)
	assert.Equal(t, "On balance the panel leans toward escalation over the next quarter.", v.Text)
	assert.InDelta(t, 0.72, v.Probability, 1e-9)
}

func TestSynthesizeTruncatesLongUnparsedReply(t *testing.T) {
	caller := &stubCaller{reply: strings.Repeat("very long prose ", 100)}
	s := New(caller, "synth-model", testutil.TestLogger())

	v := s.Synthesize(context.Background(), "q", "ctx", nil, testConsensus())
	assert.LessOrEqual(t, len(v.Text), 403+10)
	assert.True(t, strings.HasSuffix(v.Text, "..."))
}

func TestPromptIncludesOnlyVotingBriefs(t *testing.T) {
	caller := &stubCaller{reply: `{"verdict": "v", "probability": 0.5, "confidence": 0.5}`}
	s := New(caller, "synth-model", testutil.TestLogger())

	s.Synthesize(context.Background(), "Will it escalate?", "shared context", testResponses(), testConsensus())
	require.NotEmpty(t, caller.prompt)

	assert.Contains(t, caller.prompt, "alpha")
	assert.Contains(t, caller.prompt, "flows recover")
	assert.NotContains(t, caller.prompt, "beta")
	assert.Contains(t, caller.prompt, "shared context")
	assert.Contains(t, caller.prompt, "Will it escalate?")
}
