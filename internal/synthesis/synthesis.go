// Package synthesis produces the final natural-language verdict. One model
// call combines the question, the shared context, and every agent's brief;
// if that call fails or returns junk, the verdict falls back to the
// consensus numbers so a forecast always concludes.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solstice-ai/delphi/internal/backend"
	"github.com/solstice-ai/delphi/internal/model"
)

const synthesizerPrompt = `You are the lead forecaster. Review the question, the shared context, and each agent's JSON brief. Combine them into a single JSON with keys: verdict (string), probability (0-1 float), confidence (0-1 float), rationale (string).
Context:
%s

Agent Briefs:
%s

Question: %s
`

// maxFallbackVerdictLen bounds the verdict text taken from an unparseable
// synthesizer reply.
const maxFallbackVerdictLen = 400

// Synthesizer writes the closing verdict with a designated model.
type Synthesizer struct {
	caller  backend.Caller
	modelID string
	logger  *slog.Logger
}

// New creates a Synthesizer bound to one model.
func New(caller backend.Caller, modelID string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{caller: caller, modelID: modelID, logger: logger}
}

// briefLine is the per-agent summary handed to the synthesizer.
type briefLine struct {
	Agent          string  `json:"agent"`
	Analysis       string  `json:"analysis"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// Synthesize produces the verdict. It never returns an error: a failed or
// unparseable synthesizer call degrades to the consensus numbers, with
// FromFallback set so callers can tell a written verdict from a computed one.
func (s *Synthesizer) Synthesize(ctx context.Context, question, contextText string, responses []model.AgentResponse, consensus model.ConsensusResult) model.Verdict {
	raw, err := s.caller.Complete(ctx, s.modelID, s.prompt(question, contextText, responses))
	if err != nil {
		s.logger.Warn("synthesizer call failed, using consensus fallback", "error", err)
		return fallback(consensus)
	}

	if v, ok := model.ParseVerdict(raw); ok {
		return v
	}

	// The model wrote prose instead of JSON. Keep its words, trust the
	// panel's numbers.
	s.logger.Warn("synthesizer reply not parseable, keeping text with consensus numbers")
	v := fallback(consensus)
	if text := strings.TrimSpace(raw); text != "" {
		v.Text = truncate(text, maxFallbackVerdictLen)
	}
	return v
}

func (s *Synthesizer) prompt(question, contextText string, responses []model.AgentResponse) string {
	if contextText == "" {
		contextText = "No context available."
	}

	lines := make([]briefLine, 0, len(responses))
	for _, r := range responses {
		if !r.Voting() {
			continue
		}
		lines = append(lines, briefLine{
			Agent:          r.Agent,
			Analysis:       r.Brief.Analysis,
			Probability:    r.Brief.Probability,
			Confidence:     r.Brief.Confidence,
			Recommendation: r.Brief.Recommendation,
		})
	}
	briefs, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		briefs = []byte("[]")
	}
	return fmt.Sprintf(synthesizerPrompt, contextText, briefs, question)
}

// fallback builds a fully synthetic verdict from the consensus.
func fallback(c model.ConsensusResult) model.Verdict {
	return model.Verdict{
		Text: fmt.Sprintf("Panel consensus estimates a probability of %.2f with confidence %.2f.",
			c.Probability, c.Confidence),
		Probability:  c.Probability,
		Confidence:   c.Confidence,
		FromFallback: true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
