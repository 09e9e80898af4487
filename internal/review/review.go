// Package review is the meta-analyst: a quality gate over agent responses.
// It scores each analysis along six depth dimensions, flags superficial
// answers, and re-queries weak agents once with targeted follow-up
// questions. No model judges the quality; the scoring is deterministic
// pattern counting, so the gate itself costs nothing.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/solstice-ai/delphi/internal/dispatch"
	"github.com/solstice-ai/delphi/internal/model"
)

// Depth dimensions, in weight order.
const (
	dimEvidence    = "evidence"
	dimCausal      = "causal"
	dimUncertainty = "uncertainty"
	dimCounter     = "counterarguments"
	dimSpecificity = "specificity"
	dimTemporal    = "temporal"
)

var dimensionOrder = []string{
	dimEvidence, dimCausal, dimUncertainty, dimCounter, dimSpecificity, dimTemporal,
}

var dimensionWeights = map[string]float64{
	dimEvidence:    0.25,
	dimCausal:      0.20,
	dimUncertainty: 0.15,
	dimCounter:     0.15,
	dimSpecificity: 0.15,
	dimTemporal:    0.10,
}

// depthIndicators are markers of substantive analysis. A dimension's score
// is hits/5 capped at 1, so returns diminish after five indicators.
var depthIndicators = map[string][]*regexp.Regexp{
	dimEvidence: {
		regexp.MustCompile(`\d+\.?\d*%`),
		regexp.MustCompile(`\$\d+`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
		regexp.MustCompile(`(?i)according to`),
		regexp.MustCompile(`(?i)data shows`),
		regexp.MustCompile(`(?i)reported`),
		regexp.MustCompile(`(?i)measured`),
		regexp.MustCompile(`(?i)observed`),
		regexp.MustCompile(`(?i)historically`),
		regexp.MustCompile(`(?i)statistics indicate`),
	},
	dimCausal: {
		regexp.MustCompile(`(?i)because`),
		regexp.MustCompile(`(?i)therefore`),
		regexp.MustCompile(`(?i)as a result`),
		regexp.MustCompile(`(?i)leads to`),
		regexp.MustCompile(`(?i)causes`),
		regexp.MustCompile(`(?i)due to`),
		regexp.MustCompile(`(?i)consequently`),
		regexp.MustCompile(`(?i)mechanism`),
		regexp.MustCompile(`(?i)pathway`),
		regexp.MustCompile(`(?i)triggers`),
		regexp.MustCompile(`(?i)drives`),
	},
	dimUncertainty: {
		regexp.MustCompile(`(?i)uncertainty`),
		regexp.MustCompile(`(?i)unclear`),
		regexp.MustCompile(`(?i)unknown`),
		regexp.MustCompile(`(?i)\bmay\b`),
		regexp.MustCompile(`(?i)\bmight\b`),
		regexp.MustCompile(`(?i)\bcould\b`),
		regexp.MustCompile(`(?i)possibly`),
		regexp.MustCompile(`(?i)potentially`),
		regexp.MustCompile(`(?i)difficult to predict`),
		regexp.MustCompile(`(?i)range of outcomes`),
		regexp.MustCompile(`(?i)depends on`),
	},
	dimCounter: {
		regexp.MustCompile(`(?i)however`),
		regexp.MustCompile(`(?i)although`),
		regexp.MustCompile(`(?i)alternatively`),
		regexp.MustCompile(`(?i)on the other hand`),
		regexp.MustCompile(`(?i)conversely`),
		regexp.MustCompile(`(?i)\bbut\b`),
		regexp.MustCompile(`(?i)\byet\b`),
		regexp.MustCompile(`(?i)despite`),
		regexp.MustCompile(`(?i)counterpoint`),
		regexp.MustCompile(`(?i)opposing view`),
	},
	dimSpecificity: {
		regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`), // multi-word proper nouns
		regexp.MustCompile(`\d+`),
		regexp.MustCompile(`(?i)specifically`),
		regexp.MustCompile(`(?i)in particular`),
		regexp.MustCompile(`(?i)namely`),
		regexp.MustCompile(`(?i)for example`),
		regexp.MustCompile(`(?i)such as`),
	},
	dimTemporal: {
		regexp.MustCompile(`\d{4}`),
		regexp.MustCompile(`(?i)timeline`),
		regexp.MustCompile(`(?i)timeframe`),
		regexp.MustCompile(`(?i)within \d+`),
		regexp.MustCompile(`(?i)by \d{4}`),
		regexp.MustCompile(`(?i)\bafter\b`),
		regexp.MustCompile(`(?i)\bbefore\b`),
		regexp.MustCompile(`(?i)during`),
		regexp.MustCompile(`(?i)sequence`),
		regexp.MustCompile(`(?i)progression`),
		regexp.MustCompile(`(?i)phases`),
	},
}

// Red flags for superficial analysis. Each costs 0.1 of depth, capped at
// 0.3 total; two or more force a requery regardless of depth.
var redFlags = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`(?i)^(yes|no|maybe|unclear|unknown)\.?$`), "one-word answer"},
	{regexp.MustCompile(`(?i)it depends`), "vague cop-out without specifics"},
	{regexp.MustCompile(`(?i)(difficult|hard|impossible) to (say|predict|determine)`), "dismissive without analysis"},
	{regexp.MustCompile(`(?i)(generally|usually|often|sometimes)`), "overgeneralization without evidence"},
	{regexp.MustCompile(`(?i)need more (information|data|context)`), "deflection without using available context"},
}

const (
	tooShortFlag = "response too short (<150 chars)"
	minLength    = 150

	flagPenalty    = 0.1
	maxFlagPenalty = 0.3

	indicatorSaturation = 5.0
	weakDimension       = 0.4
)

// followUpPrompts maps a weak dimension to the question that probes it.
var followUpPrompts = map[string]string{
	dimEvidence:    "What specific data, numbers, or historical precedents support your analysis of %s?",
	dimCausal:      "Explain the causal mechanisms: HOW and WHY would this outcome occur? What are the intermediate steps?",
	dimUncertainty: "What are the key uncertainties and unknown factors that could change your prediction?",
	dimCounter:     "What evidence or arguments would CONTRADICT your assessment? Why might you be wrong?",
	dimSpecificity: "Provide specific names, places, dates, or quantitative details rather than general statements.",
	dimTemporal:    "What is the expected timeline? What would happen first, second, third? How long would each phase take?",
}

// Config tunes the reviewer. Zero values take defaults.
type Config struct {
	RequeryThreshold float64 // depth below which an agent is re-queried (default 0.6)
	MaxFollowUps     int     // follow-up questions per requery (default 3)
}

func (c Config) withDefaults() Config {
	if c.RequeryThreshold <= 0 {
		c.RequeryThreshold = 0.6
	}
	if c.MaxFollowUps <= 0 {
		c.MaxFollowUps = 3
	}
	return c
}

// Reviewer scores responses and drives the single requery round.
type Reviewer struct {
	dispatcher *dispatch.Dispatcher
	cfg        Config
	logger     *slog.Logger
}

// New creates a Reviewer that requeries through the given dispatcher.
func New(d *dispatch.Dispatcher, cfg Config, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{dispatcher: d, cfg: cfg.withDefaults(), logger: logger}
}

// Assess scores one response. Scoring reads the structured analysis when
// present (falling back to the recommendation, then the raw text), so an
// agent cannot pad its way past the gate with JSON boilerplate.
func (r *Reviewer) Assess(resp model.AgentResponse, question string) model.QualityScore {
	text := analysisText(resp)

	scores := make(map[string]float64, len(dimensionOrder))
	for dim, patterns := range depthIndicators {
		hits := 0
		for _, p := range patterns {
			hits += len(p.FindAllString(text, -1))
		}
		scores[dim] = min(1.0, float64(hits)/indicatorSaturation)
	}

	trimmed := strings.TrimSpace(text)
	var flags []string
	if len(trimmed) < minLength {
		flags = append(flags, tooShortFlag)
	}
	for _, f := range redFlags {
		if f.re.MatchString(trimmed) {
			flags = append(flags, f.desc)
		}
	}

	depth := 0.0
	for dim, w := range dimensionWeights {
		depth += scores[dim] * w
	}
	depth = max(0, depth-min(maxFlagPenalty, float64(len(flags))*flagPenalty))

	needsRequery := depth < r.cfg.RequeryThreshold || len(flags) >= 2

	var followUps []string
	if needsRequery {
		followUps = r.followUps(scores, flags, question)
	}

	return model.QualityScore{
		Agent:            resp.Agent,
		Depth:            depth,
		Evidence:         scores[dimEvidence],
		Causal:           scores[dimCausal],
		Uncertainty:      scores[dimUncertainty],
		Counterarguments: scores[dimCounter],
		Specificity:      scores[dimSpecificity],
		Temporal:         scores[dimTemporal],
		RedFlags:         flags,
		NeedsRequery:     needsRequery,
		FollowUps:        followUps,
	}
}

// followUps builds targeted questions for the three weakest dimensions
// (those scoring under the weak threshold) plus flag-specific prompts,
// truncated to the configured maximum.
func (r *Reviewer) followUps(scores map[string]float64, flags []string, question string) []string {
	dims := append([]string(nil), dimensionOrder...)
	sort.SliceStable(dims, func(i, j int) bool {
		return scores[dims[i]] < scores[dims[j]]
	})

	var out []string
	for _, dim := range dims[:3] {
		if scores[dim] >= weakDimension {
			continue
		}
		p := followUpPrompts[dim]
		if dim == dimEvidence {
			out = append(out, fmt.Sprintf(p, truncate(question, 60)))
		} else {
			out = append(out, p)
		}
	}

	for _, f := range flags {
		switch {
		case strings.Contains(f, "too short"):
			out = append(out, fmt.Sprintf(
				"Expand your analysis with more depth. Your response was too brief to properly assess %s.",
				truncate(question, 60)))
		case strings.Contains(f, "vague"), strings.Contains(f, "generalization"):
			out = append(out,
				"Avoid vague statements. Use the provided context to give concrete, specific analysis with evidence.")
		}
	}

	if len(out) > r.cfg.MaxFollowUps {
		out = out[:r.cfg.MaxFollowUps]
	}
	return out
}

// Review assesses every settled response and runs one requery round for the
// agents that need it. It returns the quality scores and the responses with
// requeried answers substituted in place. Declined and failed responses are
// not reviewed; a requery that fails or declines leaves the original answer
// in the result.
func (r *Reviewer) Review(ctx context.Context, panel model.Panel, q model.Question, contextText string, responses []model.AgentResponse) ([]model.QualityScore, []model.AgentResponse) {
	profiles := make(map[string]model.AgentProfile, len(panel))
	for _, p := range panel {
		profiles[p.Name] = p
	}

	out := append([]model.AgentResponse(nil), responses...)
	scores := make([]model.QualityScore, 0, len(responses))
	scoreIdx := make(map[string]int, len(responses))

	type requeryJob struct {
		respIdx int
		profile model.AgentProfile
		prompt  string
	}
	var jobs []requeryJob

	for i, resp := range responses {
		if resp.Status != model.StatusSucceeded {
			continue
		}
		qs := r.Assess(resp, q.Text)
		scoreIdx[resp.Agent] = len(scores)
		scores = append(scores, qs)

		if !qs.NeedsRequery {
			continue
		}
		profile, ok := profiles[resp.Agent]
		if !ok {
			continue
		}
		jobs = append(jobs, requeryJob{
			respIdx: i,
			profile: profile,
			prompt:  requeryPrompt(profile, q.Text, contextText, qs.FollowUps),
		})
	}

	if len(jobs) == 0 {
		return scores, out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(jobs), r.dispatcher.Limit()))
	for _, job := range jobs {
		g.Go(func() error {
			r.logger.Info("requerying agent",
				"agent", job.profile.Name, "follow_ups", len(scores[scoreIdx[job.profile.Name]].FollowUps))
			requeried := r.dispatcher.Requery(gctx, job.profile, q, job.prompt)
			if requeried.Status == model.StatusSucceeded {
				out[job.respIdx] = requeried
			} else {
				r.logger.Warn("requery did not improve on original",
					"agent", job.profile.Name, "status", requeried.Status)
			}
			scores[scoreIdx[job.profile.Name]].Requeried = true
			return nil
		})
	}
	_ = g.Wait()
	return scores, out
}

// requeryPrompt builds the expanded prompt confronting the agent with its
// quality gaps.
func requeryPrompt(profile model.AgentProfile, question, contextText string, followUps []string) string {
	var b strings.Builder
	b.WriteString("Your previous analysis lacked sufficient depth and detail.\n\n")
	b.WriteString("You MUST address these specific follow-up questions with concrete evidence and reasoning:\n\n")
	for i, f := range followUps {
		fmt.Fprintf(&b, "   %d. %s\n", i+1, f)
	}
	fmt.Fprintf(&b, "\nOriginal Question: %s\n\nYour Role: %s\n\nAvailable Context:\n%s\n\n",
		question, profile.Persona, truncate(contextText, 3000))
	b.WriteString(`Provide a COMPREHENSIVE, EVIDENCE-BASED response with:
- Specific data, numbers, dates, and citations
- Clear causal reasoning explaining HOW and WHY
- Acknowledgment of uncertainties and alternative viewpoints
- Concrete details and timelines

Respond with JSON:
{
    "analysis": "Detailed analysis addressing all follow-up questions",
    "probability": 0.0-1.0,
    "confidence": 0.0-1.0,
    "recommendation": "Specific actionable insights"
}`)
	return b.String()
}

// analysisText picks the text the quality gate inspects.
func analysisText(resp model.AgentResponse) string {
	if resp.Brief != nil {
		if resp.Brief.Analysis != "" {
			return resp.Brief.Analysis
		}
		if resp.Brief.Recommendation != "" {
			return resp.Brief.Recommendation
		}
	}
	return resp.Raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
