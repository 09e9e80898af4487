// Package model defines the domain types shared by the forecasting engine:
// agent profiles, questions, dispatched responses, quality scores, and
// consensus results. Types here are plain data with no I/O.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// MaxQuestionLen caps normalized question text. Longer input is rejected,
// not truncated, so the cache key always covers the full question.
const MaxQuestionLen = 2000

// AgentProfile is one configured expert persona bound to a backing model.
// Profiles are loaded once at startup and are read-only during a run.
type AgentProfile struct {
	Name       string   `json:"name"`
	Persona    string   `json:"persona"`
	Model      string   `json:"model"`
	BaseWeight float64  `json:"base_weight"`
	DomainTags []string `json:"domain_tags,omitempty"`
}

// HasDomain reports whether the profile declares the given domain tag.
func (p AgentProfile) HasDomain(domain string) bool {
	for _, d := range p.DomainTags {
		if d == domain {
			return true
		}
	}
	return false
}

// Panel is the set of agent profiles for a run. Names are unique.
type Panel []AgentProfile

// Validate checks name uniqueness and positive base weights.
func (p Panel) Validate() error {
	seen := make(map[string]bool, len(p))
	for _, a := range p {
		if a.Name == "" {
			return fmt.Errorf("model: panel member with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("model: duplicate panel member %q", a.Name)
		}
		seen[a.Name] = true
		if a.BaseWeight <= 0 {
			return fmt.Errorf("model: panel member %q has non-positive base weight %v", a.Name, a.BaseWeight)
		}
		if a.Model == "" {
			return fmt.Errorf("model: panel member %q has no model", a.Name)
		}
	}
	return nil
}

// Question is normalized question text plus its content hash. The hash keys
// the response cache and the prediction ledger.
type Question struct {
	Text string
	Hash string
}

// NewQuestion trims and validates raw question text.
func NewQuestion(raw string) (Question, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Question{}, fmt.Errorf("model: empty question")
	}
	if len(text) > MaxQuestionLen {
		return Question{}, fmt.Errorf("model: question exceeds %d characters", MaxQuestionLen)
	}
	return Question{Text: text, Hash: HashQuestion(text)}, nil
}

// HashQuestion returns the hex SHA-256 of the lower-cased, trimmed text.
// Exact-match keying only; no fuzzy normalization beyond casefolding.
func HashQuestion(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

// DomainScore pairs a domain with its share of pattern matches.
type DomainScore struct {
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// DomainClassification is the routing decision for a question.
type DomainClassification struct {
	Primary    string        `json:"primary"`
	Confidence float64       `json:"confidence"`
	Secondary  []DomainScore `json:"secondary,omitempty"`
}

// ResponseStatus is the tri-state outcome of dispatching one agent.
type ResponseStatus string

const (
	StatusSucceeded ResponseStatus = "succeeded"
	StatusDeclined  ResponseStatus = "declined"
	StatusFailed    ResponseStatus = "failed"
)

// Brief is the structured payload an agent returns on success.
type Brief struct {
	Analysis       string  `json:"analysis"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
}

// AgentResponse is the settled result for one panel member. Exactly one is
// produced per member per dispatch; a failure is a value here, never a
// propagated error.
//
// Brief is nil for declined and failed responses, and also for succeeded
// responses whose text carried no parseable JSON payload (those still go
// through quality review but contribute no vote to the consensus).
type AgentResponse struct {
	Agent         string         `json:"agent"`
	Model         string         `json:"model"`
	Status        ResponseStatus `json:"status"`
	Raw           string         `json:"raw,omitempty"`
	Brief         *Brief         `json:"brief,omitempty"`
	DeclineReason string         `json:"decline_reason,omitempty"`
	Error         string         `json:"error,omitempty"`
	Cached        bool           `json:"cached"`
	Latency       time.Duration  `json:"latency_ns"`
}

// Usable reports whether the response counts toward the minimum panel size:
// it was dispatched and the agent neither declined nor failed.
func (r AgentResponse) Usable() bool {
	return r.Status == StatusSucceeded
}

// Voting reports whether the response carries a structured vote for the
// consensus aggregator.
func (r AgentResponse) Voting() bool {
	return r.Status == StatusSucceeded && r.Brief != nil
}

// QualityScore is the meta-analyst's assessment of one response.
type QualityScore struct {
	Agent            string   `json:"agent"`
	Depth            float64  `json:"depth"`
	Evidence         float64  `json:"evidence"`
	Causal           float64  `json:"causal"`
	Uncertainty      float64  `json:"uncertainty"`
	Counterarguments float64  `json:"counterarguments"`
	Specificity      float64  `json:"specificity"`
	Temporal         float64  `json:"temporal"`
	RedFlags         []string `json:"red_flags,omitempty"`
	NeedsRequery     bool     `json:"needs_requery"`
	FollowUps        []string `json:"follow_ups,omitempty"`
	Requeried        bool     `json:"requeried"`
}

// AgentWeight is one agent's contribution to the consensus, with every
// factor of the adjusted weight broken out for auditability.
type AgentWeight struct {
	Agent          string  `json:"agent"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	BaseWeight     float64 `json:"base_weight"`
	RelevanceBoost float64 `json:"relevance_boost"`
	Reputation     float64 `json:"reputation"`
	Adjusted       float64 `json:"adjusted_weight"`
}

// ConsensusResult combines all voting responses into one calibrated estimate.
type ConsensusResult struct {
	Probability    float64       `json:"probability"`
	Confidence     float64       `json:"confidence"`
	TotalWeight    float64       `json:"total_weight"`
	Weights        []AgentWeight `json:"weights"`
	DissentRatio   float64       `json:"dissent_ratio"`
	RequiresReview bool          `json:"requires_review"`
}

// Verdict is the synthesizer's natural-language conclusion. FromFallback is
// set when the synthesizer call failed or returned unparseable text and the
// numbers were taken from the consensus instead.
type Verdict struct {
	Text         string  `json:"verdict"`
	Probability  float64 `json:"probability"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale,omitempty"`
	FromFallback bool    `json:"from_fallback"`
}

// Snippet is one ranked context item supplied by the external context
// provider. The engine treats it as opaque prompt material.
type Snippet struct {
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	SourceID  string  `json:"source_id"`
	Relevance float64 `json:"relevance"`
}

// Result is the full outcome of one forecast run.
type Result struct {
	PredictionID   string               `json:"prediction_id"`
	Question       Question             `json:"-"`
	QuestionText   string               `json:"question"`
	Classification DomainClassification `json:"classification"`
	Responses      []AgentResponse      `json:"agent_responses"`
	Declined       []AgentResponse      `json:"declined_agents"`
	Quality        []QualityScore       `json:"quality_scores"`
	Consensus      ConsensusResult      `json:"consensus"`
	Verdict        Verdict              `json:"verdict"`
	FailedAgents   int                  `json:"failed_agents"`
	Elapsed        time.Duration        `json:"elapsed_ns"`
}
