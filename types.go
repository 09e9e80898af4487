package delphi

import "time"

// Public types mirror the internal model so importers never depend on
// internal packages. Conversion helpers live in delphi.go, the only file
// that sees both sides of the boundary.

// DomainScore pairs a domain with its share of classification matches.
type DomainScore struct {
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// Classification is the domain routing decision for a question.
type Classification struct {
	Primary    string        `json:"primary"`
	Confidence float64       `json:"confidence"`
	Secondary  []DomainScore `json:"secondary,omitempty"`
}

// Brief is the structured payload an agent returns on success.
type Brief struct {
	Analysis       string  `json:"analysis"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
}

// AgentResponse is the settled result for one panel member.
type AgentResponse struct {
	Agent         string        `json:"agent"`
	Model         string        `json:"model"`
	Status        string        `json:"status"` // succeeded, declined, failed
	Brief         *Brief        `json:"brief,omitempty"`
	DeclineReason string        `json:"decline_reason,omitempty"`
	Error         string        `json:"error,omitempty"`
	Cached        bool          `json:"cached"`
	Latency       time.Duration `json:"latency_ns"`
}

// QualityScore is the meta-analyst's assessment of one response.
type QualityScore struct {
	Agent        string   `json:"agent"`
	Depth        float64  `json:"depth"`
	RedFlags     []string `json:"red_flags,omitempty"`
	NeedsRequery bool     `json:"needs_requery"`
	Requeried    bool     `json:"requeried"`
}

// AgentWeight is one agent's contribution to the consensus.
type AgentWeight struct {
	Agent          string  `json:"agent"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	BaseWeight     float64 `json:"base_weight"`
	RelevanceBoost float64 `json:"relevance_boost"`
	Reputation     float64 `json:"reputation"`
	Adjusted       float64 `json:"adjusted_weight"`
}

// Consensus is the weighted aggregate of all voting responses.
type Consensus struct {
	Probability    float64       `json:"probability"`
	Confidence     float64       `json:"confidence"`
	TotalWeight    float64       `json:"total_weight"`
	Weights        []AgentWeight `json:"weights"`
	DissentRatio   float64       `json:"dissent_ratio"`
	RequiresReview bool          `json:"requires_review"`
}

// Verdict is the synthesized natural-language conclusion.
type Verdict struct {
	Text         string  `json:"verdict"`
	Probability  float64 `json:"probability"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale,omitempty"`
	FromFallback bool    `json:"from_fallback"`
}

// Snippet is one ranked context item supplied by a ContextProvider.
type Snippet struct {
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	SourceID  string  `json:"source_id"`
	Relevance float64 `json:"relevance"`
}

// Result is the full outcome of one forecast run.
type Result struct {
	PredictionID   string          `json:"prediction_id"`
	Question       string          `json:"question"`
	Classification Classification  `json:"classification"`
	Responses      []AgentResponse `json:"agent_responses"`
	Declined       []AgentResponse `json:"declined_agents"`
	Quality        []QualityScore  `json:"quality_scores"`
	Consensus      Consensus       `json:"consensus"`
	Verdict        Verdict         `json:"verdict"`
	FailedAgents   int             `json:"failed_agents"`
	Elapsed        time.Duration   `json:"elapsed_ns"`
}

// BreakerStatus is a point-in-time snapshot of one model's circuit.
type BreakerStatus struct {
	Model               string    `json:"model"`
	State               string    `json:"state"` // closed, open, half_open
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailure         time.Time `json:"lastFailure,omitzero"`
}

// ReputationReport is the full performance picture for one agent.
type ReputationReport struct {
	Agent            string             `json:"agent"`
	OverallScore     float64            `json:"overallScore"`
	DomainScores     map[string]float64 `json:"domainScores"`
	TotalPredictions int                `json:"totalPredictions"`
	Verified         int                `json:"verified"`
	RecentAccuracy   float64            `json:"recentAccuracy"`
	Calibration      float64            `json:"calibration"`
}
