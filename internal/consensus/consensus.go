// Package consensus folds the panel's votes into one calibrated estimate.
// Each vote is weighted by who is speaking (base weight, reputation), how
// on-topic they are (domain relevance), and how sure they are (confidence);
// the aggregator also measures how much the panel disagrees with its own
// conclusion.
package consensus

import (
	"math"
	"sort"

	"github.com/solstice-ai/delphi/internal/model"
)

// Relevance boosts by how the agent's declared domains relate to the
// question's classification.
const (
	boostPrimary   = 1.5
	boostSecondary = 1.2
	boostNoMatch   = 0.6
	boostUntagged  = 0.8 // contrarian/generalist members with no declared domains

	// dissentBand is how far a vote may sit from the consensus before it
	// counts as dissent.
	dissentBand = 0.2

	// reviewThreshold is the dissent ratio above which the result is
	// flagged for human review.
	reviewThreshold = 0.4

	neutralProbability = 0.5
	neutralConfidence  = 0.5
)

// RelevanceBoost returns the weight multiplier for an agent given the
// question's domain classification.
func RelevanceBoost(profile model.AgentProfile, c model.DomainClassification) float64 {
	if len(profile.DomainTags) == 0 {
		return boostUntagged
	}
	if profile.HasDomain(c.Primary) {
		return boostPrimary
	}
	for _, s := range c.Secondary {
		if profile.HasDomain(s.Domain) {
			return boostSecondary
		}
	}
	return boostNoMatch
}

// Aggregate combines all voting responses into a ConsensusResult.
// reputations maps agent name to reputation score; missing agents count as
// the neutral 0.5. Responses without a structured brief cast no vote. A
// zero total weight yields the neutral 0.5/0.5 rather than dividing by zero.
func Aggregate(panel model.Panel, responses []model.AgentResponse, c model.DomainClassification, reputations map[string]float64) model.ConsensusResult {
	profiles := make(map[string]model.AgentProfile, len(panel))
	for _, p := range panel {
		profiles[p.Name] = p
	}

	var weights []model.AgentWeight
	var totalWeight, probSum, confSum float64

	for _, resp := range responses {
		if !resp.Voting() {
			continue
		}
		profile, ok := profiles[resp.Agent]
		if !ok {
			continue
		}

		reputation, ok := reputations[resp.Agent]
		if !ok {
			reputation = 0.5
		}
		boost := RelevanceBoost(profile, c)
		adjusted := profile.BaseWeight * boost * reputation * resp.Brief.Confidence

		weights = append(weights, model.AgentWeight{
			Agent:          resp.Agent,
			Probability:    resp.Brief.Probability,
			Confidence:     resp.Brief.Confidence,
			BaseWeight:     profile.BaseWeight,
			RelevanceBoost: boost,
			Reputation:     reputation,
			Adjusted:       adjusted,
		})
		totalWeight += adjusted
		probSum += resp.Brief.Probability * adjusted
		confSum += resp.Brief.Confidence * adjusted
	}

	result := model.ConsensusResult{
		Probability: neutralProbability,
		Confidence:  neutralConfidence,
		TotalWeight: totalWeight,
		Weights:     weights,
	}
	if totalWeight > 0 {
		result.Probability = probSum / totalWeight
		result.Confidence = confSum / totalWeight
	}

	// Dissent: the share of voters sitting outside the band around the
	// consensus, regardless of their weight.
	if len(weights) > 0 {
		dissenters := 0
		for _, w := range weights {
			if math.Abs(w.Probability-result.Probability) > dissentBand {
				dissenters++
			}
		}
		result.DissentRatio = float64(dissenters) / float64(len(weights))
	}
	result.RequiresReview = result.DissentRatio > reviewThreshold

	// Ranked descending so the heaviest voice reads first.
	sort.SliceStable(result.Weights, func(i, j int) bool {
		return result.Weights[i].Adjusted > result.Weights[j].Adjusted
	})
	return result
}
