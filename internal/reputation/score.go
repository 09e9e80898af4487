package reputation

import (
	"math"
	"time"
)

// Scoring weights. A reputation score blends long-run accuracy, the last 30
// days, and how well an agent's stated confidence tracked its accuracy.
const (
	weightBaseAccuracy   = 0.5
	weightRecentAccuracy = 0.3
	weightCalibration    = 0.2

	recentWindow = 30 * 24 * time.Hour

	// neutralScore is assigned to agents with no verified history, and is
	// what thin histories are blended toward.
	neutralScore = 0.5

	// fullSampleSize is the verified-prediction count at which an agent's
	// score stands entirely on its own history.
	fullSampleSize = 10
)

// sample is one verified prediction.
type sample struct {
	accuracy   float64
	confidence float64
	recordedAt time.Time
}

// BrierAccuracy converts a probability estimate and a resolved outcome into
// an accuracy score: 1 minus the squared error, so 1.0 is a perfect call and
// 0.0 is a maximally confident miss.
func BrierAccuracy(probability, outcome float64) float64 {
	d := probability - outcome
	return 1 - d*d
}

// combine computes the reputation score for a set of verified predictions.
// Empty history returns the neutral score; histories under fullSampleSize
// are linearly blended toward it so a lucky streak of two cannot dominate
// an established agent.
func combine(samples []sample, now time.Time) float64 {
	if len(samples) == 0 {
		return neutralScore
	}

	var accSum float64
	for _, s := range samples {
		accSum += s.accuracy
	}
	baseAccuracy := accSum / float64(len(samples))

	cutoff := now.Add(-recentWindow)
	var recentSum float64
	recentN := 0
	for _, s := range samples {
		if !s.recordedAt.Before(cutoff) {
			recentSum += s.accuracy
			recentN++
		}
	}
	recentAccuracy := baseAccuracy
	if recentN > 0 {
		recentAccuracy = recentSum / float64(recentN)
	}

	var calErrSum float64
	for _, s := range samples {
		calErrSum += math.Abs(s.accuracy - s.confidence)
	}
	calibration := 1 - calErrSum/float64(len(samples))

	score := weightBaseAccuracy*baseAccuracy +
		weightRecentAccuracy*recentAccuracy +
		weightCalibration*calibration

	if n := len(samples); n < fullSampleSize {
		frac := float64(n) / fullSampleSize
		score = score*frac + neutralScore*(1-frac)
	}
	return score
}
