// Package scoring classifies individual option contracts as unusual activity.
package scoring

import (
	"fmt"
	"math"

	"github.com/sawpanic/optionflow/internal/models"
)

// Scorer turns a contract into a ScoredContract. It holds no mutable state and
// is safe for concurrent use.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights. Zero weights fall back to
// DefaultWeights.
func NewScorer(weights Weights) *Scorer {
	if weights.Sum() == 0 {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// Weights returns the active weighting
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score computes the five sub-scores, the combined confidence and the reasons
func (s *Scorer) Score(c models.OptionContract, underlying float64) models.ScoredContract {
	scores := models.SubScores{
		Volume:     VolumeScore(c),
		OIRatio:    OIRatioScore(c),
		Spread:     SpreadScore(c),
		Volatility: VolatilityScore(c),
		Moneyness:  MoneynessScore(c, underlying),
	}

	confidence := s.Combine(scores)

	return models.ScoredContract{
		OptionContract: c,
		Scores:         scores,
		Confidence:     confidence,
		IsUnusual:      IsUnusual(confidence),
		Reasons:        reasons(c, underlying, scores),
	}
}

// Combine applies the weights and rounds into [0,100]
func (s *Scorer) Combine(scores models.SubScores) int {
	w := s.weights
	total := float64(scores.Volume)*w.Volume +
		float64(scores.OIRatio)*w.OIRatio +
		float64(scores.Spread)*w.Spread +
		float64(scores.Volatility)*w.Volatility +
		float64(scores.Moneyness)*w.Moneyness

	return clamp(int(math.Round(total)))
}

// IsUnusual is the single classification rule for unusual activity
func IsUnusual(confidence int) bool {
	return confidence >= unusualConfidenceMark
}

// reasons only describes factors that fired; a quiet factor is simply omitted
func reasons(c models.OptionContract, underlying float64, scores models.SubScores) []string {
	var out []string

	if scores.Volume >= 70 {
		avgVolume := math.Max(minAvgVolume, float64(c.OpenInterest)*avgVolumeOIFraction)
		out = append(out, fmt.Sprintf("Volume %d is %.1fx the average", c.Volume, float64(c.Volume)/avgVolume))
	}
	if scores.OIRatio >= 70 {
		out = append(out, fmt.Sprintf("Volume/OI ratio %.2f", volumeOIRatio(c)))
	}
	if scores.Moneyness >= 80 {
		out = append(out, fmt.Sprintf("Near the money (%s%% from spot)", moneyness(c.Strike, underlying).Shift(2).StringFixed(1)))
	}
	if scores.Volatility >= 75 {
		out = append(out, fmt.Sprintf("Elevated implied volatility %.0f%%", c.ImpliedVol*100))
	}

	return out
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
