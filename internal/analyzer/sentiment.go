package analyzer

import (
	"math"

	"github.com/sawpanic/optionflow/internal/models"
)

const (
	confidenceWeight = 0.4
	volumeWeight     = 0.1
	strategyBonus    = 5
)

// SentimentScore nets call-side flow against put-side flow
func SentimentScore(calls, puts []models.ScoredContract) float64 {
	return side(calls) - side(puts)
}

// Sentiment labels the flow of the top unusual calls against the top unusual
// puts. No flow on either side is neutral.
func Sentiment(calls, puts []models.ScoredContract) models.Sentiment {
	if len(calls) == 0 && len(puts) == 0 {
		return models.Neutral
	}
	score := SentimentScore(calls, puts)

	switch {
	case score > 20:
		return models.StronglyBullish
	case score > 10:
		return models.Bullish
	case score < -20:
		return models.StronglyBearish
	case score < -10:
		return models.Bearish
	default:
		return models.Neutral
	}
}

// OverallConfidence averages the confidence of every unusual contract and adds
// a bonus per strategy found, capped at 100.
func OverallConfidence(unusual []models.ScoredContract, strategyCount int) int {
	if len(unusual) == 0 {
		return 0
	}
	total := 0
	for _, c := range unusual {
		total += c.Confidence
	}
	avg := float64(total) / float64(len(unusual))
	return int(math.Round(math.Min(100, avg+float64(strategyBonus*strategyCount))))
}

func side(contracts []models.ScoredContract) float64 {
	if len(contracts) == 0 {
		return 0
	}
	var confidence float64
	var volume int64
	for _, c := range contracts {
		confidence += float64(c.Confidence)
		volume += c.Volume
	}
	avg := confidence / float64(len(contracts))
	return avg*confidenceWeight + float64(volume)*volumeWeight
}
