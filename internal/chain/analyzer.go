// Package chain scores a full option chain and ranks calls and puts.
package chain

import (
	"sort"

	"github.com/sawpanic/optionflow/internal/models"
	"github.com/sawpanic/optionflow/internal/scoring"
)

// Analysis is the ranked view of one expiration's chain
type Analysis struct {
	Calls          []models.ScoredContract
	Puts           []models.ScoredContract
	VolumeByStrike models.StrikeVolumes
}

// Analyzer ranks chains with a shared scorer
type Analyzer struct {
	scorer *scoring.Scorer
}

// NewAnalyzer creates a chain analyzer
func NewAnalyzer(scorer *scoring.Scorer) *Analyzer {
	if scorer == nil {
		scorer = scoring.NewScorer(scoring.DefaultWeights())
	}
	return &Analyzer{scorer: scorer}
}

// Analyze scores every contract, splits by type and ranks each side by
// confidence. Nothing is dropped; volume by strike covers every contract.
func (a *Analyzer) Analyze(contracts []models.OptionContract, underlying float64) Analysis {
	out := Analysis{
		Calls:          make([]models.ScoredContract, 0, len(contracts)/2),
		Puts:           make([]models.ScoredContract, 0, len(contracts)/2),
		VolumeByStrike: make(models.StrikeVolumes),
	}

	for _, c := range contracts {
		scored := a.scorer.Score(c, underlying)
		sv := out.VolumeByStrike[c.Strike]

		switch c.Type {
		case models.Call:
			out.Calls = append(out.Calls, scored)
			sv.CallVolume += c.Volume
		case models.Put:
			out.Puts = append(out.Puts, scored)
			sv.PutVolume += c.Volume
		default:
			continue
		}
		out.VolumeByStrike[c.Strike] = sv
	}

	rank(out.Calls)
	rank(out.Puts)

	return out
}

// rank is a stable sort so equal confidences keep provider order
func rank(contracts []models.ScoredContract) {
	sort.SliceStable(contracts, func(i, j int) bool {
		return contracts[i].Confidence > contracts[j].Confidence
	})
}

// Unusual returns at most limit unusual contracts from a ranked list.
// A limit <= 0 keeps all of them.
func Unusual(ranked []models.ScoredContract, limit int) []models.ScoredContract {
	out := make([]models.ScoredContract, 0)
	for _, c := range ranked {
		if !c.IsUnusual {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
