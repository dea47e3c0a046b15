package scoring

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/optionflow/internal/models"
)

// Sub-score thresholds. Each factor maps onto a small set of coarse buckets.
const (
	minAvgVolume          = 100.0
	avgVolumeOIFraction   = 0.1
	absoluteVolumeFloor   = 1000
	unusualConfidenceMark = 50
)

// Bucket edges for ratios of prices. Prices are compared as decimals so a
// spread of exactly 10% is 10%.
var (
	pct5  = decimal.RequireFromString("0.05")
	pct10 = decimal.RequireFromString("0.10")
	pct15 = decimal.RequireFromString("0.15")
	pct20 = decimal.RequireFromString("0.20")
	pct30 = decimal.RequireFromString("0.30")
)

// VolumeScore compares traded volume to a proxy for average daily volume
// (a tenth of open interest, never below 100 contracts).
func VolumeScore(c models.OptionContract) int {
	avgVolume := math.Max(minAvgVolume, float64(c.OpenInterest)*avgVolumeOIFraction)
	ratio := float64(c.Volume) / avgVolume

	switch {
	case ratio >= 3.0:
		return 100
	case ratio >= 1.5:
		return 75
	case ratio >= 0.75:
		return 50
	case c.Volume >= absoluteVolumeFloor:
		return 25
	default:
		return 0
	}
}

// OIRatioScore scores volume against open interest. No open interest, no signal.
func OIRatioScore(c models.OptionContract) int {
	ratio := volumeOIRatio(c)

	switch {
	case ratio >= 2.0:
		return 100
	case ratio >= 1.4:
		return 75
	case ratio >= 0.8:
		return 50
	default:
		return 0
	}
}

// SpreadScore rewards tight markets relative to the last trade.
// A crossed quote gives a negative spread and lands in the tightest bucket.
func SpreadScore(c models.OptionContract) int {
	if c.Last <= 0 || c.Bid <= 0 || c.Ask <= 0 {
		return 50
	}
	spread := decimal.NewFromFloat(c.Ask).Sub(decimal.NewFromFloat(c.Bid)).Div(decimal.NewFromFloat(c.Last))

	switch {
	case spread.LessThanOrEqual(pct10):
		return 100
	case spread.LessThanOrEqual(pct20):
		return 75
	case spread.LessThanOrEqual(pct30):
		return 50
	default:
		return 25
	}
}

// VolatilityScore buckets absolute implied volatility. This is not an IV
// percentile; the provider snapshot carries no IV history.
func VolatilityScore(c models.OptionContract) int {
	iv := c.ImpliedVol
	if iv <= 0 || math.IsNaN(iv) {
		return 50
	}

	switch {
	case iv >= 0.5:
		return 100
	case iv >= 0.4:
		return 85
	case iv >= 0.3:
		return 70
	case iv >= 0.2:
		return 50
	default:
		return 25
	}
}

// MoneynessScore favours strikes close to the underlying
func MoneynessScore(c models.OptionContract, underlying float64) int {
	if underlying <= 0 {
		return 25
	}
	distance := moneyness(c.Strike, underlying)

	switch {
	case distance.LessThanOrEqual(pct5):
		return 100
	case distance.LessThanOrEqual(pct10):
		return 75
	case distance.LessThanOrEqual(pct15):
		return 50
	default:
		return 25
	}
}

func volumeOIRatio(c models.OptionContract) float64 {
	if c.OpenInterest <= 0 {
		return 0
	}
	return float64(c.Volume) / float64(c.OpenInterest)
}

// moneyness is |strike - underlying| / underlying
func moneyness(strike, underlying float64) decimal.Decimal {
	if underlying <= 0 {
		return decimal.Zero
	}
	u := decimal.NewFromFloat(underlying)
	return decimal.NewFromFloat(strike).Sub(u).Abs().Div(u)
}
