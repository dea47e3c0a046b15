package scoring

import "fmt"

// Weights sets how much each sub-score contributes to the combined confidence
type Weights struct {
	Volume     float64 `json:"volume" yaml:"volume"`
	OIRatio    float64 `json:"oi_ratio" yaml:"oi_ratio"`
	Spread     float64 `json:"spread" yaml:"spread"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
	Moneyness  float64 `json:"moneyness" yaml:"moneyness"`
}

// DefaultWeights returns the fixed production weighting
func DefaultWeights() Weights {
	return Weights{
		Volume:     0.30,
		OIRatio:    0.25,
		Spread:     0.15,
		Volatility: 0.20,
		Moneyness:  0.10,
	}
}

func (w Weights) Sum() float64 {
	return w.Volume + w.OIRatio + w.Spread + w.Volatility + w.Moneyness
}

// Validate rejects negative weights and weightings that do not sum to 1
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"volume":     w.Volume,
		"oi_ratio":   w.OIRatio,
		"spread":     w.Spread,
		"volatility": w.Volatility,
		"moneyness":  w.Moneyness,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must be non-negative, got %.3f", name, v)
		}
	}
	if sum := w.Sum(); sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("weights sum to %.3f, expected 1.000", sum)
	}
	return nil
}
