package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// OptionType distinguishes calls from puts
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Quote is a snapshot of the underlying security
type Quote struct {
	Symbol        string  `json:"symbol"`
	Last          float64 `json:"last"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PrevClose     float64 `json:"prev_close"`
}

// OptionContract is one row of an option chain as delivered by the provider.
// Numeric fields are already normalised: absent values arrive as 0.
type OptionContract struct {
	ID           string     `json:"id"`
	Underlying   string     `json:"underlying"`
	Strike       float64    `json:"strike"`
	Type         OptionType `json:"type"`
	Expiration   time.Time  `json:"expiration"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Last         float64    `json:"last"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
	ImpliedVol   float64    `json:"implied_volatility"`
	Delta        float64    `json:"delta"`
	Gamma        float64    `json:"gamma"`
	Theta        float64    `json:"theta"`
	Vega         float64    `json:"vega"`
}

// SubScores holds the five independent 0-100 factor scores of a contract
type SubScores struct {
	Volume     int `json:"volume"`
	OIRatio    int `json:"oi_ratio"`
	Spread     int `json:"spread"`
	Volatility int `json:"volatility"`
	Moneyness  int `json:"moneyness"`
}

// ScoredContract is a contract plus its unusual-activity classification
type ScoredContract struct {
	OptionContract
	Scores     SubScores `json:"scores"`
	Confidence int       `json:"confidence"`
	IsUnusual  bool      `json:"is_unusual"`
	Reasons    []string  `json:"reasons,omitempty"`
}

// StrikeVolume aggregates traded volume at one strike
type StrikeVolume struct {
	CallVolume int64 `json:"call_volume"`
	PutVolume  int64 `json:"put_volume"`
}

// StrikeVolumes maps strike to traded volume. JSON keys are the strike
// formatted as a decimal string.
type StrikeVolumes map[float64]StrikeVolume

func (m StrikeVolumes) MarshalJSON() ([]byte, error) {
	out := make(map[string]StrikeVolume, len(m))
	for k, v := range m {
		out[strconv.FormatFloat(k, 'f', -1, 64)] = v
	}
	return json.Marshal(out)
}

func (m *StrikeVolumes) UnmarshalJSON(b []byte) error {
	var raw map[string]StrikeVolume
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(StrikeVolumes, len(raw))
	for k, v := range raw {
		strike, err := strconv.ParseFloat(k, 64)
		if err != nil {
			return fmt.Errorf("strike key %q: %w", k, err)
		}
		out[strike] = v
	}
	*m = out
	return nil
}
