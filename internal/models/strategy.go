package models

import (
	"encoding/json"
	"math"
)

// StrategyType names a multi-leg structure
type StrategyType string

const (
	VerticalSpread StrategyType = "vertical-spread"
	Straddle       StrategyType = "straddle"
	Strangle       StrategyType = "strangle"
	IronCondor     StrategyType = "iron-condor"
)

// Direction is the side taken on a leg
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Leg is one contract of a strategy
type Leg struct {
	Contract  ScoredContract `json:"contract"`
	Direction Direction      `json:"direction"`
}

// Amount is a per-share dollar figure that may be unbounded.
// It encodes as a number, or as the string "unlimited".
type Amount struct {
	Value     float64
	Unlimited bool
}

// Limited returns a bounded amount
func Limited(v float64) Amount { return Amount{Value: v} }

// UnlimitedAmount returns an unbounded amount
func UnlimitedAmount() Amount { return Amount{Unlimited: true} }

// Rank orders amounts, unlimited above every bounded value
func (a Amount) Rank() float64 {
	if a.Unlimited {
		return math.Inf(1)
	}
	return a.Value
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(a.Value)
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == `"unlimited"` {
		*a = UnlimitedAmount()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = Limited(v)
	return nil
}

// StrategyCandidate is a multi-leg idea synthesized from flagged contracts.
// NetPremium is positive for a credit and negative for a debit.
type StrategyCandidate struct {
	Type                 StrategyType `json:"type"`
	Legs                 []Leg        `json:"legs"`
	NetPremium           float64      `json:"net_premium"`
	MaxProfit            Amount       `json:"max_profit"`
	MaxLoss              Amount       `json:"max_loss"`
	Breakevens           []float64    `json:"breakevens"`
	Probability          int          `json:"probability"`
	ProbabilityHeuristic bool         `json:"probability_heuristic"`
	Rationale            string       `json:"rationale"`
}

// IsCredit reports whether the strategy collects premium on entry
func (s StrategyCandidate) IsCredit() bool {
	return s.NetPremium > 0
}
