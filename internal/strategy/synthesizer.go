// Package strategy builds multi-leg strategy candidates from unusual contracts.
//
// Probabilities attached to candidates are fixed heuristics, not model output:
// straddles and strangles carry 35, iron condors 65, and vertical spreads reuse
// the confidence of their higher-ranked leg.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/optionflow/internal/models"
)

// Config holds the search bands of the synthesizer
type Config struct {
	MinSpreadWidth      float64 `yaml:"min_spread_width"`
	MaxSpreadWidth      float64 `yaml:"max_spread_width"`
	MaxVerticals        int     `yaml:"max_verticals"`
	NearMoneyPct        float64 `yaml:"near_money_pct"`
	StrikeTolerance     float64 `yaml:"strike_tolerance"`
	CondorPutBound      float64 `yaml:"condor_put_bound"`
	CondorCallBound     float64 `yaml:"condor_call_bound"`
	StraddleProbability int     `yaml:"straddle_probability"`
	CondorProbability   int     `yaml:"condor_probability"`
}

// DefaultConfig returns the production search bands
func DefaultConfig() Config {
	return Config{
		MinSpreadWidth:      5,
		MaxSpreadWidth:      20,
		MaxVerticals:        3,
		NearMoneyPct:        0.02,
		StrikeTolerance:     0.01,
		CondorPutBound:      0.95,
		CondorCallBound:     1.05,
		StraddleProbability: 35,
		CondorProbability:   65,
	}
}

// Synthesizer searches ranked unusual contracts for strategy candidates
type Synthesizer struct {
	cfg Config
}

// NewSynthesizer creates a synthesizer
func NewSynthesizer(cfg Config) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

// Synthesize runs every detector over unusual-only ranked lists and orders the
// result by max profit, unlimited first.
func (s *Synthesizer) Synthesize(calls, puts []models.ScoredContract, underlying float64) []models.StrategyCandidate {
	var out []models.StrategyCandidate

	out = append(out, s.Verticals(calls, puts)...)
	if c, ok := s.StraddleOrStrangle(calls, puts, underlying); ok {
		out = append(out, c)
	}
	if c, ok := s.IronCondor(calls, puts, underlying); ok {
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MaxProfit.Rank() > out[j].MaxProfit.Rank()
	})
	return out
}

// Verticals pairs same-type contracts whose strikes are MinSpreadWidth to
// MaxSpreadWidth apart. Pairs are taken in ranked order, calls before puts, and
// the search stops at the first MaxVerticals matches.
func (s *Synthesizer) Verticals(calls, puts []models.ScoredContract) []models.StrategyCandidate {
	var out []models.StrategyCandidate

	for _, side := range [][]models.ScoredContract{calls, puts} {
		for i := 0; i < len(side); i++ {
			for j := i + 1; j < len(side); j++ {
				if len(out) >= s.cfg.MaxVerticals {
					return out
				}
				if c, ok := s.vertical(side[i], side[j]); ok {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func (s *Synthesizer) vertical(ranked, other models.ScoredContract) (models.StrategyCandidate, bool) {
	if ranked.Type != other.Type || !sameSeries(ranked, other) {
		return models.StrategyCandidate{}, false
	}
	width := math.Abs(ranked.Strike - other.Strike)
	if width < s.cfg.MinSpreadWidth || width > s.cfg.MaxSpreadWidth {
		return models.StrategyCandidate{}, false
	}

	lower, higher := ranked, other
	if lower.Strike > higher.Strike {
		lower, higher = higher, lower
	}
	debit := math.Abs(ranked.Last - other.Last)

	var legs []models.Leg
	var breakeven float64
	var name string
	if ranked.Type == models.Call {
		legs = []models.Leg{{Contract: lower, Direction: models.Buy}, {Contract: higher, Direction: models.Sell}}
		breakeven = lower.Strike + debit
		name = "Bull call spread"
	} else {
		legs = []models.Leg{{Contract: higher, Direction: models.Buy}, {Contract: lower, Direction: models.Sell}}
		breakeven = higher.Strike - debit
		name = "Bear put spread"
	}

	return models.StrategyCandidate{
		Type:                 models.VerticalSpread,
		Legs:                 legs,
		NetPremium:           cents(-debit),
		MaxProfit:            models.Limited(cents(math.Max(0, width-debit))),
		MaxLoss:              models.Limited(cents(debit)),
		Breakevens:           []float64{cents(breakeven)},
		Probability:          ranked.Confidence,
		ProbabilityHeuristic: true,
		Rationale: fmt.Sprintf("%s %s/%s on unusual activity (leg confidence %d)",
			name, strike(lower.Strike), strike(higher.Strike), ranked.Confidence),
	}, true
}

// StraddleOrStrangle buys the most confident unusual call and put that both sit
// within NearMoneyPct of the underlying.
func (s *Synthesizer) StraddleOrStrangle(calls, puts []models.ScoredContract, underlying float64) (models.StrategyCandidate, bool) {
	if underlying <= 0 {
		return models.StrategyCandidate{}, false
	}
	call, ok := firstNear(calls, underlying, s.cfg.NearMoneyPct)
	if !ok {
		return models.StrategyCandidate{}, false
	}
	put, ok := firstNear(puts, underlying, s.cfg.NearMoneyPct)
	if !ok || !sameSeries(call, put) {
		return models.StrategyCandidate{}, false
	}

	typ := models.Strangle
	if math.Abs(call.Strike-put.Strike) <= s.cfg.StrikeTolerance {
		typ = models.Straddle
	}
	cost := call.Last + put.Last

	return models.StrategyCandidate{
		Type: typ,
		Legs: []models.Leg{
			{Contract: call, Direction: models.Buy},
			{Contract: put, Direction: models.Buy},
		},
		NetPremium:           cents(-cost),
		MaxProfit:            models.UnlimitedAmount(),
		MaxLoss:              models.Limited(cents(cost)),
		Breakevens:           []float64{cents(put.Strike - cost), cents(call.Strike + cost)},
		Probability:          s.cfg.StraddleProbability,
		ProbabilityHeuristic: true,
		Rationale: fmt.Sprintf("Unusual near-the-money activity on both sides (call %s, put %s); positioned for a large move",
			strike(call.Strike), strike(put.Strike)),
	}, true
}

// IronCondor sells the innermost out-of-the-money put and call and buys the
// next strikes out as wings.
func (s *Synthesizer) IronCondor(calls, puts []models.ScoredContract, underlying float64) (models.StrategyCandidate, bool) {
	var otmPuts, otmCalls []models.ScoredContract
	for _, p := range puts {
		if p.Strike < underlying*s.cfg.CondorPutBound {
			otmPuts = append(otmPuts, p)
		}
	}
	for _, c := range calls {
		if c.Strike > underlying*s.cfg.CondorCallBound {
			otmCalls = append(otmCalls, c)
		}
	}
	if len(otmPuts) < 2 || len(otmCalls) < 2 {
		return models.StrategyCandidate{}, false
	}

	sort.SliceStable(otmPuts, func(i, j int) bool { return otmPuts[i].Strike > otmPuts[j].Strike })
	sort.SliceStable(otmCalls, func(i, j int) bool { return otmCalls[i].Strike < otmCalls[j].Strike })

	shortPut, longPut := otmPuts[0], otmPuts[1]
	shortCall, longCall := otmCalls[0], otmCalls[1]
	if shortPut.Strike >= shortCall.Strike {
		return models.StrategyCandidate{}, false
	}
	for _, leg := range []models.ScoredContract{longPut, shortCall, longCall} {
		if !sameSeries(shortPut, leg) {
			return models.StrategyCandidate{}, false
		}
	}

	credit := (shortPut.Bid + shortCall.Bid) - (longPut.Ask + longCall.Ask)
	wing := math.Max(shortPut.Strike-longPut.Strike, longCall.Strike-shortCall.Strike)

	return models.StrategyCandidate{
		Type: models.IronCondor,
		Legs: []models.Leg{
			{Contract: longPut, Direction: models.Buy},
			{Contract: shortPut, Direction: models.Sell},
			{Contract: shortCall, Direction: models.Sell},
			{Contract: longCall, Direction: models.Buy},
		},
		NetPremium:           cents(credit),
		MaxProfit:            models.Limited(cents(credit)),
		MaxLoss:              models.Limited(cents(math.Max(0, wing-credit))),
		Breakevens:           []float64{cents(shortPut.Strike - credit), cents(shortCall.Strike + credit)},
		Probability:          s.cfg.CondorProbability,
		ProbabilityHeuristic: true,
		Rationale: fmt.Sprintf("Unusual out-of-the-money flow on both wings; range %s-%s",
			strike(shortPut.Strike), strike(shortCall.Strike)),
	}, true
}

func firstNear(ranked []models.ScoredContract, underlying, pct float64) (models.ScoredContract, bool) {
	for _, c := range ranked {
		if math.Abs(c.Strike-underlying)/underlying <= pct {
			return c, true
		}
	}
	return models.ScoredContract{}, false
}

// sameSeries holds legs to one underlying and one expiration
func sameSeries(a, b models.ScoredContract) bool {
	return a.Underlying == b.Underlying && a.Expiration.Equal(b.Expiration)
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func strike(v float64) string {
	return decimal.NewFromFloat(v).String()
}
