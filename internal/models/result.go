package models

import "time"

// Sentiment is the directional read of a symbol's unusual flow
type Sentiment string

const (
	StronglyBullish Sentiment = "strongly-bullish"
	Bullish         Sentiment = "bullish"
	Neutral         Sentiment = "neutral"
	Bearish         Sentiment = "bearish"
	StronglyBearish Sentiment = "strongly-bearish"
)

// SymbolResult is the full analysis of one underlying
type SymbolResult struct {
	Symbol            string              `json:"symbol"`
	Quote             Quote               `json:"quote"`
	Expiration        time.Time           `json:"expiration"`
	DaysToExpiration  int                 `json:"days_to_expiration"`
	UnusualCalls      []ScoredContract    `json:"unusual_calls"`
	UnusualPuts       []ScoredContract    `json:"unusual_puts"`
	Strategies        []StrategyCandidate `json:"strategies"`
	Sentiment         Sentiment           `json:"sentiment"`
	OverallConfidence int                 `json:"overall_confidence"`
	VolumeByStrike    StrikeVolumes       `json:"volume_by_strike,omitempty"`
	AnalyzedAt        time.Time           `json:"analyzed_at"`
}

// ConfidenceFromConfig asks the pipeline for its configured minimum
// confidence. Zero is a real threshold and admits every analysed symbol.
const ConfidenceFromConfig = -1

// ScanFilters bound a batch scan
type ScanFilters struct {
	MinVolume     int64     `json:"min_volume"`
	MinConfidence int       `json:"min_confidence"`
	Concurrency   int       `json:"concurrency"`
	Expiration    time.Time `json:"expiration,omitempty"`
}

// SymbolFailure records why a symbol produced no result
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// ScanRun is the outcome of one batch scan
type ScanRun struct {
	ID               string          `json:"id"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration"`
	Filters          ScanFilters     `json:"filters"`
	SymbolsRequested int             `json:"symbols_requested"`
	SymbolsSucceeded int             `json:"symbols_succeeded"`
	SymbolsSkipped   int             `json:"symbols_skipped"`
	Results          []SymbolResult  `json:"results"`
	Failures         []SymbolFailure `json:"failures,omitempty"`
}

// HistoryEntry is one symbol's outcome in a recorded scan
type HistoryEntry struct {
	RunID        string       `json:"run_id" db:"run_id"`
	Symbol       string       `json:"symbol" db:"symbol"`
	Confidence   int          `json:"confidence" db:"confidence"`
	Sentiment    Sentiment    `json:"sentiment" db:"sentiment"`
	UnusualCalls int          `json:"unusual_calls" db:"unusual_calls"`
	UnusualPuts  int          `json:"unusual_puts" db:"unusual_puts"`
	Strategies   int          `json:"strategies" db:"strategies"`
	Result       SymbolResult `json:"result" db:"-"`
	RecordedAt   time.Time    `json:"recorded_at" db:"created_at"`
}

// NewHistoryEntry summarises r for the history store
func NewHistoryEntry(runID string, r SymbolResult, at time.Time) HistoryEntry {
	return HistoryEntry{
		RunID:        runID,
		Symbol:       r.Symbol,
		Confidence:   r.OverallConfidence,
		Sentiment:    r.Sentiment,
		UnusualCalls: len(r.UnusualCalls),
		UnusualPuts:  len(r.UnusualPuts),
		Strategies:   len(r.Strategies),
		Result:       r,
		RecordedAt:   at,
	}
}
