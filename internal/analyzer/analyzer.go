// Package analyzer rolls a symbol's option chain up into unusual contracts,
// strategy candidates, a sentiment label and an overall confidence.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/chain"
	"github.com/sawpanic/optionflow/internal/models"
	"github.com/sawpanic/optionflow/internal/scoring"
	"github.com/sawpanic/optionflow/internal/strategy"
)

// MarketData is the read surface the analyzer needs from a market-data provider
type MarketData interface {
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
	FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error)
	FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error)
}

// Options tunes the analyzer
type Options struct {
	Weights       scoring.Weights
	Strategy      strategy.Config
	TopContracts  int
	TopStrategies int
	FetchTimeout  time.Duration
	Now           func() time.Time
}

// DefaultOptions returns production settings
func DefaultOptions() Options {
	return Options{
		Weights:       scoring.DefaultWeights(),
		Strategy:      strategy.DefaultConfig(),
		TopContracts:  10,
		TopStrategies: 5,
		FetchTimeout:  10 * time.Second,
		Now:           time.Now,
	}
}

// Analyzer produces SymbolResults. It is explicitly constructed, holds no
// mutable state and may be shared by concurrent scans.
type Analyzer struct {
	data  MarketData
	chain *chain.Analyzer
	synth *strategy.Synthesizer
	opts  Options
}

// New creates an analyzer reading from data
func New(data MarketData, opts Options) *Analyzer {
	def := DefaultOptions()
	if opts.TopContracts <= 0 {
		opts.TopContracts = def.TopContracts
	}
	if opts.TopStrategies <= 0 {
		opts.TopStrategies = def.TopStrategies
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.Strategy.MaxVerticals == 0 {
		opts.Strategy = def.Strategy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Analyzer{
		data:  data,
		chain: chain.NewAnalyzer(scoring.NewScorer(opts.Weights)),
		synth: strategy.NewSynthesizer(opts.Strategy),
		opts:  opts,
	}
}

// AnalyzeSymbol fetches the quote and the chain for the given expiration, or
// the nearest one when expiration is zero, and aggregates them. Every failure
// is returned as *models.AnalysisError.
func (a *Analyzer) AnalyzeSymbol(ctx context.Context, symbol string, expiration time.Time) (*models.SymbolResult, error) {
	result, err := a.analyze(ctx, symbol, expiration)
	if err != nil {
		return nil, &models.AnalysisError{Symbol: symbol, Err: err}
	}
	return result, nil
}

// AnalyzeWithQuote continues an analysis from an already fetched quote, as
// the scan pipeline does after its volume prefilter.
func (a *Analyzer) AnalyzeWithQuote(ctx context.Context, symbol string, quote models.Quote, expiration time.Time) (*models.SymbolResult, error) {
	result, err := a.analyzeQuoted(ctx, symbol, quote, expiration)
	if err != nil {
		return nil, &models.AnalysisError{Symbol: symbol, Err: err}
	}
	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, symbol string, expiration time.Time) (*models.SymbolResult, error) {
	quote, err := a.FetchQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return a.analyzeQuoted(ctx, symbol, quote, expiration)
}

func (a *Analyzer) analyzeQuoted(ctx context.Context, symbol string, quote models.Quote, expiration time.Time) (*models.SymbolResult, error) {
	var err error
	if quote.Last <= 0 {
		return nil, &models.DataQualityError{Symbol: symbol, Reason: fmt.Sprintf("quote price %.2f is not positive", quote.Last)}
	}
	if quote.Symbol == "" {
		quote.Symbol = symbol
	}

	if expiration.IsZero() {
		expiration, err = a.nearestExpiration(ctx, symbol)
		if err != nil {
			return nil, err
		}
	}

	var contracts []models.OptionContract
	err = a.withTimeout(ctx, symbol, "chain", func(ctx context.Context) error {
		var ferr error
		contracts, ferr = a.data.FetchOptionChain(ctx, symbol, expiration)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, &models.DataQualityError{Symbol: symbol, Reason: "option chain is empty for " + expiration.Format("2006-01-02")}
	}

	result := a.Aggregate(quote, expiration, contracts)

	log.Debug().
		Str("symbol", symbol).
		Str("expiration", expiration.Format("2006-01-02")).
		Int("contracts", len(contracts)).
		Int("unusual_calls", len(result.UnusualCalls)).
		Int("unusual_puts", len(result.UnusualPuts)).
		Int("strategies", len(result.Strategies)).
		Int("confidence", result.OverallConfidence).
		Msg("Symbol analyzed")

	return &result, nil
}

// FetchQuote reads the underlying quote under the fetch timeout
func (a *Analyzer) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var quote models.Quote
	err := a.withTimeout(ctx, symbol, "quote", func(ctx context.Context) error {
		var ferr error
		quote, ferr = a.data.FetchQuote(ctx, symbol)
		return ferr
	})
	return quote, err
}

// Aggregate is the pure part of the analysis: score, rank, filter to unusual,
// synthesize strategies and derive sentiment and confidence.
func (a *Analyzer) Aggregate(quote models.Quote, expiration time.Time, contracts []models.OptionContract) models.SymbolResult {
	ranked := a.chain.Analyze(contracts, quote.Last)

	allCalls := chain.Unusual(ranked.Calls, 0)
	allPuts := chain.Unusual(ranked.Puts, 0)
	topCalls := head(allCalls, a.opts.TopContracts)
	topPuts := head(allPuts, a.opts.TopContracts)

	strategies := a.synth.Synthesize(topCalls, topPuts, quote.Last)
	if len(strategies) > a.opts.TopStrategies {
		strategies = strategies[:a.opts.TopStrategies]
	}

	return models.SymbolResult{
		Symbol:            quote.Symbol,
		Quote:             quote,
		Expiration:        expiration,
		DaysToExpiration:  daysBetween(a.opts.Now(), expiration),
		UnusualCalls:      topCalls,
		UnusualPuts:       topPuts,
		Strategies:        strategies,
		Sentiment:         Sentiment(topCalls, topPuts),
		OverallConfidence: OverallConfidence(append(append([]models.ScoredContract{}, allCalls...), allPuts...), len(strategies)),
		VolumeByStrike:    ranked.VolumeByStrike,
		AnalyzedAt:        a.opts.Now().UTC(),
	}
}

func (a *Analyzer) nearestExpiration(ctx context.Context, symbol string) (time.Time, error) {
	var dates []time.Time
	err := a.withTimeout(ctx, symbol, "expirations", func(ctx context.Context) error {
		var ferr error
		dates, ferr = a.data.FetchExpirations(ctx, symbol)
		return ferr
	})
	if err != nil {
		return time.Time{}, err
	}
	exp, ok := NearestExpiration(dates, a.opts.Now())
	if !ok {
		return time.Time{}, &models.DataQualityError{Symbol: symbol, Reason: "no option expirations"}
	}
	return exp, nil
}

// withTimeout bounds one provider call and types its failure
func (a *Analyzer) withTimeout(ctx context.Context, symbol, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	var pe *models.ProviderError
	var dq *models.DataQualityError
	if errors.As(err, &pe) || errors.As(err, &dq) {
		return err
	}
	return &models.ProviderError{Symbol: symbol, Op: op, Err: err}
}

// NearestExpiration picks the earliest expiration on or after today, falling
// back to the latest listed date when every date has passed.
func NearestExpiration(dates []time.Time, now time.Time) (time.Time, bool) {
	if len(dates) == 0 {
		return time.Time{}, false
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	today := truncateDay(now)
	for _, d := range sorted {
		if !truncateDay(d).Before(today) {
			return d, true
		}
	}
	return sorted[len(sorted)-1], true
}

func head(contracts []models.ScoredContract, n int) []models.ScoredContract {
	if len(contracts) > n {
		return contracts[:n]
	}
	return contracts
}

func daysBetween(now, expiration time.Time) int {
	days := int(truncateDay(expiration).Sub(truncateDay(now)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
