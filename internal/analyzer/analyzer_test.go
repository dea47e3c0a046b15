package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/optionflow/internal/models"
)

var (
	now    = time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	friday = time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
)

type fakeData struct {
	quote       models.Quote
	quoteErr    error
	chain       []models.OptionContract
	chainErr    error
	expirations []time.Time
	block       bool
	gotExpiry   time.Time
}

func (f *fakeData) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if f.block {
		<-ctx.Done()
		return models.Quote{}, ctx.Err()
	}
	return f.quote, f.quoteErr
}

func (f *fakeData) FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error) {
	f.gotExpiry = expiration
	return f.chain, f.chainErr
}

func (f *fakeData) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return f.expirations, nil
}

func hot(typ models.OptionType, strike, last float64, volume int64) models.OptionContract {
	return models.OptionContract{
		Underlying: "XYZ", Type: typ, Strike: strike, Expiration: friday,
		Volume: volume, OpenInterest: 500, Bid: last - 0.05, Ask: last + 0.05, Last: last, ImpliedVol: 0.55,
	}
}

func quiet(typ models.OptionType, strike float64) models.OptionContract {
	return models.OptionContract{
		Underlying: "XYZ", Type: typ, Strike: strike, Expiration: friday,
		Volume: 2, OpenInterest: 900, Bid: 0.1, Ask: 0.4, Last: 0.2, ImpliedVol: 0.12,
	}
}

func newTestAnalyzer(data MarketData) *Analyzer {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return now }
	opts.FetchTimeout = 50 * time.Millisecond
	return New(data, opts)
}

func TestAnalyzeSymbol_FullRollup(t *testing.T) {
	data := &fakeData{
		quote:       models.Quote{Symbol: "XYZ", Last: 100, Volume: 1_000_000},
		expirations: []time.Time{friday.AddDate(0, 0, 7), friday, now.AddDate(0, 0, -3)},
		chain: []models.OptionContract{
			hot(models.Call, 100, 3.00, 6000),
			hot(models.Call, 110, 1.00, 4000),
			hot(models.Put, 100, 2.50, 1500),
			quiet(models.Put, 70),
			quiet(models.Call, 140),
		},
	}

	result, err := newTestAnalyzer(data).AnalyzeSymbol(context.Background(), "XYZ", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, friday, data.gotExpiry, "nearest future expiration")
	assert.Equal(t, 4, result.DaysToExpiration)
	assert.Equal(t, "XYZ", result.Symbol)
	assert.Len(t, result.UnusualCalls, 2)
	assert.Len(t, result.UnusualPuts, 1)
	assert.NotEmpty(t, result.Strategies)
	assert.LessOrEqual(t, len(result.Strategies), 5)
	assert.Equal(t, models.StronglyBullish, result.Sentiment)
	assert.GreaterOrEqual(t, result.OverallConfidence, 50)
	assert.LessOrEqual(t, result.OverallConfidence, 100)
	assert.Equal(t, int64(6000), result.VolumeByStrike[100].CallVolume)
	assert.Equal(t, int64(1500), result.VolumeByStrike[100].PutVolume)
	assert.Equal(t, int64(2), result.VolumeByStrike[70].PutVolume)

	for _, s := range result.Strategies {
		for _, leg := range s.Legs {
			assert.True(t, leg.Contract.Expiration.Equal(friday))
			assert.Equal(t, "XYZ", leg.Contract.Underlying)
		}
	}
}

func TestAnalyzeSymbol_ExplicitExpiration(t *testing.T) {
	data := &fakeData{quote: models.Quote{Last: 50}, chain: []models.OptionContract{quiet(models.Call, 50)}}
	want := friday.AddDate(0, 0, 14)

	result, err := newTestAnalyzer(data).AnalyzeSymbol(context.Background(), "ABC", want)
	require.NoError(t, err)
	assert.Equal(t, want, data.gotExpiry)
	assert.Equal(t, "ABC", result.Symbol)
	assert.Empty(t, result.UnusualCalls)
	assert.Equal(t, models.Neutral, result.Sentiment)
	assert.Equal(t, 0, result.OverallConfidence)
}

func TestAnalyzeWithQuote_SkipsQuoteFetch(t *testing.T) {
	data := &fakeData{quoteErr: errors.New("must not be called"), chain: []models.OptionContract{quiet(models.Put, 48)}}

	result, err := newTestAnalyzer(data).AnalyzeWithQuote(context.Background(), "ABC", models.Quote{Symbol: "ABC", Last: 50}, friday)
	require.NoError(t, err)
	assert.Equal(t, "ABC", result.Symbol)
	assert.Equal(t, 50.0, result.Quote.Last)

	_, err = newTestAnalyzer(data).AnalyzeWithQuote(context.Background(), "ABC", models.Quote{}, friday)
	assert.Equal(t, models.KindDataQuality, models.ErrorKind(err))
}

func TestAnalyzeSymbol_Errors(t *testing.T) {
	tests := []struct {
		name string
		data *fakeData
		kind string
	}{
		{"zero_price", &fakeData{quote: models.Quote{Last: 0}}, models.KindDataQuality},
		{"empty_chain", &fakeData{quote: models.Quote{Last: 10}, expirations: []time.Time{friday}}, models.KindDataQuality},
		{"no_expirations", &fakeData{quote: models.Quote{Last: 10}}, models.KindDataQuality},
		{"quote_failure", &fakeData{quoteErr: errors.New("503")}, models.KindProvider},
		{"chain_failure", &fakeData{quote: models.Quote{Last: 10}, expirations: []time.Time{friday}, chainErr: errors.New("reset")}, models.KindProvider},
		{"timeout", &fakeData{block: true}, models.KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAnalyzer(tt.data).AnalyzeSymbol(context.Background(), "XYZ", time.Time{})
			require.Error(t, err)

			var ae *models.AnalysisError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "XYZ", ae.Symbol)
			assert.Equal(t, tt.kind, models.ErrorKind(err))
		})
	}
}

func TestAnalyzeSymbol_TimeoutIsDeadlineExceeded(t *testing.T) {
	_, err := newTestAnalyzer(&fakeData{block: true}).AnalyzeSymbol(context.Background(), "XYZ", time.Time{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAggregate_LimitsTopLists(t *testing.T) {
	var contracts []models.OptionContract
	for i := 0; i < 14; i++ {
		contracts = append(contracts, hot(models.Call, 95+float64(i), 1, 6000))
		contracts = append(contracts, hot(models.Put, 95+float64(i), 1, 6000))
	}

	result := newTestAnalyzer(nil).Aggregate(models.Quote{Symbol: "XYZ", Last: 100}, friday, contracts)

	assert.Len(t, result.UnusualCalls, 10)
	assert.Len(t, result.UnusualPuts, 10)
	assert.LessOrEqual(t, len(result.Strategies), 5)
	assert.Equal(t, now.UTC(), result.AnalyzedAt)
}

func TestNearestExpiration(t *testing.T) {
	_, ok := NearestExpiration(nil, now)
	assert.False(t, ok)

	past := []time.Time{now.AddDate(0, 0, -10), now.AddDate(0, 0, -3)}
	got, ok := NearestExpiration(past, now)
	require.True(t, ok)
	assert.Equal(t, past[1], got)

	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	got, _ = NearestExpiration([]time.Time{friday, today}, now)
	assert.Equal(t, today, got)
}
