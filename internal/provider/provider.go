// Package provider implements the market-data collaborator consumed by the
// analyzer: normalisation of raw payloads, caching, rate limiting, circuit
// breaking and an offline fixture source.
package provider

import (
	"context"
	"time"

	"github.com/sawpanic/optionflow/internal/models"
)

// MarketData is the three-operation read surface every provider exposes
type MarketData interface {
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
	FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error)
	FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error)
}

// FallbackExpirationCount is how many Fridays stand in for a missing expiration list
const FallbackExpirationCount = 4

// NextFridays returns the next n Fridays strictly after from, at midnight UTC
func NextFridays(from time.Time, n int) []time.Time {
	y, m, d := from.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	out := make([]time.Time, 0, n)
	for len(out) < n {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Friday {
			out = append(out, day)
		}
	}
	return out
}

// wrap types a raw failure as a ProviderError unless it already is one
func wrap(symbol, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*models.ProviderError); ok {
		return err
	}
	if _, ok := err.(*models.DataQualityError); ok {
		return err
	}
	return &models.ProviderError{Symbol: symbol, Op: op, Err: err}
}
