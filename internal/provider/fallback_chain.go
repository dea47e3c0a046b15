package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/models"
)

// Named pairs a provider with the name used in logs and metrics
type Named struct {
	Name string
	MarketData
}

// Chain falls back through providers in order. Provider failures move on to
// the next source; data-quality failures are terminal and returned as is.
type Chain struct {
	name      string
	providers []Named
}

// NewChain creates a fallback chain. It needs at least one provider.
func NewChain(name string, providers ...Named) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider chain %s must have at least one provider", name)
	}
	return &Chain{name: name, providers: providers}, nil
}

func (c *Chain) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return fallback(ctx, c, symbol, "quote", func(p MarketData) (models.Quote, error) {
		return p.FetchQuote(ctx, symbol)
	})
}

func (c *Chain) FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error) {
	return fallback(ctx, c, symbol, "chain", func(p MarketData) ([]models.OptionContract, error) {
		return p.FetchOptionChain(ctx, symbol, expiration)
	})
}

func (c *Chain) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return fallback(ctx, c, symbol, "expirations", func(p MarketData) ([]time.Time, error) {
		return p.FetchExpirations(ctx, symbol)
	})
}

func fallback[T any](ctx context.Context, c *Chain, symbol, op string, call func(MarketData) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return zero, wrap(symbol, op, err)
		}

		out, err := call(p.MarketData)
		if err == nil {
			if i > 0 {
				log.Info().Str("chain", c.name).Str("provider", p.Name).Str("symbol", symbol).Str("op", op).Msg("Served by fallback provider")
			}
			return out, nil
		}

		var dq *models.DataQualityError
		if errors.As(err, &dq) {
			return zero, err
		}

		log.Warn().Err(err).Str("chain", c.name).Str("provider", p.Name).Str("symbol", symbol).Str("op", op).Msg("Provider failed")
		lastErr = err
	}

	return zero, &models.ProviderError{
		Symbol: symbol,
		Op:     op,
		Err:    fmt.Errorf("all providers in chain %s failed, last error: %w", c.name, lastErr),
	}
}
