package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/optionflow/internal/models"
)

// Config describes one upstream market-data source
type Config struct {
	Name       string        `yaml:"name"`
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	FixtureDir string        `yaml:"fixture_dir"`
	Timeout    time.Duration `yaml:"timeout"`
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
	Backoff    BackoffConfig `yaml:"backoff"`
	Circuit    CircuitConfig `yaml:"circuit"`
}

// BackoffConfig bounds exponential retry
type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      bool          `yaml:"jitter"`
}

// CircuitConfig mirrors gobreaker.Settings
type CircuitConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
	MinRequests         uint32        `yaml:"min_requests"`
}

// DefaultConfig is tuned for a sandbox REST account
func DefaultConfig() Config {
	return Config{
		Name:    "tradier",
		BaseURL: "https://sandbox.tradier.com",
		Timeout: 10 * time.Second,
		RPS:     2,
		Burst:   4,
		Backoff: BackoffConfig{
			Base:        250 * time.Millisecond,
			Max:         5 * time.Second,
			MaxAttempts: 3,
			Jitter:      true,
		},
		Circuit: CircuitConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			ErrorRateThreshold:  50,
			MinRequests:         10,
		},
	}
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.RPS < 0 {
		return fmt.Errorf("provider %s: rps must be non-negative", c.Name)
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("provider %s: backoff.max_attempts must be non-negative", c.Name)
	}
	if c.Backoff.Max > 0 && c.Backoff.Base > c.Backoff.Max {
		return fmt.Errorf("provider %s: backoff.base exceeds backoff.max", c.Name)
	}
	if c.Circuit.ErrorRateThreshold < 0 || c.Circuit.ErrorRateThreshold > 100 {
		return fmt.Errorf("provider %s: circuit.error_rate_threshold must be within [0,100]", c.Name)
	}
	return nil
}

// Observer receives per-request outcomes and breaker transitions
type Observer interface {
	ObserveRequest(provider, op, outcome string, d time.Duration)
	ObserveBreaker(provider string, state gobreaker.State)
}

// Request outcomes reported to the Observer
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeDataQuality = "data_quality"
	OutcomeRejected    = "rejected"
)

// Resilient wraps a MarketData with a token bucket, a circuit breaker and
// bounded exponential retry.
type Resilient struct {
	name     string
	next     MarketData
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	backoff  BackoffConfig
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewResilient builds the wrapper. A zero RPS disables rate limiting.
func NewResilient(next MarketData, cfg Config, observer Observer) *Resilient {
	r := &Resilient{
		name:     cfg.Name,
		next:     next,
		backoff:  cfg.Backoff,
		observer: observer,
		sleep:    sleepCtx,
	}

	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	cc := cfg.Circuit
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cc.MaxRequests,
		Interval:    cc.Interval,
		Timeout:     cc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cc.ConsecutiveFailures {
				return true
			}
			if cc.ErrorRateThreshold > 0 && counts.Requests >= max(cc.MinRequests, 1) {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				return errorRate >= cc.ErrorRateThreshold
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var dq *models.DataQualityError
			return errors.As(err, &dq)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			if observer != nil {
				observer.ObserveBreaker(name, to)
			}
		},
	})

	return r
}

// State reports the breaker state for health output
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

func (r *Resilient) Name() string { return r.name }

func (r *Resilient) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return guarded(ctx, r, symbol, "quote", func() (models.Quote, error) {
		return r.next.FetchQuote(ctx, symbol)
	})
}

func (r *Resilient) FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error) {
	return guarded(ctx, r, symbol, "chain", func() ([]models.OptionContract, error) {
		return r.next.FetchOptionChain(ctx, symbol, expiration)
	})
}

func (r *Resilient) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return guarded(ctx, r, symbol, "expirations", func() ([]time.Time, error) {
		return r.next.FetchExpirations(ctx, symbol)
	})
}

func guarded[T any](ctx context.Context, r *Resilient, symbol, op string, call func() (T, error)) (T, error) {
	var zero T
	attempts := max(r.backoff.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, wrap(symbol, op, err)
		}
		if attempt > 0 {
			if err := r.sleep(ctx, r.delay(attempt)); err != nil {
				return zero, wrap(symbol, op, err)
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				r.observe(op, OutcomeRejected, 0)
				return zero, wrap(symbol, op, fmt.Errorf("rate limit wait: %w", err))
			}
		}

		start := time.Now()
		out, err := r.breaker.Execute(func() (interface{}, error) {
			return call()
		})
		elapsed := time.Since(start)

		if err == nil {
			r.observe(op, OutcomeOK, elapsed)
			return out.(T), nil
		}

		if !retryable(ctx, err) {
			r.observe(op, outcomeOf(err), elapsed)
			return zero, wrap(symbol, op, err)
		}

		r.observe(op, OutcomeError, elapsed)
		log.Debug().Err(err).Str("provider", r.name).Str("symbol", symbol).Str("op", op).Int("attempt", attempt+1).Msg("Provider call failed")
		lastErr = err
	}

	return zero, wrap(symbol, op, fmt.Errorf("%s after %d attempts: %w", op, attempts, lastErr))
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var dq *models.DataQualityError
	return !errors.As(err, &dq)
}

func outcomeOf(err error) string {
	var dq *models.DataQualityError
	switch {
	case errors.As(err, &dq):
		return OutcomeDataQuality
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// delay is base * 2^(attempt-1), capped at max, optionally with full jitter
func (r *Resilient) delay(attempt int) time.Duration {
	base := r.backoff.Base
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if r.backoff.Max > 0 && (d > r.backoff.Max || d <= 0) {
		d = r.backoff.Max
	}
	if r.backoff.Jitter {
		d = time.Duration(rand.Int63n(int64(d) + 1))
	}
	return d
}

func (r *Resilient) observe(op, outcome string, d time.Duration) {
	if r.observer != nil {
		r.observer.ObserveRequest(r.name, op, outcome, d)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
