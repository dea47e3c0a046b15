package provider

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/models"
)

var cacheJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// CacheConfig sets where and how long raw provider data is cached.
// Scored output is never cached; only what the provider returned.
type CacheConfig struct {
	RedisAddr      string        `yaml:"redis_addr"`
	RedisDB        int           `yaml:"redis_db"`
	RedisPassword  string        `yaml:"redis_password"`
	Prefix         string        `yaml:"prefix"`
	QuoteTTL       time.Duration `yaml:"quote_ttl"`
	ChainTTL       time.Duration `yaml:"chain_ttl"`
	ExpirationsTTL time.Duration `yaml:"expirations_ttl"`
}

// DefaultCacheConfig keeps quotes and chains briefly and expirations longer
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:         "optionflow:",
		QuoteTTL:       15 * time.Second,
		ChainTTL:       30 * time.Second,
		ExpirationsTTL: time.Hour,
	}
}

// CacheObserver records hits and misses per operation
type CacheObserver interface {
	ObserveCache(op string, hit bool)
}

// Cached serves repeated reads from a Cache. Cache failures degrade to a
// direct provider read.
type Cached struct {
	next     MarketData
	cache    Cache
	cfg      CacheConfig
	observer CacheObserver
}

// NewCached wraps next with cache
func NewCached(next MarketData, cache Cache, cfg CacheConfig, observer CacheObserver) *Cached {
	return &Cached{next: next, cache: cache, cfg: cfg, observer: observer}
}

func (c *Cached) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return cached(ctx, c, "quote", "quote:"+symbol, c.cfg.QuoteTTL, func() (models.Quote, error) {
		return c.next.FetchQuote(ctx, symbol)
	})
}

func (c *Cached) FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error) {
	key := "chain:" + symbol + ":" + expiration.Format("2006-01-02")
	return cached(ctx, c, "chain", key, c.cfg.ChainTTL, func() ([]models.OptionContract, error) {
		return c.next.FetchOptionChain(ctx, symbol, expiration)
	})
}

func (c *Cached) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return cached(ctx, c, "expirations", "expirations:"+symbol, c.cfg.ExpirationsTTL, func() ([]time.Time, error) {
		return c.next.FetchExpirations(ctx, symbol)
	})
}

func cached[T any](ctx context.Context, c *Cached, op, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if ttl > 0 {
		b, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		if ok {
			var v T
			if err := cacheJSON.Unmarshal(b, &v); err == nil {
				c.observe(op, true)
				return v, nil
			}
		}
		c.observe(op, false)
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	if ttl > 0 {
		if b, err := cacheJSON.Marshal(v); err == nil {
			if err := c.cache.Set(ctx, key, b, ttl); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
			}
		}
	}
	return v, nil
}

func (c *Cached) observe(op string, hit bool) {
	if c.observer != nil {
		c.observer.ObserveCache(op, hit)
	}
}
