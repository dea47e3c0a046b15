package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/analyzer"
	"github.com/sawpanic/optionflow/internal/config"
	"github.com/sawpanic/optionflow/internal/history"
	"github.com/sawpanic/optionflow/internal/metrics"
	"github.com/sawpanic/optionflow/internal/provider"
	"github.com/sawpanic/optionflow/internal/provider/rest"
	"github.com/sawpanic/optionflow/internal/scan/pipeline"
)

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	metrics  *metrics.Registry
	data     provider.MarketData
	analyzer *analyzer.Analyzer
	history  history.Store
	pipeline *pipeline.Pipeline

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	data, err := a.buildMarketData(ctx)
	if err != nil {
		return nil, err
	}
	a.data = data
	a.analyzer = analyzer.New(data, cfg.AnalyzerOptions())

	store, closer, err := history.Open(ctx, cfg.History)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open scan history: %w", err)
	}
	a.history = store
	a.closers = append(a.closers, closer)

	a.pipeline = pipeline.New(a.analyzer, store, a.metrics, cfg.Scan.Config)
	return a, nil
}

// buildMarketData layers the provider stack: primary source behind rate
// limit, breaker and retry, optional fixture fallback, then the cache.
func (a *app) buildMarketData(ctx context.Context) (provider.MarketData, error) {
	pcfg := a.cfg.Provider

	var primary provider.MarketData
	switch pcfg.Source {
	case config.SourceREST:
		client, err := rest.New(pcfg.Config, nil)
		if err != nil {
			return nil, err
		}
		primary = client
	default:
		primary = provider.NewFixture(pcfg.FixtureDir)
	}

	resilient := provider.NewResilient(primary, pcfg.Config, a.metrics)
	a.metrics.ObserveBreaker(resilient.Name(), resilient.State())

	sources := []provider.Named{{Name: resilient.Name(), MarketData: resilient}}
	if pcfg.Source == config.SourceREST && pcfg.FixtureFallback {
		sources = append(sources, provider.Named{Name: "fixture", MarketData: provider.NewFixture(pcfg.FixtureDir)})
	}
	chain, err := provider.NewChain("market", sources...)
	if err != nil {
		return nil, err
	}

	return provider.NewCached(chain, a.buildCache(ctx), a.cfg.Cache, a.metrics), nil
}

// buildCache prefers Redis and degrades to memory when it is unreachable
func (a *app) buildCache(ctx context.Context) provider.Cache {
	ccfg := a.cfg.Cache
	if ccfg.RedisAddr == "" {
		return provider.NewMemoryCache()
	}

	rc := provider.NewRedisCache(redis.NewClient(&redis.Options{
		Addr:     ccfg.RedisAddr,
		DB:       ccfg.RedisDB,
		Password: ccfg.RedisPassword,
	}), ccfg.Prefix)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", ccfg.RedisAddr).Msg("Redis unreachable, using in-memory cache")
		_ = rc.Close()
		return provider.NewMemoryCache()
	}

	log.Info().Str("addr", ccfg.RedisAddr).Msg("Using Redis market data cache")
	a.closers = append(a.closers, rc)
	return rc
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release resource")
		}
	}
	a.closers = nil
}
