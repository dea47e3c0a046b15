// Package config loads the optionflow YAML configuration, applies .env and
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/optionflow/internal/analyzer"
	"github.com/sawpanic/optionflow/internal/history"
	httpapi "github.com/sawpanic/optionflow/internal/interfaces/http"
	"github.com/sawpanic/optionflow/internal/provider"
	"github.com/sawpanic/optionflow/internal/scan/pipeline"
	"github.com/sawpanic/optionflow/internal/scheduler"
	"github.com/sawpanic/optionflow/internal/scoring"
	"github.com/sawpanic/optionflow/internal/strategy"
)

// Market data sources
const (
	SourceREST    = "rest"
	SourceFixture = "fixture"
)

// Environment variables that override file settings
const (
	EnvAPIToken  = "OPTIONFLOW_API_TOKEN"
	EnvRedisAddr = "REDIS_ADDR"
	EnvPGDSN     = "PG_DSN"
	EnvHTTPPort  = "HTTP_PORT"
)

// Config is the complete application configuration
type Config struct {
	Provider ProviderConfig       `yaml:"provider"`
	Cache    provider.CacheConfig `yaml:"cache"`
	History  history.Config       `yaml:"history"`
	Scan     ScanConfig           `yaml:"scan"`
	Server   httpapi.ServerConfig `yaml:"server"`
	Schedule scheduler.Config     `yaml:"schedule"`
	Log      LogConfig            `yaml:"log"`
}

// ProviderConfig selects the market data source. When FixtureFallback is set
// and FixtureDir is configured, fixture snapshots back up the REST source.
type ProviderConfig struct {
	provider.Config `yaml:",inline"`
	Source          string `yaml:"source"`
	FixtureFallback bool   `yaml:"fixture_fallback"`
}

// ScanConfig carries the pipeline settings plus the analysis tuning
type ScanConfig struct {
	pipeline.Config `yaml:",inline"`
	Symbols         []string        `yaml:"symbols"`
	FetchTimeout    time.Duration   `yaml:"fetch_timeout"`
	TopContracts    int             `yaml:"top_contracts"`
	TopStrategies   int             `yaml:"top_strategies"`
	Weights         scoring.Weights `yaml:"weights"`
	Strategy        strategy.Config `yaml:"strategy"`
}

// LogConfig controls the global zerolog logger. Format is auto, console or json.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs offline against fixtures
func Default() Config {
	opts := analyzer.DefaultOptions()
	pcfg := provider.DefaultConfig()
	pcfg.FixtureDir = "fixtures"
	return Config{
		Provider: ProviderConfig{Config: pcfg, Source: SourceFixture},
		Cache:    provider.DefaultCacheConfig(),
		History:  history.DefaultConfig(),
		Scan: ScanConfig{
			Config:        pipeline.DefaultConfig(),
			Symbols:       []string{"SPY", "QQQ", "AAPL"},
			FetchTimeout:  opts.FetchTimeout,
			TopContracts:  opts.TopContracts,
			TopStrategies: opts.TopStrategies,
			Weights:       opts.Weights,
			Strategy:      opts.Strategy,
		},
		Server: httpapi.DefaultServerConfig(),
		Log:    LogConfig{Level: "info", Format: "auto"},
	}
}

// Load reads .env (when present), the YAML file at path (when non-empty) over
// the defaults, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	if err := LoadDotenv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDotenv loads variables from the given files without overriding the
// process environment. Missing files are ignored.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays the supported environment variables using lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIToken); ok && v != "" {
		c.Provider.Token = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup(EnvPGDSN); ok && v != "" {
		c.History.Postgres.DSN = v
	}
	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a port number, got %q", EnvHTTPPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	switch c.Provider.Source {
	case SourceREST:
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider.base_url is required for the rest source")
		}
		if c.Provider.FixtureFallback && c.Provider.FixtureDir == "" {
			return fmt.Errorf("provider.fixture_fallback needs provider.fixture_dir")
		}
	case SourceFixture:
		if c.Provider.FixtureDir == "" {
			return fmt.Errorf("provider.fixture_dir is required for the fixture source")
		}
	default:
		return fmt.Errorf("provider.source must be %q or %q, got %q", SourceREST, SourceFixture, c.Provider.Source)
	}
	if err := c.Provider.Config.Validate(); err != nil {
		return err
	}

	if c.Cache.QuoteTTL < 0 || c.Cache.ChainTTL < 0 || c.Cache.ExpirationsTTL < 0 {
		return fmt.Errorf("cache ttls must be non-negative")
	}
	if err := c.History.Validate(); err != nil {
		return err
	}

	if err := c.Scan.Config.Validate(); err != nil {
		return err
	}
	if err := c.Scan.Weights.Validate(); err != nil {
		return fmt.Errorf("scan.weights: %w", err)
	}
	if c.Scan.Strategy.MinSpreadWidth > c.Scan.Strategy.MaxSpreadWidth {
		return fmt.Errorf("scan.strategy.min_spread_width (%.2f) exceeds max_spread_width (%.2f)",
			c.Scan.Strategy.MinSpreadWidth, c.Scan.Strategy.MaxSpreadWidth)
	}
	if c.Scan.FetchTimeout < 0 {
		return fmt.Errorf("scan.fetch_timeout must be non-negative")
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "auto", "console", "json":
	default:
		return fmt.Errorf("log.format must be auto, console or json, got %q", c.Log.Format)
	}
	return nil
}

// Tuned lists the scoring and strategy constants this config changes from
// their standard values
func (c *Config) Tuned() []string {
	var out []string
	if c.Scan.Weights != scoring.DefaultWeights() {
		out = append(out, "scan.weights")
	}
	def, st := strategy.DefaultConfig(), c.Scan.Strategy
	if st.MinSpreadWidth != def.MinSpreadWidth || st.MaxSpreadWidth != def.MaxSpreadWidth {
		out = append(out, "scan.strategy.spread_width")
	}
	if st.StraddleProbability != def.StraddleProbability || st.CondorProbability != def.CondorProbability {
		out = append(out, "scan.strategy.probability")
	}
	return out
}

// AnalyzerOptions maps the scan section onto analyzer options
func (c *Config) AnalyzerOptions() analyzer.Options {
	opts := analyzer.DefaultOptions()
	opts.Weights = c.Scan.Weights
	opts.Strategy = c.Scan.Strategy
	if c.Scan.TopContracts > 0 {
		opts.TopContracts = c.Scan.TopContracts
	}
	if c.Scan.TopStrategies > 0 {
		opts.TopStrategies = c.Scan.TopStrategies
	}
	if c.Scan.FetchTimeout > 0 {
		opts.FetchTimeout = c.Scan.FetchTimeout
	}
	return opts
}
