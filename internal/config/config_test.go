package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/optionflow/internal/scheduler"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SourceFixture, cfg.Provider.Source)
	assert.Equal(t, 50, cfg.Scan.MinConfidence)
	assert.Equal(t, 8, cfg.Scan.Concurrency)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, "optionflow.yaml", `
provider:
  source: rest
  base_url: https://api.example.test
  timeout: 3s
  rps: 5
  backoff:
    base: 100ms
    max: 2s
    max_attempts: 2
cache:
  redis_addr: localhost:6379
  chain_ttl: 45s
scan:
  concurrency: 4
  min_confidence: 65
  symbols: [TSLA, NVDA]
  fetch_timeout: 4s
  strategy:
    max_verticals: 5
    min_spread_width: 5
    max_spread_width: 25
server:
  port: 9090
schedule:
  timezone: UTC
  jobs:
    - name: open
      schedule: "*/15 9-16 * * 1-5"
      enabled: true
      symbols: [SPY]
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceREST, cfg.Provider.Source)
	assert.Equal(t, "https://api.example.test", cfg.Provider.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Provider.Backoff.Base)
	assert.Equal(t, "tradier", cfg.Provider.Name)

	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 45*time.Second, cfg.Cache.ChainTTL)
	assert.Equal(t, 15*time.Second, cfg.Cache.QuoteTTL)

	assert.Equal(t, 4, cfg.Scan.Concurrency)
	assert.Equal(t, 65, cfg.Scan.MinConfidence)
	assert.Equal(t, 200, cfg.Scan.MaxSymbols)
	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.Scan.Symbols)
	assert.Equal(t, 5, cfg.Scan.Strategy.MaxVerticals)
	assert.InDelta(t, 1.0, cfg.Scan.Weights.Sum(), 1e-9)

	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Schedule.Jobs, 1)
	assert.Equal(t, "open", cfg.Schedule.Jobs[0].Name)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "scan: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "invalid.yaml", "scan:\n  min_confidence: 120\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_confidence")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvAPIToken:  "secret",
		EnvRedisAddr: "redis:6379",
		EnvPGDSN:     "postgres://u@db/optionflow",
		EnvHTTPPort:  "8181",
	}))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Provider.Token)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "postgres://u@db/optionflow", cfg.History.Postgres.DSN)
	assert.Equal(t, 8181, cfg.Server.Port)

	assert.Error(t, cfg.ApplyEnv(envMap(map[string]string{EnvHTTPPort: "http"})))
}

func TestLoadUsesEnvironment(t *testing.T) {
	t.Setenv(EnvAPIToken, "from-env")
	t.Setenv(EnvHTTPPort, "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.Token)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadDotenv(t *testing.T) {
	path := writeFile(t, ".env", "OPTIONFLOW_TEST_DOTENV=loaded\n")
	t.Setenv("OPTIONFLOW_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("OPTIONFLOW_TEST_DOTENV"))

	require.NoError(t, LoadDotenv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "loaded", os.Getenv("OPTIONFLOW_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Provider.Source = "carrier-pigeon" }},
		{"fixture without dir", func(c *Config) { c.Provider.FixtureDir = "" }},
		{"rest without url", func(c *Config) { c.Provider.Source = SourceREST; c.Provider.BaseURL = "" }},
		{"fallback without dir", func(c *Config) {
			c.Provider.Source = SourceREST
			c.Provider.FixtureFallback = true
			c.Provider.FixtureDir = ""
		}},
		{"negative ttl", func(c *Config) { c.Cache.ChainTTL = -time.Second }},
		{"weights off", func(c *Config) { c.Scan.Weights.Volume = 0.9 }},
		{"spread band", func(c *Config) { c.Scan.Strategy.MinSpreadWidth = 30 }},
		{"history cap", func(c *Config) { c.History.PerSymbol = 0 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"cron", func(c *Config) {
			c.Schedule.Jobs = append(c.Schedule.Jobs, scheduleJob("bad", "every minute"))
		}},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAnalyzerOptions(t *testing.T) {
	cfg := Default()
	cfg.Scan.FetchTimeout = 2 * time.Second
	cfg.Scan.TopContracts = 5
	cfg.Scan.Strategy.MaxVerticals = 1

	opts := cfg.AnalyzerOptions()
	assert.Equal(t, 2*time.Second, opts.FetchTimeout)
	assert.Equal(t, 5, opts.TopContracts)
	assert.Equal(t, 5, opts.TopStrategies)
	assert.Equal(t, 1, opts.Strategy.MaxVerticals)
	assert.NotNil(t, opts.Now)
}

func TestTuned(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Tuned())

	cfg.Scan.Weights.Volume, cfg.Scan.Weights.Spread = cfg.Scan.Weights.Spread, cfg.Scan.Weights.Volume
	cfg.Scan.Strategy.MaxSpreadWidth = 25
	cfg.Scan.Strategy.CondorProbability = 70
	assert.Equal(t, []string{"scan.weights", "scan.strategy.spread_width", "scan.strategy.probability"}, cfg.Tuned())

	cfg = Default()
	cfg.Scan.Strategy.MaxVerticals = 1
	assert.Empty(t, cfg.Tuned())
}

func scheduleJob(name, schedule string) scheduler.Job {
	return scheduler.Job{Name: name, Schedule: schedule, Symbols: []string{"SPY"}}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Provider.Token = "tok-123"
	cfg.Cache.RedisPassword = "hunter2"
	cfg.History.Postgres.DSN = "postgres://flow:s3cret@db:5432/optionflow?sslmode=disable"

	r := cfg.Redacted()
	assert.Equal(t, mask, r.Provider.Token)
	assert.Equal(t, mask, r.Cache.RedisPassword)
	assert.Equal(t, "postgres://flow:xxxxx@db:5432/optionflow?sslmode=disable", r.History.Postgres.DSN)
	assert.Equal(t, "tok-123", cfg.Provider.Token)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "", RedactDSN(""))
	assert.Equal(t, "host=db user=flow password=xxxxx dbname=optionflow",
		RedactDSN("host=db user=flow password=s3cret dbname=optionflow"))
	assert.Equal(t, "host=db password=xxxxx sslmode=disable",
		RedactDSN("host=db password='two words' sslmode=disable"))
	assert.Equal(t, "postgres://flow@db/optionflow", RedactDSN("postgres://flow@db/optionflow"))
}
