// Package pipeline fans a symbol list out over the analyzer and collects the
// qualifying results into a ScanRun.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/optionflow/internal/fileio"
	"github.com/sawpanic/optionflow/internal/models"
)

// Analyzer is the per-symbol work the pipeline schedules
type Analyzer interface {
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
	AnalyzeWithQuote(ctx context.Context, symbol string, quote models.Quote, expiration time.Time) (*models.SymbolResult, error)
}

// Recorder persists completed runs
type Recorder interface {
	Record(ctx context.Context, run *models.ScanRun) error
}

// Metrics observes completed runs
type Metrics interface {
	ObserveScan(run *models.ScanRun)
}

// Progress receives scan lifecycle events
type Progress interface {
	ScanStart(runID string, symbols []string)
	SymbolDone(runID, symbol string, status Status)
	ScanComplete(run *models.ScanRun)
}

// Status is the per-symbol outcome reported to Progress
type Status string

const (
	StatusAnalyzed Status = "analyzed"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Config defines pipeline defaults. Filters passed to Run override the
// non-zero fields here; MinConfidence is overridden unless it is
// models.ConfidenceFromConfig.
type Config struct {
	Concurrency   int    `yaml:"concurrency"`
	MinVolume     int64  `yaml:"min_volume"`
	MinConfidence int    `yaml:"min_confidence"`
	MaxSymbols    int    `yaml:"max_symbols"`
	ReportDir     string `yaml:"report_dir"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		MinVolume:     0,
		MinConfidence: 50,
		MaxSymbols:    200,
	}
}

func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("scan.concurrency must be non-negative, got %d", c.Concurrency)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("scan.min_confidence must be within [0,100], got %d", c.MinConfidence)
	}
	if c.MinVolume < 0 {
		return fmt.Errorf("scan.min_volume must be non-negative, got %d", c.MinVolume)
	}
	return nil
}

// Pipeline runs scans. It keeps no per-scan state and may run scans
// concurrently.
type Pipeline struct {
	analyzer Analyzer
	history  Recorder
	metrics  Metrics
	progress Progress
	config   Config
	now      func() time.Time
}

// New creates a pipeline. history and metrics may be nil.
func New(analyzer Analyzer, history Recorder, metrics Metrics, config Config) *Pipeline {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	return &Pipeline{
		analyzer: analyzer,
		history:  history,
		metrics:  metrics,
		config:   config,
		now:      time.Now,
	}
}

// SetProgress attaches a progress listener
func (p *Pipeline) SetProgress(progress Progress) {
	p.progress = progress
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.config
}

type outcome struct {
	result  *models.SymbolResult
	failure *models.SymbolFailure
	skipped bool
}

// Run analyzes every symbol with at most filters.Concurrency in flight. A
// failing symbol is reported in the run and never aborts its siblings. A
// run in which nothing qualifies is a successful, empty run. The only error
// is a cancelled context.
func (p *Pipeline) Run(ctx context.Context, symbols []string, filters models.ScanFilters) (*models.ScanRun, error) {
	filters = p.effective(filters)
	symbols = Normalize(symbols)
	requested := len(symbols)
	var dropped []string
	if p.config.MaxSymbols > 0 && len(symbols) > p.config.MaxSymbols {
		log.Warn().Int("requested", len(symbols)).Int("max", p.config.MaxSymbols).Msg("Symbol list truncated")
		symbols, dropped = symbols[:p.config.MaxSymbols], symbols[p.config.MaxSymbols:]
	}

	start := p.now()
	run := &models.ScanRun{
		ID:               uuid.NewString(),
		StartedAt:        start.UTC(),
		Filters:          filters,
		SymbolsRequested: requested,
		Results:          []models.SymbolResult{},
	}

	if p.progress != nil {
		p.progress.ScanStart(run.ID, symbols)
	}

	slots := make([]outcome, len(symbols))
	var g errgroup.Group
	g.SetLimit(filters.Concurrency)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			slots[i] = p.processSymbol(ctx, symbol, filters)
			if p.progress != nil {
				p.progress.SymbolDone(run.ID, symbol, slots[i].status())
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range slots {
		switch {
		case o.skipped:
			run.SymbolsSkipped++
		case o.failure != nil:
			run.Failures = append(run.Failures, *o.failure)
		case o.result != nil:
			run.SymbolsSucceeded++
			if o.result.OverallConfidence >= filters.MinConfidence {
				run.Results = append(run.Results, *o.result)
			}
		}
	}
	for _, symbol := range dropped {
		run.Failures = append(run.Failures, models.SymbolFailure{
			Symbol: symbol,
			Kind:   models.KindLimit,
			Error:  fmt.Sprintf("not analyzed: scan is limited to %d symbols", p.config.MaxSymbols),
		})
	}

	sort.SliceStable(run.Results, func(i, j int) bool {
		return run.Results[i].OverallConfidence > run.Results[j].OverallConfidence
	})
	run.Duration = p.now().Sub(start)

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("scan %s interrupted: %w", run.ID, err)
	}

	log.Info().
		Str("run_id", run.ID).
		Int("requested", run.SymbolsRequested).
		Int("succeeded", run.SymbolsSucceeded).
		Int("skipped", run.SymbolsSkipped).
		Int("failed", len(run.Failures)).
		Int("qualified", len(run.Results)).
		Dur("duration", run.Duration).
		Msg("Scan completed")

	p.finish(ctx, run)
	return run, nil
}

func (o outcome) status() Status {
	switch {
	case o.skipped:
		return StatusSkipped
	case o.failure != nil:
		return StatusFailed
	default:
		return StatusAnalyzed
	}
}

// processSymbol never returns an error; failures land in the outcome
func (p *Pipeline) processSymbol(ctx context.Context, symbol string, filters models.ScanFilters) outcome {
	quote, err := p.analyzer.FetchQuote(ctx, symbol)
	if err != nil {
		return p.failed(symbol, &models.AnalysisError{Symbol: symbol, Err: err})
	}

	if filters.MinVolume > 0 && quote.Volume < filters.MinVolume {
		log.Debug().Str("symbol", symbol).Int64("volume", quote.Volume).Int64("min_volume", filters.MinVolume).Msg("Symbol below volume floor")
		return outcome{skipped: true}
	}

	result, err := p.analyzer.AnalyzeWithQuote(ctx, symbol, quote, filters.Expiration)
	if err != nil {
		return p.failed(symbol, err)
	}
	return outcome{result: result}
}

func (p *Pipeline) failed(symbol string, err error) outcome {
	kind := models.ErrorKind(err)
	log.Warn().Err(err).Str("symbol", symbol).Str("kind", kind).Msg("Symbol analysis failed")
	return outcome{failure: &models.SymbolFailure{Symbol: symbol, Kind: kind, Error: err.Error()}}
}

func (p *Pipeline) effective(f models.ScanFilters) models.ScanFilters {
	if f.Concurrency <= 0 {
		f.Concurrency = p.config.Concurrency
	}
	if f.MinVolume <= 0 {
		f.MinVolume = p.config.MinVolume
	}
	if f.MinConfidence < 0 {
		f.MinConfidence = p.config.MinConfidence
	}
	return f
}

func (p *Pipeline) finish(ctx context.Context, run *models.ScanRun) {
	if p.history != nil {
		if err := p.history.Record(ctx, run); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record scan history")
		}
	}
	if p.metrics != nil {
		p.metrics.ObserveScan(run)
	}
	if p.config.ReportDir != "" {
		if path, err := WriteReport(p.config.ReportDir, run); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to write scan report")
		} else {
			log.Debug().Str("path", path).Msg("Scan report written")
		}
	}
	if p.progress != nil {
		p.progress.ScanComplete(run)
	}
}

// Normalize upper-cases, trims and de-duplicates symbols, keeping order
func Normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// WriteReport writes the run as indented JSON under dir/scan and returns the path
func WriteReport(dir string, run *models.ScanRun) (string, error) {
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	path := filepath.Join(dir, "scan", fmt.Sprintf("scan_%s_%s.json", run.StartedAt.Format("20060102T150405Z"), id))
	if err := fileio.WriteJSONAtomic(path, run); err != nil {
		return "", fmt.Errorf("write scan report: %w", err)
	}
	return path, nil
}
