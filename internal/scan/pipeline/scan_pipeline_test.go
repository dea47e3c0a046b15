package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/optionflow/internal/models"
)

type fakeAnalyzer struct {
	quotes     map[string]models.Quote
	confidence map[string]int
	failQuote  map[string]error
	failRun    map[string]error
	delay      time.Duration

	inFlight int32
	peak     int32
}

func (f *fakeAnalyzer) FetchQuote(_ context.Context, symbol string) (models.Quote, error) {
	if err := f.failQuote[symbol]; err != nil {
		return models.Quote{}, err
	}
	return f.quotes[symbol], nil
}

func (f *fakeAnalyzer) AnalyzeWithQuote(_ context.Context, symbol string, quote models.Quote, _ time.Time) (*models.SymbolResult, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err := f.failRun[symbol]; err != nil {
		return nil, &models.AnalysisError{Symbol: symbol, Err: err}
	}
	return &models.SymbolResult{Symbol: symbol, Quote: quote, OverallConfidence: f.confidence[symbol]}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	runs []*models.ScanRun
}

func (m *memRecorder) Record(_ context.Context, run *models.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

type countingMetrics struct{ scans int }

func (c *countingMetrics) ObserveScan(*models.ScanRun) { c.scans++ }

type progressLog struct {
	mu       sync.Mutex
	started  int
	done     map[string]Status
	complete int
}

func (p *progressLog) ScanStart(string, []string) { p.started++ }

func (p *progressLog) SymbolDone(_ string, symbol string, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		p.done = make(map[string]Status)
	}
	p.done[symbol] = status
}

func (p *progressLog) ScanComplete(*models.ScanRun) { p.complete++ }

func liquid(symbols ...string) map[string]models.Quote {
	out := make(map[string]models.Quote)
	for _, s := range symbols {
		out[s] = models.Quote{Symbol: s, Last: 100, Volume: 1_000_000}
	}
	return out
}

func TestRunFiltersAndSortsByConfidence(t *testing.T) {
	fa := &fakeAnalyzer{
		quotes:     liquid("AAA", "BBB", "CCC"),
		confidence: map[string]int{"AAA": 55, "BBB": 90, "CCC": 30},
	}
	rec := &memRecorder{}
	met := &countingMetrics{}
	p := New(fa, rec, met, DefaultConfig())

	run, err := p.Run(context.Background(), []string{"aaa", "BBB", " ccc ", "AAA"}, models.ScanFilters{MinConfidence: 50})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 3, run.SymbolsRequested)
	assert.Equal(t, 3, run.SymbolsSucceeded)
	require.Len(t, run.Results, 2)
	assert.Equal(t, "BBB", run.Results[0].Symbol)
	assert.Equal(t, "AAA", run.Results[1].Symbol)
	assert.Empty(t, run.Failures)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, run.ID, rec.runs[0].ID)
	assert.Equal(t, 1, met.scans)
}

func TestRunIsolatesFailures(t *testing.T) {
	fa := &fakeAnalyzer{
		quotes:     liquid("OK", "DQ"),
		confidence: map[string]int{"OK": 80},
		failQuote:  map[string]error{"DOWN": &models.ProviderError{Symbol: "DOWN", Op: "quote", Err: errors.New("503")}},
		failRun:    map[string]error{"DQ": &models.DataQualityError{Symbol: "DQ", Reason: "empty chain"}},
	}
	prog := &progressLog{}
	p := New(fa, nil, nil, DefaultConfig())
	p.SetProgress(prog)

	run, err := p.Run(context.Background(), []string{"DOWN", "OK", "DQ"}, models.ScanFilters{})
	require.NoError(t, err)

	require.Len(t, run.Results, 1)
	assert.Equal(t, "OK", run.Results[0].Symbol)
	assert.Equal(t, 1, run.SymbolsSucceeded)

	require.Len(t, run.Failures, 2)
	assert.Equal(t, models.SymbolFailure{Symbol: "DOWN", Kind: models.KindProvider, Error: run.Failures[0].Error}, run.Failures[0])
	assert.Equal(t, "DQ", run.Failures[1].Symbol)
	assert.Equal(t, models.KindDataQuality, run.Failures[1].Kind)

	assert.Equal(t, 1, prog.started)
	assert.Equal(t, 1, prog.complete)
	assert.Equal(t, map[string]Status{"DOWN": StatusFailed, "OK": StatusAnalyzed, "DQ": StatusFailed}, prog.done)
}

func TestRunSkipsLowVolume(t *testing.T) {
	quotes := liquid("BIG")
	quotes["TINY"] = models.Quote{Symbol: "TINY", Last: 5, Volume: 300}
	fa := &fakeAnalyzer{quotes: quotes, confidence: map[string]int{"BIG": 70, "TINY": 99}}

	run, err := New(fa, nil, nil, DefaultConfig()).Run(context.Background(), []string{"BIG", "TINY"}, models.ScanFilters{MinVolume: 1000})
	require.NoError(t, err)

	assert.Equal(t, 1, run.SymbolsSkipped)
	assert.Equal(t, 1, run.SymbolsSucceeded)
	assert.Empty(t, run.Failures)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "BIG", run.Results[0].Symbol)
}

func TestRunNothingQualifiesIsEmptySuccess(t *testing.T) {
	fa := &fakeAnalyzer{quotes: liquid("AAA"), confidence: map[string]int{"AAA": 10}}

	run, err := New(fa, nil, nil, DefaultConfig()).Run(context.Background(), []string{"AAA"}, models.ScanFilters{MinConfidence: 50})
	require.NoError(t, err)
	assert.NotNil(t, run.Results)
	assert.Empty(t, run.Results)

	run, err = New(fa, nil, nil, DefaultConfig()).Run(context.Background(), nil, models.ScanFilters{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.SymbolsRequested)
	assert.Empty(t, run.Results)
}

func TestRunConfidenceThreshold(t *testing.T) {
	fa := &fakeAnalyzer{quotes: liquid("AAA", "BBB"), confidence: map[string]int{"AAA": 0, "BBB": 30}}
	p := New(fa, nil, nil, DefaultConfig())

	run, err := p.Run(context.Background(), []string{"AAA", "BBB"}, models.ScanFilters{MinConfidence: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, run.Filters.MinConfidence)
	assert.Len(t, run.Results, 2)

	run, err = p.Run(context.Background(), []string{"AAA", "BBB"}, models.ScanFilters{MinConfidence: models.ConfidenceFromConfig})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MinConfidence, run.Filters.MinConfidence)
	assert.Empty(t, run.Results)
	assert.Equal(t, 2, run.SymbolsSucceeded)
}

func TestRunReportsSymbolsPastLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSymbols = 2
	fa := &fakeAnalyzer{quotes: liquid("A", "B", "C", "D"), confidence: map[string]int{"A": 80, "B": 80, "C": 80, "D": 80}}
	prog := &progressLog{}
	p := New(fa, nil, nil, cfg)
	p.SetProgress(prog)

	run, err := p.Run(context.Background(), []string{"A", "B", "C", "D", "a"}, models.ScanFilters{})
	require.NoError(t, err)

	assert.Equal(t, 4, run.SymbolsRequested)
	assert.Equal(t, 2, run.SymbolsSucceeded)
	assert.Len(t, run.Results, 2)
	require.Len(t, run.Failures, 2)
	for i, symbol := range []string{"C", "D"} {
		assert.Equal(t, symbol, run.Failures[i].Symbol)
		assert.Equal(t, models.KindLimit, run.Failures[i].Kind)
		assert.Contains(t, run.Failures[i].Error, "limited to 2 symbols")
	}
	assert.Equal(t, run.SymbolsRequested, run.SymbolsSucceeded+run.SymbolsSkipped+len(run.Failures))
	assert.NotContains(t, prog.done, "C")
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	fa := &fakeAnalyzer{quotes: liquid(symbols...), delay: 20 * time.Millisecond}

	run, err := New(fa, nil, nil, DefaultConfig()).Run(context.Background(), symbols, models.ScanFilters{Concurrency: 2, MinConfidence: 1})
	require.NoError(t, err)
	assert.Equal(t, len(symbols), run.SymbolsSucceeded)
	assert.LessOrEqual(t, atomic.LoadInt32(&fa.peak), int32(2))
}

func TestRunCancelledContext(t *testing.T) {
	fa := &fakeAnalyzer{quotes: liquid("AAA")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fa, nil, nil, DefaultConfig()).Run(ctx, []string{"AAA"}, models.ScanFilters{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWritesReport(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ReportDir = dir
	fa := &fakeAnalyzer{quotes: liquid("AAA"), confidence: map[string]int{"AAA": 90}}

	_, err := New(fa, nil, nil, cfg).Run(context.Background(), []string{"AAA"}, models.ScanFilters{})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "scan", "scan_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	b, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"symbol": "AAA"`)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, Normalize([]string{" aapl", "MSFT", "", "AAPL "}))
	assert.Empty(t, Normalize(nil))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinConfidence = 101
	assert.Error(t, cfg.Validate())
}
