package output

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/optionflow/internal/models"
	"github.com/sawpanic/optionflow/internal/scheduler"
)

func sampleResult() models.SymbolResult {
	call := models.ScoredContract{
		OptionContract: models.OptionContract{Type: models.Call, Strike: 105, Volume: 4200, OpenInterest: 300, ImpliedVol: 0.42},
		Confidence:     81,
		IsUnusual:      true,
		Reasons:        []string{"volume 14.0x open interest"},
	}
	put := models.ScoredContract{
		OptionContract: models.OptionContract{Type: models.Put, Strike: 95, Volume: 900},
		Confidence:     62,
		IsUnusual:      true,
	}
	return models.SymbolResult{
		Symbol:            "XYZ",
		Quote:             models.Quote{Symbol: "XYZ", Last: 100, Volume: 2500000},
		Expiration:        time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
		DaysToExpiration:  32,
		UnusualCalls:      []models.ScoredContract{call},
		UnusualPuts:       []models.ScoredContract{put},
		Sentiment:         models.Bullish,
		OverallConfidence: 72,
		Strategies: []models.StrategyCandidate{{
			Type:                 models.Straddle,
			Legs:                 []models.Leg{{Contract: call, Direction: models.Buy}, {Contract: put, Direction: models.Sell}},
			NetPremium:           -3.2,
			MaxProfit:            models.UnlimitedAmount(),
			MaxLoss:              models.Limited(3.2),
			Probability:          35,
			ProbabilityHeuristic: true,
		}},
	}
}

func TestSymbolTable(t *testing.T) {
	var buf bytes.Buffer
	r := sampleResult()
	NewEmitter(&buf).SymbolTable(&r)

	out := buf.String()
	assert.Contains(t, out, "XYZ  last 100.00")
	assert.Contains(t, out, "sentiment bullish  confidence 72")
	assert.Contains(t, out, "volume 14.0x open interest")
	assert.Contains(t, out, "+105C -95P")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "35~")
}

func TestScanTable(t *testing.T) {
	var buf bytes.Buffer
	run := &models.ScanRun{
		ID:               "0123456789abcdef",
		SymbolsRequested: 3,
		SymbolsSucceeded: 1,
		SymbolsSkipped:   1,
		Results:          []models.SymbolResult{sampleResult()},
		Failures:         []models.SymbolFailure{{Symbol: "BAD", Kind: models.KindProvider, Error: "timeout"}},
	}
	NewEmitter(&buf).ScanTable(run)

	out := buf.String()
	assert.Contains(t, out, "Scan 01234567:")
	assert.Contains(t, out, "straddle")
	assert.Contains(t, out, "BAD")
	assert.Contains(t, out, "provider")

	buf.Reset()
	NewEmitter(&buf).ScanTable(&models.ScanRun{ID: "x", Filters: models.ScanFilters{MinConfidence: 50}})
	assert.Contains(t, buf.String(), "No symbols reached confidence 50")
}

func TestHistoryAndJobsTables(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	e.HistoryTable("XYZ", nil)
	assert.Contains(t, buf.String(), "No history for XYZ")

	buf.Reset()
	e.HistoryTable("XYZ", []models.HistoryEntry{models.NewHistoryEntry("run-12345678", sampleResult(), time.Now())})
	assert.Contains(t, buf.String(), "run-1234")
	assert.Contains(t, buf.String(), "bullish")

	buf.Reset()
	e.JobsTable([]scheduler.Job{{Name: "open", Schedule: "*/15 9-16 * * 1-5", Symbols: []string{"SPY", "QQQ"}}})
	assert.Contains(t, buf.String(), "disabled")
	assert.Contains(t, buf.String(), "SPY,QQQ")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	r := sampleResult()
	require.NoError(t, NewEmitter(&buf).JSON(&r))
	assert.Contains(t, buf.String(), `"overall_confidence": 72`)
	assert.Contains(t, buf.String(), `"max_profit": "unlimited"`)
}

func TestEmitScanCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.csv")
	run := &models.ScanRun{ID: "run-1", Results: []models.SymbolResult{sampleResult()}}
	require.NoError(t, NewEmitter(nil).EmitScanCSV(path, run))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Symbol", rows[0][1])
	assert.Equal(t, []string{"run-1", "XYZ", "72", "bullish", "100.00", "2026-11-20", "1", "1", "1", "straddle"}, rows[1])
}
