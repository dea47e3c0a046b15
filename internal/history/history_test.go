package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/optionflow/internal/models"
)

func runOf(id string, confidence int, symbols ...string) *models.ScanRun {
	run := &models.ScanRun{ID: id, StartedAt: time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)}
	for _, s := range symbols {
		run.Results = append(run.Results, models.SymbolResult{Symbol: s, OverallConfidence: confidence})
	}
	return run
}

func TestMemoryRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 100)

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.Record(ctx, runOf(fmt.Sprintf("run-%d", i), i*10, "AAPL")))
	}

	got, err := m.Recent(ctx, "aapl", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "run-3", got[0].RunID)
	assert.Equal(t, 30, got[0].Confidence)
	assert.Equal(t, "run-2", got[1].RunID)
}

func TestMemoryCapsPerSymbol(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 100)

	for i := 0; i < 25; i++ {
		require.NoError(t, m.Record(ctx, runOf(fmt.Sprintf("run-%d", i), 50, "TSLA")))
	}

	got, err := m.Recent(ctx, "TSLA", 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "run-24", got[0].RunID)
	assert.Equal(t, "run-15", got[9].RunID)
}

func TestMemoryEvictsOldestHalf(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 4)

	for _, s := range []string{"A", "B", "C", "D"} {
		require.NoError(t, m.Record(ctx, runOf("r-"+s, 50, s)))
	}
	// touching A makes B and C the oldest
	require.NoError(t, m.Record(ctx, runOf("r-A2", 50, "A")))
	require.NoError(t, m.Record(ctx, runOf("r-E", 50, "E")))

	assert.Equal(t, 3, m.Symbols())
	for _, s := range []string{"B", "C"} {
		got, err := m.Recent(ctx, s, 0)
		require.NoError(t, err)
		assert.Empty(t, got, s)
	}
	for _, s := range []string{"A", "D", "E"} {
		got, err := m.Recent(ctx, s, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, got, s)
	}
}

func TestMemoryUnknownSymbol(t *testing.T) {
	got, err := NewMemory(0, 0).Recent(context.Background(), "NONE", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMemoryConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Record(ctx, runOf(fmt.Sprintf("run-%d", i), 50, fmt.Sprintf("S%d", i%5)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, m.Symbols())
	for i := 0; i < 5; i++ {
		got, err := m.Recent(ctx, fmt.Sprintf("S%d", i), 0)
		require.NoError(t, err)
		assert.Len(t, got, 10)
	}
}

func TestOpenWithoutDSNIsMemory(t *testing.T) {
	store, closer, err := Open(context.Background(), DefaultConfig())
	require.NoError(t, err)
	defer closer.Close()

	_, ok := store.(*Memory)
	assert.True(t, ok)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.PerSymbol = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DefaultLimit = -1
	assert.Error(t, cfg.Validate())

	cfg.DefaultLimit = 0
	assert.NoError(t, cfg.Validate())
}
