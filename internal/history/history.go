// Package history keeps recent scan outcomes per symbol.
package history

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sawpanic/optionflow/internal/history/postgres"
	"github.com/sawpanic/optionflow/internal/models"
)

// Store records completed runs and answers per-symbol lookups
type Store interface {
	Record(ctx context.Context, run *models.ScanRun) error
	Recent(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error)
}

// Config selects and sizes the store
type Config struct {
	Postgres     postgres.Config `yaml:"postgres"`
	PerSymbol    int             `yaml:"per_symbol"`
	MaxSymbols   int             `yaml:"max_symbols"`
	DefaultLimit int             `yaml:"default_limit"` // 0 lists every entry
}

// DefaultConfig keeps 10 entries per symbol for up to 1000 symbols in memory
func DefaultConfig() Config {
	return Config{
		Postgres:     postgres.DefaultConfig(),
		PerSymbol:    10,
		MaxSymbols:   1000,
		DefaultLimit: 10,
	}
}

func (c Config) Validate() error {
	if c.PerSymbol <= 0 {
		return fmt.Errorf("history.per_symbol must be positive, got %d", c.PerSymbol)
	}
	if c.MaxSymbols < 2 {
		return fmt.Errorf("history.max_symbols must be at least 2, got %d", c.MaxSymbols)
	}
	if c.DefaultLimit < 0 {
		return fmt.Errorf("history.default_limit must not be negative, got %d", c.DefaultLimit)
	}
	return nil
}

// Open returns a postgres-backed store when a DSN is configured and an
// in-memory store otherwise. The closer releases the connection pool.
func Open(ctx context.Context, cfg Config) (Store, io.Closer, error) {
	if cfg.Postgres.DSN == "" {
		return NewMemory(cfg.PerSymbol, cfg.MaxSymbols), nopCloser{}, nil
	}
	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.NewRepo(db, cfg.Postgres.QueryTimeout)
	return repo, repo, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type symbolLog struct {
	entries []models.HistoryEntry
	seq     uint64 // store-wide sequence of the last append
}

// Memory is a bounded in-process store. Each symbol keeps its newest
// perSymbol entries; once maxSymbols distinct symbols are held, the
// oldest half by last append is evicted before a new symbol is added.
type Memory struct {
	mu         sync.Mutex
	perSymbol  int
	maxSymbols int
	symbols    map[string]*symbolLog
	seq        uint64
	now        func() time.Time
}

// NewMemory creates a memory store; non-positive sizes use the defaults
func NewMemory(perSymbol, maxSymbols int) *Memory {
	def := DefaultConfig()
	if perSymbol <= 0 {
		perSymbol = def.PerSymbol
	}
	if maxSymbols < 2 {
		maxSymbols = def.MaxSymbols
	}
	return &Memory{
		perSymbol:  perSymbol,
		maxSymbols: maxSymbols,
		symbols:    make(map[string]*symbolLog),
		now:        time.Now,
	}
}

func (m *Memory) Record(_ context.Context, run *models.ScanRun) error {
	if run == nil {
		return nil
	}
	at := run.StartedAt.Add(run.Duration)
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range run.Results {
		m.appendLocked(models.NewHistoryEntry(run.ID, r, at))
	}
	return nil
}

func (m *Memory) appendLocked(e models.HistoryEntry) {
	key := strings.ToUpper(e.Symbol)
	sl, ok := m.symbols[key]
	if !ok {
		if len(m.symbols) >= m.maxSymbols {
			m.evictLocked()
		}
		sl = &symbolLog{}
		m.symbols[key] = sl
	}

	sl.entries = append(sl.entries, e)
	if over := len(sl.entries) - m.perSymbol; over > 0 {
		sl.entries = append(sl.entries[:0:0], sl.entries[over:]...)
	}
	m.seq++
	sl.seq = m.seq
}

// evictLocked drops the half of the symbols appended to least recently
func (m *Memory) evictLocked() {
	keys := make([]string, 0, len(m.symbols))
	for k := range m.symbols {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.symbols[keys[i]].seq < m.symbols[keys[j]].seq
	})
	for _, k := range keys[:len(keys)/2] {
		delete(m.symbols, k)
	}
}

// Recent returns up to limit entries for symbol, newest first. A
// non-positive limit returns everything held.
func (m *Memory) Recent(_ context.Context, symbol string, limit int) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.symbols[strings.ToUpper(symbol)]
	if !ok {
		return []models.HistoryEntry{}, nil
	}
	n := len(sl.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.HistoryEntry, 0, n)
	for i := len(sl.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, sl.entries[i])
	}
	return out, nil
}

// Symbols reports how many distinct symbols are held
func (m *Memory) Symbols() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.symbols)
}
