package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/optionflow/internal/models"
)

// Snapshot is the on-disk layout of one symbol's fixture file
type Snapshot struct {
	Quote       RawQuote      `yaml:"quote"`
	Expirations []string      `yaml:"expirations"`
	Contracts   []RawContract `yaml:"contracts"`
}

// Fixture serves market data from <dir>/<SYMBOL>.yaml files
type Fixture struct {
	dir string
	now func() time.Time
}

// NewFixture creates an offline provider rooted at dir
func NewFixture(dir string) *Fixture {
	return &Fixture{dir: dir, now: time.Now}
}

func (f *Fixture) load(symbol, op string) (*Snapshot, error) {
	path := filepath.Join(f.dir, strings.ToUpper(symbol)+".yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &models.ProviderError{Symbol: symbol, Op: op, Err: fmt.Errorf("no fixture for %s in %s", symbol, f.dir)}
		}
		return nil, &models.ProviderError{Symbol: symbol, Op: op, Err: err}
	}

	var s Snapshot
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, &models.ProviderError{Symbol: symbol, Op: op, Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	return &s, nil
}

func (f *Fixture) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, wrap(symbol, "quote", err)
	}
	s, err := f.load(symbol, "quote")
	if err != nil {
		return models.Quote{}, err
	}
	return NormalizeQuote(symbol, s.Quote), nil
}

func (f *Fixture) FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(symbol, "chain", err)
	}
	s, err := f.load(symbol, "chain")
	if err != nil {
		return nil, err
	}

	all, _ := NormalizeChain(symbol, expiration, s.Contracts)
	out := make([]models.OptionContract, 0, len(all))
	for _, c := range all {
		if expiration.IsZero() || sameDay(c.Expiration, expiration) {
			out = append(out, c)
		}
	}
	return out, nil
}

// FetchExpirations uses the listed dates, then the dates seen on contracts,
// then the next Fridays
func (f *Fixture) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(symbol, "expirations", err)
	}
	s, err := f.load(symbol, "expirations")
	if err != nil {
		return nil, err
	}

	dates := ParseDates(s.Expirations)
	if len(dates) == 0 {
		seen := make(map[string]bool)
		var raw []string
		for _, c := range s.Contracts {
			if c.Expiration != "" && !seen[c.Expiration] {
				seen[c.Expiration] = true
				raw = append(raw, c.Expiration)
			}
		}
		dates = ParseDates(raw)
	}
	if len(dates) == 0 {
		return NextFridays(f.now(), FallbackExpirationCount), nil
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
