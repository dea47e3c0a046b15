package provider

import (
	"context"
	"sync"
	"time"

	"github.com/sawpanic/optionflow/internal/models"
)

// stubData returns canned values and counts calls. errs are consumed in order
// before the canned values are served.
type stubData struct {
	mu     sync.Mutex
	quote  models.Quote
	chain  []models.OptionContract
	dates  []time.Time
	errs   []error
	calls  int
	always error
}

func (s *stubData) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.always != nil {
		return s.always
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *stubData) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubData) FetchQuote(_ context.Context, _ string) (models.Quote, error) {
	if err := s.next(); err != nil {
		return models.Quote{}, err
	}
	return s.quote, nil
}

func (s *stubData) FetchOptionChain(_ context.Context, _ string, _ time.Time) ([]models.OptionContract, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return s.chain, nil
}

func (s *stubData) FetchExpirations(_ context.Context, _ string) ([]time.Time, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return s.dates, nil
}

var testExpiry = time.Date(2026, 11, 13, 0, 0, 0, 0, time.UTC)
