package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/optionflow/internal/models"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	states   []gobreaker.State
}

func (o *recordingObserver) ObserveRequest(_, _, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveBreaker(_ string, state gobreaker.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.RPS = 0
	cfg.Backoff = BackoffConfig{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 3}
	return cfg
}

func noSleep(r *Resilient) *Resilient {
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	stub := &stubData{
		errs:  []error{errors.New("timeout"), errors.New("502")},
		quote: models.Quote{Symbol: "XYZ", Last: 10},
	}
	obs := &recordingObserver{}
	r := noSleep(NewResilient(stub, testConfig(), obs))

	q, err := r.FetchQuote(context.Background(), "XYZ")
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.Last)
	assert.Equal(t, 3, stub.count())
	assert.Equal(t, []string{OutcomeError, OutcomeError, OutcomeOK}, obs.outcomes)
}

func TestResilientGivesUpAsProviderError(t *testing.T) {
	stub := &stubData{always: errors.New("down")}
	r := noSleep(NewResilient(stub, testConfig(), nil))

	_, err := r.FetchExpirations(context.Background(), "XYZ")

	var pe *models.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "expirations", pe.Op)
	assert.Equal(t, 3, stub.count())
}

func TestResilientDoesNotRetryDataQuality(t *testing.T) {
	stub := &stubData{always: &models.DataQualityError{Symbol: "XYZ", Reason: "empty chain"}}
	r := noSleep(NewResilient(stub, testConfig(), nil))

	_, err := r.FetchOptionChain(context.Background(), "XYZ", time.Now())

	var dq *models.DataQualityError
	require.True(t, errors.As(err, &dq))
	assert.Equal(t, 1, stub.count())
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestResilientOpensBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff.MaxAttempts = 1
	cfg.Circuit.ConsecutiveFailures = 2
	cfg.Circuit.Timeout = time.Hour

	stub := &stubData{always: errors.New("down")}
	obs := &recordingObserver{}
	r := noSleep(NewResilient(stub, cfg, obs))

	for i := 0; i < 2; i++ {
		_, err := r.FetchQuote(context.Background(), "XYZ")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, obs.states)

	_, err := r.FetchQuote(context.Background(), "XYZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, stub.count(), "open breaker must not reach the provider")
	assert.Equal(t, OutcomeRejected, obs.outcomes[len(obs.outcomes)-1])
}

func TestResilientStopsOnCancelledContext(t *testing.T) {
	stub := &stubData{always: errors.New("down")}
	r := NewResilient(stub, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.FetchQuote(ctx, "XYZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stub.count())
}

func TestResilientRateLimitWaitRespectsDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.RPS = 0.001
	cfg.Burst = 1
	stub := &stubData{quote: models.Quote{Symbol: "XYZ", Last: 1}}
	r := NewResilient(stub, cfg, nil)

	_, err := r.FetchQuote(context.Background(), "XYZ")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.FetchQuote(ctx, "XYZ")

	var pe *models.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, stub.count())
}

func TestBackoffDelay(t *testing.T) {
	r := &Resilient{backoff: BackoffConfig{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}}
	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 300*time.Millisecond, r.delay(3))
	assert.Equal(t, 300*time.Millisecond, r.delay(10))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Backoff.Base = time.Minute
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Name = ""
	assert.Error(t, cfg.Validate())
}
