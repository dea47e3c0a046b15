// Package scheduler runs watch-list scans on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/models"
)

// ErrJobRunning is returned when a job is triggered while its previous run
// has not finished
var ErrJobRunning = errors.New("job is still running")

// Job represents a scheduled watch-list scan
type Job struct {
	Name          string   `yaml:"name"`
	Schedule      string   `yaml:"schedule"` // cron format: "*/15 9-16 * * 1-5"
	Description   string   `yaml:"description"`
	Enabled       bool     `yaml:"enabled"`
	Symbols       []string `yaml:"symbols"`
	MinVolume     int64    `yaml:"min_volume"`
	MinConfidence *int     `yaml:"min_confidence"` // unset uses scan.min_confidence
	Concurrency   int      `yaml:"concurrency"`
}

// Config holds the scheduler configuration
type Config struct {
	Jobs     []Job  `yaml:"jobs"`
	Timezone string `yaml:"timezone"`
}

func (c Config) Validate() error {
	seen := make(map[string]bool)
	for _, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("schedule: job name is required")
		}
		if seen[j.Name] {
			return fmt.Errorf("schedule: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			return fmt.Errorf("schedule: job %q has invalid schedule %q: %w", j.Name, j.Schedule, err)
		}
		if len(j.Symbols) == 0 {
			return fmt.Errorf("schedule: job %q has no symbols", j.Name)
		}
		if j.MinConfidence != nil && (*j.MinConfidence < 0 || *j.MinConfidence > 100) {
			return fmt.Errorf("schedule: job %q min_confidence must be within [0,100], got %d", j.Name, *j.MinConfidence)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("schedule: invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// Runner executes a scan; the pipeline satisfies it
type Runner interface {
	Run(ctx context.Context, symbols []string, filters models.ScanFilters) (*models.ScanRun, error)
}

// Status represents scheduler status
type Status struct {
	Running      bool          `json:"running"`
	EnabledJobs  int           `json:"enabled_jobs"`
	DisabledJobs int           `json:"disabled_jobs"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	Uptime       time.Duration `json:"uptime"`
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	RunID     string        `json:"run_id,omitempty"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Qualified int           `json:"qualified"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	config Config
	runner Runner
	cron   *cron.Cron

	mu        sync.Mutex
	active    map[string]bool
	last      map[string]JobResult
	started   bool
	startTime time.Time
	runCtx    context.Context
}

// New creates a scheduler and registers every enabled job
func New(config Config, runner Runner) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	loc := time.UTC
	if config.Timezone != "" {
		loc, _ = time.LoadLocation(config.Timezone)
	}

	s := &Scheduler{
		config: config,
		runner: runner,
		active: make(map[string]bool),
		last:   make(map[string]JobResult),
		runCtx: context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)

	for _, job := range config.Jobs {
		if !job.Enabled {
			continue
		}
		name := job.Name
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.fire(name) }); err != nil {
			return nil, fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
	}
	return s, nil
}

// ListJobs returns all configured jobs
func (s *Scheduler) ListJobs() []Job {
	return s.config.Jobs
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.started}
	for _, job := range s.config.Jobs {
		if job.Enabled {
			st.EnabledJobs++
		} else {
			st.DisabledJobs++
		}
	}
	if s.started {
		st.Uptime = time.Since(s.startTime)
	}

	entries := s.cron.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Next.Before(entries[j].Next) })
	if len(entries) > 0 {
		st.NextRun = entries[0].Next
	}
	return st
}

// LastResult returns the most recent result of a job
func (s *Scheduler) LastResult(name string) (JobResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.last[name]
	return r, ok
}

// Start runs the cron loop until ctx is cancelled, then waits for running
// jobs to finish
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.startTime = time.Now()
	s.runCtx = ctx
	s.mu.Unlock()

	log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler starting")
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	log.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

// fire runs under the Start context so cancelling it interrupts in-flight scans
func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if _, err := s.RunJob(ctx, name); err != nil && !errors.Is(err, ErrJobRunning) {
		log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
	}
}

// RunJob executes a specific job immediately. A job whose previous run is
// still in flight is skipped with ErrJobRunning.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*JobResult, error) {
	var job *Job
	for i := range s.config.Jobs {
		if s.config.Jobs[i].Name == name {
			job = &s.config.Jobs[i]
			break
		}
	}
	if job == nil {
		return nil, fmt.Errorf("job not found: %s", name)
	}

	s.mu.Lock()
	if s.active[name] {
		s.mu.Unlock()
		log.Warn().Str("job", name).Msg("Skipping job, previous run still in progress")
		return nil, ErrJobRunning
	}
	s.active[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, name)
		s.mu.Unlock()
	}()

	start := time.Now()
	result := &JobResult{JobName: name, StartTime: start}

	minConfidence := models.ConfidenceFromConfig
	if job.MinConfidence != nil {
		minConfidence = *job.MinConfidence
	}
	run, err := s.runner.Run(ctx, job.Symbols, models.ScanFilters{
		MinVolume:     job.MinVolume,
		MinConfidence: minConfidence,
		Concurrency:   job.Concurrency,
	})
	result.Duration = time.Since(start)
	if run != nil {
		result.RunID = run.ID
		result.Qualified = len(run.Results)
		result.Failed = len(run.Failures)
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
	}

	s.mu.Lock()
	s.last[name] = *result
	s.mu.Unlock()

	log.Info().
		Str("job", name).
		Str("run_id", result.RunID).
		Int("qualified", result.Qualified).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Bool("success", result.Success).
		Msg("Job completed")

	if err != nil {
		return result, fmt.Errorf("job %s: %w", name, err)
	}
	return result, nil
}

// cronLogger routes cron's internal logging through zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
