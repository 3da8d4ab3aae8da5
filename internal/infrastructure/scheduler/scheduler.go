// Package scheduler runs the engine's periodic jobs: leaderboard rebuilds on
// an interval and streak crediting on a daily cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
)

// Job is a unit of periodic work. Run receives a context that is cancelled
// when the scheduler stops; jobs are expected to return promptly after that.
type Job interface {
	Name() string
	Run(ctx context.Context) error
	Description() string
}

// Schedule decides when a job fires.
type Schedule interface {
	// Next returns the first firing time after t.
	Next(t time.Time) time.Time

	String() string
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone anchors schedule calculations. The engine's cron schedules
	// are written in UTC.
	Timezone *time.Location

	// PollInterval is how often due jobs are checked for. Cron resolution
	// is one minute, so the default of one second is plenty.
	PollInterval time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:       slog.Default(),
		Timezone:     time.UTC,
		PollInterval: time.Second,
	}
}

// Scheduler owns a set of registered jobs and fires each according to its
// schedule. One scheduler runs per worker process; multi-instance safety
// comes from the jobs' own distributed locks, not from here.
type Scheduler struct {
	logger *slog.Logger
	tz     *time.Location
	poll   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// entry pairs a job with its schedule and run bookkeeping.
type entry struct {
	job      Job
	schedule Schedule
	next     time.Time
	lastRun  time.Time
	runs     int64
	failures int64
}

// NewScheduler creates a Scheduler from the given config.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Scheduler{
		logger:  config.Logger,
		tz:      config.Timezone,
		poll:    config.PollInterval,
		entries: make(map[string]*entry),
	}
}

// Register adds a job under its Name with the given schedule. Jobs can be
// registered before or after Start.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	next := schedule.Next(time.Now().In(s.tz))
	s.entries[name] = &entry{job: job, schedule: schedule, next: next}

	s.logger.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", next.Format(time.RFC3339),
	)
	return nil
}

// Start launches the firing loop. It returns once the loop goroutine is up.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop cancels the loop and waits for in-flight jobs to finish. Stopping a
// scheduler that never started is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now.In(s.tz))
		}
	}
}

// fireDue launches every job whose firing time has passed. The next firing
// time advances before the job runs so a slow job cannot overlap itself.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.next.IsZero() && now.After(e.next) {
			e.lastRun = now
			e.next = e.schedule.Next(now)
			e.runs++
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			_ = s.runJob(ctx, e)
		}(e)
	}
}

func (s *Scheduler) runJob(ctx context.Context, e *entry) error {
	name := e.job.Name()
	started := time.Now()

	s.logger.Info("job started", "job", name)
	err := e.job.Run(ctx)
	elapsed := time.Since(started)

	if err != nil {
		s.mu.Lock()
		e.failures++
		s.mu.Unlock()
		s.logger.Error("job failed", "job", name, "duration", elapsed.String(), "error", err)
		return err
	}
	s.logger.Info("job completed", "job", name, "duration", elapsed.String())
	return nil
}

// RunNow executes a registered job immediately, outside its schedule, and
// returns the job's error. Scheduled firing times are unaffected.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) error {
	s.mu.Lock()
	e, ok := s.entries[jobName]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	s.logger.Info("manual job run", "job", jobName)
	return s.runJob(ctx, e)
}

// JobInfo describes a registered job and its recent activity.
type JobInfo struct {
	Name     string
	Schedule string
	LastRun  time.Time
	NextRun  time.Time
	Runs     int64
	Failures int64
}

// Jobs returns every registered job's current state, for diagnostics.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule.String(),
			LastRun:  e.lastRun,
			NextRun:  e.next,
			Runs:     e.runs,
			Failures: e.failures,
		})
	}
	return infos
}
