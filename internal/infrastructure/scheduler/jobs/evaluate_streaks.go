package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pillarworks/progression-engine/internal/application/command"
	"github.com/pillarworks/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE STREAKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StreakSource reports which students had a qualifying daily-consistency day.
// The evaluation itself happens in an external daily process; this engine
// only consumes its verdicts.
type StreakSource interface {
	// QualifiedStudents returns the IDs of students whose streak qualified
	// for the given day.
	QualifiedStudents(ctx context.Context, day time.Time) ([]string, error)
}

// StreakRecorder credits a qualifying streak day to a student.
// Satisfied by command.RecordStreakDayHandler.
type StreakRecorder interface {
	Handle(ctx context.Context, cmd command.RecordStreakDayCommand) (*command.RecordStreakDayResult, error)
}

// EvaluateStreaksJob pulls the day's qualifying students from the streak feed
// and credits each one through the streak command. The completion ledger makes
// repeated runs for the same day converge, so the job can run more than once
// without double-granting points.
type EvaluateStreaksJob struct {
	source   StreakSource
	recorder StreakRecorder
	locker   Locker
	logger   *slog.Logger

	config EvaluateStreaksConfig

	lastRunStats atomic.Value // *StreakStats
}

// EvaluateStreaksConfig contains configuration for the streak job.
type EvaluateStreaksConfig struct {
	// Concurrency is the number of students credited in parallel.
	Concurrency int

	// LockTTL bounds how long a crashed worker blocks the next run.
	LockTTL time.Duration

	// Timeout is the maximum duration for one run.
	Timeout time.Duration
}

// DefaultEvaluateStreaksConfig returns sensible defaults.
func DefaultEvaluateStreaksConfig() EvaluateStreaksConfig {
	return EvaluateStreaksConfig{
		Concurrency: 5,
		LockTTL:     30 * time.Second,
		Timeout:     5 * time.Minute,
	}
}

// StreakStats contains statistics from a streak evaluation run.
type StreakStats struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	Day             time.Time
	Qualified       int
	Credited        int
	AlreadyCredited int
	Exhausted       int
	Failed          int
	Skipped         bool
}

// NewEvaluateStreaksJob creates a new streak evaluation job.
// A nil locker disables cross-instance locking.
func NewEvaluateStreaksJob(
	source StreakSource,
	recorder StreakRecorder,
	locker Locker,
	logger *slog.Logger,
	config EvaluateStreaksConfig,
) *EvaluateStreaksJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	return &EvaluateStreaksJob{
		source:   source,
		recorder: recorder,
		locker:   locker,
		logger:   logger,
		config:   config,
	}
}

// Name returns the job name.
func (j *EvaluateStreaksJob) Name() string {
	return "evaluate_streaks"
}

// Description returns a human-readable description.
func (j *EvaluateStreaksJob) Description() string {
	return "Credits qualifying daily-consistency streak days reported by the streak feed"
}

// Run executes the streak evaluation job.
func (j *EvaluateStreaksJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	day := timeutil.StartOfDay(startedAt)
	stats := &StreakStats{StartedAt: startedAt, Day: day}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.locker != nil {
		acquired, err := j.locker.AcquireLock(ctx, j.Name(), j.config.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !acquired {
			stats.Skipped = true
			j.finishRun(stats)
			j.logger.Info("evaluate_streaks skipped, another instance holds the lock")
			return nil
		}
		defer func() {
			if err := j.locker.ReleaseLock(context.WithoutCancel(ctx), j.Name()); err != nil {
				j.logger.Warn("failed to release streak lock", "error", err)
			}
		}()
	}

	studentIDs, err := j.source.QualifiedStudents(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to fetch qualified students: %w", err)
	}
	stats.Qualified = len(studentIDs)

	if len(studentIDs) == 0 {
		j.finishRun(stats)
		j.logger.Info("evaluate_streaks job completed", "qualified", 0)
		return nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, j.config.Concurrency)
	)

	for _, studentID := range studentIDs {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := j.recorder.Handle(ctx, command.RecordStreakDayCommand{
				StudentID: studentID,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				j.logger.Warn("failed to credit streak day",
					"student_id", studentID,
					"error", err,
				)
			case result.Exhausted:
				stats.Exhausted++
			case result.AlreadyCredited:
				stats.AlreadyCredited++
			default:
				stats.Credited++
			}
		}(studentID)
	}

	wg.Wait()
	j.finishRun(stats)

	j.logger.Info("evaluate_streaks job completed",
		"day", timeutil.FormatDateStr(day),
		"duration", stats.Duration.String(),
		"qualified", stats.Qualified,
		"credited", stats.Credited,
		"already_credited", stats.AlreadyCredited,
		"exhausted", stats.Exhausted,
		"failed", stats.Failed,
	)

	if stats.Failed > 0 {
		return fmt.Errorf("streak evaluation completed with %d failures", stats.Failed)
	}
	return nil
}

// finishRun stamps the completion time and stores the stats.
func (j *EvaluateStreaksJob) finishRun(stats *StreakStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)
}

// LastRunStats returns statistics from the last run.
func (j *EvaluateStreaksJob) LastRunStats() *StreakStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*StreakStats)
}
