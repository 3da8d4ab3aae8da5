package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	err  error
	runs atomic.Int64
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestRegisterRejectsDuplicatesAndNils(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	schedule := NewIntervalSchedule(time.Hour)

	assert.ErrorIs(t, s.Register(nil, schedule), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&countingJob{name: "a"}, schedule))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, schedule), ErrJobAlreadyExists)
}

func TestStartTwiceFails(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	assert.NoError(t, s.Stop())
}

func TestIntervalJobFires(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.PollInterval = 5 * time.Millisecond
	s := NewScheduler(cfg)

	job := &countingJob{name: "rebuild"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestRunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	errJob := &countingJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.Register(errJob, NewIntervalSchedule(time.Hour)))

	assert.Error(t, s.RunNow(context.Background(), "failing"))
	assert.Equal(t, int64(1), errJob.runs.Load())

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrJobNotFound)
}

func TestJobsReportsState(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	job := &countingJob{name: "streaks", err: errors.New("feed down")}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	_ = s.RunNow(context.Background(), "streaks")

	infos := s.Jobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "streaks", infos[0].Name)
	assert.Equal(t, int64(1), infos[0].Failures)
	assert.False(t, infos[0].NextRun.IsZero())
}
