// Package jobs contains implementations of scheduled jobs for the progression
// engine worker process.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pillarworks/progression-engine/internal/application/query"
	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// Locker provides mutual exclusion for jobs running on multiple worker
// instances. Only one instance may hold a named lock at a time.
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// RebuildLeaderboardJob recomputes the active season's leaderboard, persists
// a snapshot and warms the cache. Rank deltas are computed against the
// previous snapshot, so the snapshot cadence defines the "since last time"
// window shown next to each entry.
type RebuildLeaderboardJob struct {
	catalogRepo    catalog.Repository
	assembler      *query.LeaderboardAssembler
	snapshotRepo   leaderboard.SnapshotRepository
	boardCache     leaderboard.Cache
	locker         Locker
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	config RebuildLeaderboardConfig

	lastRebuildStats atomic.Value // *RebuildStats
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// SnapshotRetentionDays is how long to keep old snapshots.
	SnapshotRetentionDays int

	// CacheTTL is the TTL for the cached leaderboard.
	CacheTTL time.Duration

	// LockTTL bounds how long a crashed worker blocks the next run.
	LockTTL time.Duration

	// Timeout is the maximum duration for one rebuild.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		SnapshotRetentionDays: 7,
		CacheTTL:              time.Minute,
		LockTTL:               30 * time.Second,
		Timeout:               2 * time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	SeasonID         string
	RankedStudents   int
	ExcludedStudents int
	RankChanges      int
	SnapshotsDeleted int
	Skipped          bool
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
// A nil locker disables cross-instance locking; a nil boardCache disables
// cache warming.
func NewRebuildLeaderboardJob(
	catalogRepo catalog.Repository,
	assembler *query.LeaderboardAssembler,
	snapshotRepo leaderboard.SnapshotRepository,
	boardCache leaderboard.Cache,
	locker Locker,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &RebuildLeaderboardJob{
		catalogRepo:    catalogRepo,
		assembler:      assembler,
		snapshotRepo:   snapshotRepo,
		boardCache:     boardCache,
		locker:         locker,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the active season leaderboard, persists a snapshot and warms the cache"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &RebuildStats{StartedAt: startedAt}

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
			j.logger.Info("rebuild_leaderboard skipped, another instance holds the lock")
			return nil
		}
		defer func() {
			if err := j.locker.ReleaseLock(context.WithoutCancel(ctx), j.Name()); err != nil {
				j.logger.Warn("failed to release rebuild lock", "error", err)
			}
		}()
	}

	season, err := j.catalogRepo.GetActiveSeason(ctx)
	if err != nil {
		if shared.IsNotFound(err) {
			stats.Skipped = true
			j.finishRun(stats)
			j.logger.Info("rebuild_leaderboard skipped, no active season")
			return nil
		}
		return fmt.Errorf("failed to get active season: %w", err)
	}
	stats.SeasonID = season.ID.String()

	board, events, err := j.assembler.Assemble(ctx, season.ID)
	if err != nil {
		return fmt.Errorf("failed to assemble leaderboard: %w", err)
	}
	stats.RankedStudents = board.Size()
	stats.ExcludedStudents = len(board.Excluded)
	stats.RankChanges = len(events)

	snapshot := leaderboard.NewSnapshot(uuid.New().String(), board)
	if err := j.snapshotRepo.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if j.boardCache != nil {
		if err := j.boardCache.Set(ctx, board, j.config.CacheTTL); err != nil {
			j.logger.Warn("failed to warm leaderboard cache", "error", err)
		}
	}

	for _, event := range events {
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish rank change event",
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}

	if j.config.SnapshotRetentionDays > 0 {
		threshold := time.Now().AddDate(0, 0, -j.config.SnapshotRetentionDays)
		deleted, err := j.snapshotRepo.DeleteSnapshotsBefore(ctx, threshold)
		if err != nil {
			j.logger.Warn("failed to delete old snapshots", "error", err)
		}
		stats.SnapshotsDeleted = deleted
	}

	j.finishRun(stats)

	j.logger.Info("rebuild_leaderboard job completed",
		"season_id", stats.SeasonID,
		"duration", stats.Duration.String(),
		"ranked", stats.RankedStudents,
		"excluded", stats.ExcludedStudents,
		"rank_changes", stats.RankChanges,
		"snapshots_deleted", stats.SnapshotsDeleted,
	)

	return nil
}

// finishRun stamps the completion time and stores the stats.
func (j *RebuildLeaderboardJob) finishRun(stats *RebuildStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRebuildStats.Store(stats)
}

// LastRebuildStats returns statistics from the last rebuild.
func (j *RebuildLeaderboardJob) LastRebuildStats() *RebuildStats {
	stats := j.lastRebuildStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RebuildStats)
}
