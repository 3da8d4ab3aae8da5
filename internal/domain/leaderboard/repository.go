package leaderboard

import (
	"context"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Snapshots persist in PostgreSQL; the computed leaderboard itself is cached
// in Redis with a short TTL and invalidated on score changes.
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository defines storage for periodic leaderboard snapshots.
type SnapshotRepository interface {
	// SaveSnapshot persists a snapshot and its entries.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// GetLatestSnapshot returns the most recent snapshot for a season.
	// Returns ErrSnapshotNotFound if none exists yet.
	GetLatestSnapshot(ctx context.Context, seasonID shared.SeasonID) (*Snapshot, error)

	// DeleteSnapshotsBefore removes snapshots older than the given time.
	// Returns the number of deleted snapshots.
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int, error)
}

// Cache defines the read-through cache for computed leaderboards.
type Cache interface {
	// Get returns the cached leaderboard for a season, or ErrLeaderboardNotFound.
	Get(ctx context.Context, seasonID shared.SeasonID) (*Leaderboard, error)

	// Set stores a computed leaderboard with the given TTL.
	Set(ctx context.Context, board *Leaderboard, ttl time.Duration) error

	// Invalidate drops the cached leaderboard for a season.
	Invalidate(ctx context.Context, seasonID shared.SeasonID) error
}
