package scoring

import (
	"context"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence. The scoring engine is
// the sole writer of season scores and score history.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for season scores.
type Repository interface {
	// GetScore returns the score row for a student+season pair.
	// Returns ErrScoreNotFound if absent.
	GetScore(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error)

	// GetScoreForUpdate returns the score row and holds a write lock on it
	// for the rest of the enclosing transaction. Every read-modify-write of a
	// score must go through this method so concurrent grants for the same
	// student serialize instead of overwriting each other.
	// Returns ErrScoreNotFound if absent.
	GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error)

	// CreateScore inserts a score row if it does not exist yet. When a
	// concurrent creator won the insert it returns ErrScoreConflict; the
	// caller re-reads the winner's row.
	CreateScore(ctx context.Context, score *SeasonScore) error

	// UpdateScore persists a mutated score row.
	// Returns ErrScoreFrozen if the stored row is finalized.
	UpdateScore(ctx context.Context, score *SeasonScore) error

	// ListScores returns every score row of a season.
	ListScores(ctx context.Context, seasonID shared.SeasonID) ([]*SeasonScore, error)

	// CountScores returns the number of score rows in a season.
	CountScores(ctx context.Context, seasonID shared.SeasonID) (int, error)

	// ─────────────────────────────────────────────────────────────────────────
	// History
	// ─────────────────────────────────────────────────────────────────────────

	// AppendHistory stores one append-only score change record.
	AppendHistory(ctx context.Context, entry *HistoryEntry) error

	// ListHistory returns a student's score history in a season, oldest first.
	ListHistory(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*HistoryEntry, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Finalization barrier
	// ─────────────────────────────────────────────────────────────────────────

	// IsFinalized reports whether the student+season pair is frozen.
	IsFinalized(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (bool, error)

	// MarkFinalized freezes the pair. Returns ErrAlreadyFrozen when it was
	// already finalized.
	MarkFinalized(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) error
}
