package progression

import (
	"context"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence. The completion ledger is
// the sole writer of task completions and episode progress.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for the completion ledger.
type Repository interface {
	// InsertCompletion performs a compare-and-insert keyed on (student,
	// episode, task definition). Returns alreadyExists=true and the existing
	// row when the key is taken; only the first writer ever inserts. This is
	// the single serialization point for concurrent approvals.
	InsertCompletion(ctx context.Context, completion *TaskCompletion) (existing *TaskCompletion, alreadyExists bool, err error)

	// GetCompletion returns the completion for a (student, episode, task) key.
	// Returns ErrCompletionNotFound if absent.
	GetCompletion(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID, taskDefinitionID string) (*TaskCompletion, error)

	// CountByPillar returns how many completions the student has for a pillar
	// in a season. This is the durable prior-approved count the resolver
	// indexes with; it is derived from ledger rows, never from raw submission
	// counts.
	CountByPillar(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID, pillar shared.Pillar) (int, error)

	// CountByEpisode returns how many tasks the student completed in an episode.
	CountByEpisode(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (int, error)

	// ListCompletions returns all of a student's completions in a season,
	// ordered by completion time.
	ListCompletions(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*TaskCompletion, error)

	// HasCompletion reports whether the student completed a specific task slot.
	HasCompletion(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID, taskDefinitionID string) (bool, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Episode progress
	// ─────────────────────────────────────────────────────────────────────────

	// GetProgress returns the student's progress row for one episode.
	// Returns ErrProgressNotFound if absent.
	GetProgress(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*StudentEpisodeProgress, error)

	// GetProgressForUpdate returns the progress row and holds a write lock on
	// it for the rest of the enclosing transaction. The ledger takes this lock
	// before counting an episode's completions, so concurrent approvals of
	// different tasks in the same episode count one after the other and the
	// second sees both rows.
	// Returns ErrProgressNotFound if absent.
	GetProgressForUpdate(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*StudentEpisodeProgress, error)

	// ListProgress returns the student's progress rows for a season, ordered
	// by episode ordinal.
	ListProgress(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*StudentEpisodeProgress, error)

	// CreateProgress inserts a progress row if it does not exist yet.
	// Concurrent creators are safe: the first insert wins, later ones no-op.
	CreateProgress(ctx context.Context, progress *StudentEpisodeProgress) error

	// UpdateProgress persists a mutated progress row.
	UpdateProgress(ctx context.Context, progress *StudentEpisodeProgress) error
}

// FinalizationChecker reports whether a student+season pair is frozen.
// Satisfied by the scoring repository, which owns the finalization records.
type FinalizationChecker interface {
	IsFinalized(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (bool, error)
}
