package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION LEDGER
//
// The ledger enforces at-most-once completion per (student, episode, task
// definition). Insertion is a compare-and-insert: under concurrent approvals
// only the first writer records the row, every competitor observes
// AlreadyRecorded and skips scoring. After an insertion the ledger recomputes
// the episode's completion percentage and advances its status; statuses only
// ever move forward.
// ══════════════════════════════════════════════════════════════════════════════

// Ledger is the sole writer of task completions and episode progress.
type Ledger struct {
	repo      Repository
	finalized FinalizationChecker
}

// NewLedger creates a new Ledger.
func NewLedger(repo Repository, finalized FinalizationChecker) *Ledger {
	return &Ledger{repo: repo, finalized: finalized}
}

// RecordCompletion records the resolved task slot as completed for the
// student. Safe to call repeatedly with different submission IDs for the same
// slot: later calls return AlreadyRecorded=true and mutate nothing.
//
// Returns ErrSeasonFinalized when the student+season pair is frozen.
func (l *Ledger) RecordCompletion(ctx context.Context, cat *catalog.SeasonCatalog, studentID shared.StudentID, resolved *ResolvedTask, submissionID shared.SubmissionID) (*CompletionResult, error) {
	frozen, err := l.finalized.IsFinalized(ctx, studentID, cat.Season.ID)
	if err != nil {
		return nil, fmt.Errorf("record completion: check finalization: %w", err)
	}
	if frozen {
		return nil, shared.ErrScoreFrozen
	}

	progressRows, err := l.EnsureProgress(ctx, cat, studentID)
	if err != nil {
		return nil, err
	}

	completion := &TaskCompletion{
		ID:                 uuid.NewString(),
		StudentID:          studentID,
		SeasonID:           cat.Season.ID,
		EpisodeID:          resolved.Episode.ID,
		TaskDefinitionID:   resolved.Task.ID,
		Pillar:             resolved.Task.Pillar,
		SlotIndex:          resolved.Task.SlotIndex,
		SourceSubmissionID: submissionID,
		CompletedAt:        time.Now().UTC(),
	}
	if err := completion.Validate(); err != nil {
		return nil, err
	}

	existing, alreadyExists, err := l.repo.InsertCompletion(ctx, completion)
	if err != nil {
		return nil, fmt.Errorf("record completion: insert: %w", err)
	}
	if alreadyExists {
		return &CompletionResult{
			AlreadyRecorded: true,
			Completion:      existing,
			Progress:        findProgress(progressRows, resolved.Episode.ID),
		}, nil
	}

	// Re-read the progress row under a write lock before counting. Counting
	// from the unlocked snapshot lets two approvals in the same episode each
	// see only their own row and both persist a partial percentage; holding
	// the lock makes the second count run after the first commit.
	progress, err := l.repo.GetProgressForUpdate(ctx, studentID, resolved.Episode.ID)
	if err != nil {
		return nil, fmt.Errorf("record completion: lock progress: %w", err)
	}
	swapProgress(progressRows, progress)

	wasCompleted := progress.IsCompleted()
	completed, err := l.repo.CountByEpisode(ctx, studentID, resolved.Episode.ID)
	if err != nil {
		return nil, fmt.Errorf("record completion: count episode tasks: %w", err)
	}
	if err := progress.Recalculate(completed); err != nil {
		return nil, err
	}
	if err := l.repo.UpdateProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("record completion: update progress: %w", err)
	}

	result := &CompletionResult{
		Completion:       completion,
		Progress:         progress,
		EpisodeCompleted: !wasCompleted && progress.IsCompleted(),
	}
	result.Events = append(result.Events, shared.NewTaskCompletedEvent(
		studentID.String(),
		cat.Season.ID.String(),
		resolved.Episode.ID.String(),
		resolved.Episode.Ordinal.Int(),
		resolved.Task.Pillar.String(),
		resolved.Task.SlotIndex,
		submissionID.String(),
	))

	if result.EpisodeCompleted {
		result.Events = append(result.Events, shared.NewEpisodeCompletedEvent(
			studentID.String(),
			cat.Season.ID.String(),
			resolved.Episode.ID.String(),
			resolved.Episode.Ordinal.Int(),
		))
		unlocked, err := l.unlockNext(ctx, progressRows)
		if err != nil {
			return nil, err
		}
		result.UnlockedEpisode = unlocked
	}

	return result, nil
}

// EnsureProgress lazily creates the student's progress rows for every episode
// of the season and keeps the unlock rule consistent: the earliest
// non-completed episode must not stay locked. Returns the rows ordered by
// episode ordinal.
func (l *Ledger) EnsureProgress(ctx context.Context, cat *catalog.SeasonCatalog, studentID shared.StudentID) ([]*StudentEpisodeProgress, error) {
	existing, err := l.repo.ListProgress(ctx, studentID, cat.Season.ID)
	if err != nil {
		return nil, fmt.Errorf("ensure progress: list: %w", err)
	}
	byEpisode := make(map[shared.EpisodeID]*StudentEpisodeProgress, len(existing))
	for _, p := range existing {
		byEpisode[p.EpisodeID] = p
	}

	rows := make([]*StudentEpisodeProgress, 0, len(cat.Episodes()))
	for _, ep := range cat.Episodes() {
		p, ok := byEpisode[ep.ID]
		if !ok {
			p = NewEpisodeProgress(studentID, ep, cat.Season.ID)
			if err := l.repo.CreateProgress(ctx, p); err != nil {
				return nil, fmt.Errorf("ensure progress: create: %w", err)
			}
		}
		rows = append(rows, p)
	}

	if _, err := l.unlockNext(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// unlockNext advances the earliest non-completed episode out of locked, if it
// is locked. Called after completions and during lazy creation.
func (l *Ledger) unlockNext(ctx context.Context, rows []*StudentEpisodeProgress) (*StudentEpisodeProgress, error) {
	for _, p := range rows {
		if p.IsCompleted() {
			continue
		}
		if p.Status != StatusLocked {
			return nil, nil
		}
		if err := p.Advance(StatusUnlocked); err != nil {
			return nil, err
		}
		if err := l.repo.UpdateProgress(ctx, p); err != nil {
			return nil, fmt.Errorf("unlock episode: update progress: %w", err)
		}
		return p, nil
	}
	return nil, nil
}

func findProgress(rows []*StudentEpisodeProgress, episodeID shared.EpisodeID) *StudentEpisodeProgress {
	for _, p := range rows {
		if p.EpisodeID == episodeID {
			return p
		}
	}
	return nil
}

// swapProgress replaces the row's stale copy so unlockNext scans the locked
// state, not the pre-insert snapshot.
func swapProgress(rows []*StudentEpisodeProgress, fresh *StudentEpisodeProgress) {
	for i, p := range rows {
		if p.EpisodeID == fresh.EpisodeID {
			rows[i] = fresh
			return
		}
	}
}
