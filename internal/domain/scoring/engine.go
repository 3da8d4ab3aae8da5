package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORING ENGINE
//
// Converts completions into point totals. The engine only aggregates: it does
// not deduplicate approvals (the completion ledger does that upstream) and it
// does not decide point values (mentor-supplied or catalog defaults). Every
// change appends a history row, which also feeds the leaderboard tie-break.
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the sole writer of season scores.
type Engine struct {
	repo Repository
}

// NewEngine creates a new scoring Engine.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// ApplyResult describes the outcome of a score application.
type ApplyResult struct {
	Score      *SeasonScore
	CapReached bool
	Events     []shared.Event
}

// ApplyScore grants points to a pillar subtotal and recomputes the clamped
// total. Creates the score row lazily on first touch.
//
// Callers must not invoke this for a completion the ledger reported as
// AlreadyRecorded - the engine itself cannot tell a duplicate from a fresh
// grant.
func (e *Engine) ApplyScore(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID, pillar shared.Pillar, points shared.Points, submissionID shared.SubmissionID) (*ApplyResult, error) {
	if !points.IsValid() {
		return nil, shared.ErrPointsOutOfCap
	}

	score, err := e.loadOrCreate(ctx, studentID, seasonID)
	if err != nil {
		return nil, err
	}

	oldTotal := score.Total
	if err := score.Apply(pillar, points); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateScore(ctx, score); err != nil {
		return nil, fmt.Errorf("apply score: update: %w", err)
	}

	entry := &HistoryEntry{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		SeasonID:     seasonID,
		Pillar:       pillar,
		OldTotal:     oldTotal,
		NewTotal:     score.Total,
		Delta:        score.Total - oldTotal,
		Reason:       ReasonTaskApproved,
		SubmissionID: submissionID,
		CreatedAt:    score.LastScoredAt,
	}
	if err := e.repo.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("apply score: append history: %w", err)
	}

	result := &ApplyResult{
		Score:      score,
		CapReached: score.AtCap(),
	}
	result.Events = append(result.Events, shared.NewScoreAppliedEvent(
		studentID.String(),
		seasonID.String(),
		pillar.String(),
		points.Int(),
		score.Total.Int(),
		result.CapReached,
		submissionID.String(),
	))
	return result, nil
}

// AdjustScore applies an administrative correction. Delta may be negative.
func (e *Engine) AdjustScore(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID, pillar shared.Pillar, delta shared.Points) (*ApplyResult, error) {
	score, err := e.loadOrCreate(ctx, studentID, seasonID)
	if err != nil {
		return nil, err
	}

	oldTotal := score.Total
	if err := score.Adjust(pillar, delta); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateScore(ctx, score); err != nil {
		return nil, fmt.Errorf("adjust score: update: %w", err)
	}

	entry := &HistoryEntry{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SeasonID:  seasonID,
		Pillar:    pillar,
		OldTotal:  oldTotal,
		NewTotal:  score.Total,
		Delta:     score.Total - oldTotal,
		Reason:    ReasonCorrection,
		CreatedAt: score.LastScoredAt,
	}
	if err := e.repo.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("adjust score: append history: %w", err)
	}

	return &ApplyResult{Score: score, CapReached: score.AtCap()}, nil
}

// Finalize freezes a student's season. Further ApplyScore/AdjustScore calls
// for the pair fail with ErrSeasonFinalized; repeat finalization returns
// ErrAlreadyFrozen.
func (e *Engine) Finalize(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	score, err := e.loadOrCreate(ctx, studentID, seasonID)
	if err != nil {
		return nil, err
	}
	if err := score.Finalize(); err != nil {
		return nil, err
	}
	if err := e.repo.MarkFinalized(ctx, studentID, seasonID); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateScore(ctx, score); err != nil {
		return nil, fmt.Errorf("finalize: update: %w", err)
	}
	return score, nil
}

// GetScore returns the score row, creating nothing: students with no score
// yet simply read as zero at the query layer.
func (e *Engine) GetScore(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	return e.repo.GetScore(ctx, studentID, seasonID)
}

// loadOrCreate reads the score row with a write lock, creating it lazily on
// first touch. The lock is what keeps concurrent grants for the same student
// from reading one snapshot and overwriting each other: the second writer
// blocks on the row until the first commits, then sees its subtotals.
// A fresh insert holds the same lock via the INSERT itself.
func (e *Engine) loadOrCreate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	score, err := e.repo.GetScoreForUpdate(ctx, studentID, seasonID)
	if err == nil {
		return score, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("load score: %w", err)
	}

	score = NewSeasonScore(studentID, seasonID)
	if err := e.repo.CreateScore(ctx, score); err != nil {
		// A concurrent creator winning the insert is fine; converge on
		// whatever row exists now.
		if shared.IsConflict(err) {
			return e.repo.GetScoreForUpdate(ctx, studentID, seasonID)
		}
		return nil, fmt.Errorf("create score: %w", err)
	}
	return score, nil
}
