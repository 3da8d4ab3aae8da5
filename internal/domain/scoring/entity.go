// Package scoring contains the season score aggregate: capped aggregation of
// completion points into a rankable total with a per-pillar breakdown.
// Point-value policy is external; the engine only aggregates safely.
package scoring

import (
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEASON SCORE
// ══════════════════════════════════════════════════════════════════════════════

// SeasonScore is one student's score in one season. Subtotals are stored as
// granted; only the displayed/ranked total is clamped at the season cap, so an
// over-contributing pillar never pushes other pillars' recorded subtotals down.
type SeasonScore struct {
	StudentID shared.StudentID
	SeasonID  shared.SeasonID

	// Subtotals - per-pillar points as granted, unclamped.
	Subtotals map[shared.Pillar]shared.Points

	// Total - min(cap, sum of subtotals). Monotonically non-decreasing over
	// the season except for explicit administrative corrections.
	Total shared.Points

	// Finalized - once true, the score is frozen and rejects mutation.
	Finalized   bool
	FinalizedAt *time.Time

	// LastScoredAt - when the total last changed. Used by the leaderboard
	// tie-break: on equal totals the earlier scorer ranks first.
	LastScoredAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSeasonScore creates an empty score row for a student+season pair.
func NewSeasonScore(studentID shared.StudentID, seasonID shared.SeasonID) *SeasonScore {
	now := time.Now().UTC()
	subtotals := make(map[shared.Pillar]shared.Points, len(shared.AllPillars()))
	for _, p := range shared.AllPillars() {
		subtotals[p] = 0
	}
	return &SeasonScore{
		StudentID:    studentID,
		SeasonID:     seasonID,
		Subtotals:    subtotals,
		Total:        0,
		LastScoredAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RawTotal returns the unclamped sum of subtotals.
func (s *SeasonScore) RawTotal() shared.Points {
	var sum shared.Points
	for _, v := range s.Subtotals {
		sum += v
	}
	return sum
}

// Subtotal returns the stored points for one pillar.
func (s *SeasonScore) Subtotal(pillar shared.Pillar) shared.Points {
	return s.Subtotals[pillar]
}

// AtCap reports whether the displayed total has hit the season ceiling.
func (s *SeasonScore) AtCap() bool {
	return s.Total >= shared.SeasonScoreCap
}

// Apply increments the pillar subtotal and recomputes the clamped total.
// Returns ErrScoreFrozen when the score is finalized. The engine does not
// deduplicate: callers must skip Apply when the ledger reported
// AlreadyRecorded, or the same approval would double-score.
func (s *SeasonScore) Apply(pillar shared.Pillar, points shared.Points) error {
	if s.Finalized {
		return shared.ErrScoreFrozen
	}
	if !pillar.IsValid() {
		return shared.ErrUnknownSubtotal
	}
	if points < 0 {
		return shared.ErrNegativePoints
	}
	s.Subtotals[pillar] += points
	s.recomputeTotal()
	return nil
}

// Adjust applies an administrative correction: the one sanctioned
// non-monotonic mutation. Delta may be negative; subtotals floor at zero.
func (s *SeasonScore) Adjust(pillar shared.Pillar, delta shared.Points) error {
	if s.Finalized {
		return shared.ErrScoreFrozen
	}
	if !pillar.IsValid() {
		return shared.ErrUnknownSubtotal
	}
	next := s.Subtotals[pillar] + delta
	if next < 0 {
		next = 0
	}
	s.Subtotals[pillar] = next
	s.recomputeTotal()
	return nil
}

// Finalize freezes the score. Returns ErrAlreadyFrozen on a repeat call.
func (s *SeasonScore) Finalize() error {
	if s.Finalized {
		return shared.ErrAlreadyFrozen
	}
	now := time.Now().UTC()
	s.Finalized = true
	s.FinalizedAt = &now
	s.UpdatedAt = now
	return nil
}

func (s *SeasonScore) recomputeTotal() {
	now := time.Now().UTC()
	s.Total = s.RawTotal().Clamp()
	s.LastScoredAt = now
	s.UpdatedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryReason labels why a score changed.
type HistoryReason string

const (
	// ReasonTaskApproved - points granted for an approved task slot.
	ReasonTaskApproved HistoryReason = "task_approved"

	// ReasonCorrection - administrative adjustment.
	ReasonCorrection HistoryReason = "correction"
)

// HistoryEntry is one append-only record of a score change.
type HistoryEntry struct {
	ID        string
	StudentID shared.StudentID
	SeasonID  shared.SeasonID
	Pillar    shared.Pillar
	OldTotal  shared.Points
	NewTotal  shared.Points
	Delta     shared.Points
	Reason    HistoryReason

	// SubmissionID - set for task_approved entries.
	SubmissionID shared.SubmissionID

	CreatedAt time.Time
}
