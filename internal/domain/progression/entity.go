// Package progression contains the completion ledger and task resolver: the
// authoritative record of which task slots a student has fulfilled and the
// rules that decide which slot a new approval applies to.
package progression

import (
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EPISODE STATUS
// ══════════════════════════════════════════════════════════════════════════════

// EpisodeStatus is the lifecycle state of a student's episode.
type EpisodeStatus string

const (
	// StatusLocked - episode not yet reachable for the student.
	StatusLocked EpisodeStatus = "locked"

	// StatusUnlocked - episode is the earliest non-completed one.
	StatusUnlocked EpisodeStatus = "unlocked"

	// StatusInProgress - at least one task completed in the episode.
	StatusInProgress EpisodeStatus = "in_progress"

	// StatusCompleted - every task in the episode completed.
	StatusCompleted EpisodeStatus = "completed"
)

// statusOrder defines the monotonic progression of episode statuses.
var statusOrder = map[EpisodeStatus]int{
	StatusLocked:     0,
	StatusUnlocked:   1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// IsValid checks if the status is a known state.
func (s EpisodeStatus) IsValid() bool {
	_, ok := statusOrder[s]
	return ok
}

// String returns the string representation.
func (s EpisodeStatus) String() string {
	return string(s)
}

// CanAdvanceTo reports whether moving to the target status is a forward move.
// Episode statuses never regress, even if an approval is later disputed.
func (s EpisodeStatus) CanAdvanceTo(target EpisodeStatus) bool {
	return statusOrder[target] > statusOrder[s]
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT EPISODE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// StudentEpisodeProgress tracks one student's state within one episode.
// Created lazily the first time the student's season participation is
// evaluated; never deleted while the parent season exists.
type StudentEpisodeProgress struct {
	StudentID shared.StudentID
	SeasonID  shared.SeasonID
	EpisodeID shared.EpisodeID

	// Ordinal - the episode's position, denormalized for ordering.
	Ordinal shared.EpisodeOrdinal

	// Status - lifecycle state, monotonic.
	Status EpisodeStatus

	// CompletionPercent - round(100 * completed / total).
	CompletionPercent shared.Percent

	// CompletedTasks / TotalTasks behind the percentage.
	CompletedTasks int
	TotalTasks     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Advance moves the progress to a later status. Backward moves are rejected
// with ErrStatusRegression; same-status moves are no-ops.
func (p *StudentEpisodeProgress) Advance(target EpisodeStatus) error {
	if !target.IsValid() {
		return shared.NewDomainError("progression", "Advance", shared.ErrInvalidState, "unknown episode status")
	}
	if target == p.Status {
		return nil
	}
	if !p.Status.CanAdvanceTo(target) {
		return shared.ErrStatusRegression
	}
	p.Status = target
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Recalculate updates the completion percentage and counters from a fresh
// completed-task count, advancing the status if warranted.
func (p *StudentEpisodeProgress) Recalculate(completed int) error {
	if completed < 0 {
		return shared.NewDomainError("progression", "Recalculate", shared.ErrNegativeValue, "completed count cannot be negative")
	}
	if completed > p.TotalTasks {
		completed = p.TotalTasks
	}
	p.CompletedTasks = completed
	p.CompletionPercent = shared.PercentOf(completed, p.TotalTasks)
	p.UpdatedAt = time.Now().UTC()

	switch {
	case p.CompletionPercent.IsComplete():
		if p.Status != StatusCompleted {
			return p.Advance(StatusCompleted)
		}
	case completed > 0:
		if p.Status.CanAdvanceTo(StatusInProgress) {
			return p.Advance(StatusInProgress)
		}
	}
	return nil
}

// IsCompleted reports whether the episode is fully done for the student.
func (p *StudentEpisodeProgress) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// NewEpisodeProgress creates a fresh progress row for an episode. The first
// episode of a season starts unlocked, the rest locked.
func NewEpisodeProgress(studentID shared.StudentID, ep *catalog.Episode, seasonID shared.SeasonID) *StudentEpisodeProgress {
	status := StatusLocked
	if ep.Ordinal == 1 {
		status = StatusUnlocked
	}
	now := time.Now().UTC()
	return &StudentEpisodeProgress{
		StudentID:         studentID,
		SeasonID:          seasonID,
		EpisodeID:         ep.ID,
		Ordinal:           ep.Ordinal,
		Status:            status,
		CompletionPercent: 0,
		CompletedTasks:    0,
		TotalTasks:        ep.TaskCount(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// TaskCompletion is one fulfilled task slot. Unique per (student, episode,
// task definition): a second approval for the same slot is a no-op, not a
// duplicate record.
type TaskCompletion struct {
	ID               string
	StudentID        shared.StudentID
	SeasonID         shared.SeasonID
	EpisodeID        shared.EpisodeID
	TaskDefinitionID string

	// Pillar and SlotIndex are denormalized from the task definition so the
	// prior-approved count can be derived from ledger rows alone.
	Pillar    shared.Pillar
	SlotIndex int

	// SourceSubmissionID - the submission whose approval produced this row.
	SourceSubmissionID shared.SubmissionID

	CompletedAt time.Time
}

// Validate checks completion invariants.
func (c *TaskCompletion) Validate() error {
	if c.StudentID.IsEmpty() {
		return shared.NewDomainError("progression", "Validate", shared.ErrInvalidID, "student ID is required")
	}
	if c.EpisodeID.IsEmpty() {
		return shared.NewDomainError("progression", "Validate", shared.ErrInvalidID, "episode ID is required")
	}
	if c.TaskDefinitionID == "" {
		return shared.NewDomainError("progression", "Validate", shared.ErrInvalidID, "task definition ID is required")
	}
	if !c.Pillar.IsValid() {
		return shared.ErrInvalidPillar
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVED TASK
// ══════════════════════════════════════════════════════════════════════════════

// ResolvedTask is the resolver's answer: the episode and task definition a new
// approval applies to.
type ResolvedTask struct {
	Episode *catalog.Episode
	Task    catalog.TaskDefinition

	// PriorApproved - how many slots of this pillar the student had already
	// completed when the resolution was made.
	PriorApproved int
}

// CompletionResult is the ledger's answer to a record request.
type CompletionResult struct {
	// AlreadyRecorded - true when the (student, episode, task) key already
	// existed; the call performed no mutation and the caller must skip scoring.
	AlreadyRecorded bool

	// Completion - the recorded (or pre-existing) ledger row.
	Completion *TaskCompletion

	// Progress - the episode progress after the update.
	Progress *StudentEpisodeProgress

	// EpisodeCompleted - true when this insertion pushed the episode to 100%.
	EpisodeCompleted bool

	// UnlockedEpisode - the next episode unlocked by this completion, if any.
	UnlockedEpisode *StudentEpisodeProgress

	// Events - domain events generated by the mutation.
	Events []shared.Event
}
