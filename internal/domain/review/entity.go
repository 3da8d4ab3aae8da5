// Package review contains the submission review state machine. Submission
// content and evidence live with external collaborators; the engine only owns
// the review status transitions and their scoring side effects.
package review

import (
	"strings"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the review state of a submission.
type Status string

const (
	// StatusDraft - student is still editing; not visible to mentors.
	StatusDraft Status = "draft"

	// StatusPending - submitted, waiting for a mentor.
	StatusPending Status = "pending"

	// StatusUnderReview - a mentor has picked it up.
	StatusUnderReview Status = "under_review"

	// StatusApproved - terminal; triggers resolution/ledger/scoring.
	StatusApproved Status = "approved"

	// StatusRejected - terminal; requires a comment, no scoring effects.
	StatusRejected Status = "rejected"

	// StatusResubmit - sent back with feedback; returns to pending after the
	// student re-edits (outside this engine).
	StatusResubmit Status = "resubmit"
)

// IsValid checks if the status is a known state.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusUnderReview, StatusApproved, StatusRejected, StatusResubmit:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further review transitions.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// IsReviewable reports whether a mentor decision may be applied.
func (s Status) IsReviewable() bool {
	return s == StatusPending || s == StatusUnderReview
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION
// ══════════════════════════════════════════════════════════════════════════════

// Submission is the engine's view of a student submission: identity, pillar,
// and review status. Everything else is external.
type Submission struct {
	ID        shared.SubmissionID
	StudentID shared.StudentID
	Pillar    shared.Pillar

	Status Status

	// ReviewerID - mentor who made the latest decision.
	ReviewerID string

	// ReviewerComment - decision feedback. Required for reject/resubmit.
	ReviewerComment string

	// MentorPoints - point value supplied at approval time. Nil means the
	// task definition's configured default applies.
	MentorPoints *shared.Points

	ReviewedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewSubmission creates a submission already in the pending state. Draft
// editing happens outside the engine; it only sees submissions once they are
// waiting for review.
func NewSubmission(id shared.SubmissionID, studentID shared.StudentID, pillar shared.Pillar) (*Submission, error) {
	now := time.Now().UTC()
	s := &Submission{
		ID:        id,
		StudentID: studentID,
		Pillar:    pillar,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks submission invariants.
func (s *Submission) Validate() error {
	if s.ID.IsEmpty() {
		return shared.NewDomainError("review", "Validate", shared.ErrInvalidID, "submission ID is required")
	}
	if s.StudentID.IsEmpty() {
		return shared.NewDomainError("review", "Validate", shared.ErrInvalidID, "student ID is required")
	}
	if !s.Pillar.IsValid() {
		return shared.ErrInvalidPillar
	}
	if !s.Status.IsValid() {
		return shared.NewDomainError("review", "Validate", shared.ErrInvalidState, "unknown submission status")
	}
	return nil
}

// Approve transitions the submission to approved. Approving an
// already-approved submission is an idempotent no-op: alreadyApproved=true and
// no state change, so scoring is never re-triggered.
func (s *Submission) Approve(reviewerID, comment string, mentorPoints *shared.Points) (alreadyApproved bool, err error) {
	if s.Status == StatusApproved {
		return true, nil
	}
	if !s.Status.IsReviewable() {
		if s.Status.IsTerminal() {
			return false, shared.ErrTerminalStatus
		}
		return false, shared.ErrNotReviewable
	}
	if mentorPoints != nil && !mentorPoints.IsValid() {
		return false, shared.ErrPointsOutOfCap
	}
	now := time.Now().UTC()
	s.Status = StatusApproved
	s.ReviewerID = reviewerID
	s.ReviewerComment = strings.TrimSpace(comment)
	s.MentorPoints = mentorPoints
	s.ReviewedAt = &now
	s.UpdatedAt = now
	return false, nil
}

// Reject transitions the submission to rejected. The comment is mandatory: a
// student must always learn why.
func (s *Submission) Reject(reviewerID, comment string) error {
	if !s.Status.IsReviewable() {
		if s.Status.IsTerminal() {
			return shared.ErrTerminalStatus
		}
		return shared.ErrNotReviewable
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return shared.ErrCommentRequired
	}
	now := time.Now().UTC()
	s.Status = StatusRejected
	s.ReviewerID = reviewerID
	s.ReviewerComment = comment
	s.ReviewedAt = &now
	s.UpdatedAt = now
	return nil
}

// RequestResubmission sends the submission back with mandatory feedback.
// No scoring or completion side effects.
func (s *Submission) RequestResubmission(reviewerID, feedback string) error {
	if !s.Status.IsReviewable() {
		if s.Status.IsTerminal() {
			return shared.ErrTerminalStatus
		}
		return shared.ErrNotReviewable
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return shared.ErrCommentRequired
	}
	now := time.Now().UTC()
	s.Status = StatusResubmit
	s.ReviewerID = reviewerID
	s.ReviewerComment = feedback
	s.ReviewedAt = &now
	s.UpdatedAt = now
	return nil
}

// StartReview marks the submission as picked up by a mentor.
func (s *Submission) StartReview(reviewerID string) error {
	if s.Status != StatusPending {
		return shared.ErrNotReviewable
	}
	s.Status = StatusUnderReview
	s.ReviewerID = reviewerID
	s.UpdatedAt = time.Now().UTC()
	return nil
}
