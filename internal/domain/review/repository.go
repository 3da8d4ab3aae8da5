package review

import (
	"context"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence. The review workflow is
// the sole writer of submission status.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for submissions.
type Repository interface {
	// Create inserts a new submission.
	// Returns a wrapped ErrAlreadyExists on a duplicate ID.
	Create(ctx context.Context, submission *Submission) error

	// GetByID returns a submission by ID.
	// Returns ErrSubmissionNotFound if absent.
	GetByID(ctx context.Context, id shared.SubmissionID) (*Submission, error)

	// Update persists a mutated submission.
	// Returns ErrSubmissionNotFound if absent.
	Update(ctx context.Context, submission *Submission) error

	// ListByStudent returns a student's submissions, newest first.
	ListByStudent(ctx context.Context, studentID shared.StudentID, opts shared.Pagination) ([]*Submission, error)

	// ListByStatus returns submissions in a given status, oldest first, so
	// mentors review in arrival order.
	ListByStatus(ctx context.Context, status Status, opts shared.Pagination) ([]*Submission, error)
}
