package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pillarworks/progression-engine/internal/domain/review"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT TASK COMMAND
// Registers a student's submission for mentor review. The submission enters
// the queue as pending; nothing touches progression or scoring until a mentor
// approves it. Content and evidence stay with the collaborating systems, the
// engine records only identity, pillar and review state.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitTaskCommand contains the data to register a submission.
type SubmitTaskCommand struct {
	// StudentID is the submitting student.
	StudentID string

	// Pillar is the pillar the work belongs to. The concrete task slot is
	// resolved later, at approval time.
	Pillar string

	// SubmissionID allows the caller to supply the identity for retry safety.
	// Empty means the engine generates one.
	SubmissionID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SubmitTaskCommand) Validate() error {
	if c.StudentID == "" {
		return errors.New("submit_task: student_id is required")
	}
	if _, err := shared.NewPillar(c.Pillar); err != nil {
		return fmt.Errorf("submit_task: %w", err)
	}
	return nil
}

// SubmitTaskResult contains the outcome of a submission registration.
type SubmitTaskResult struct {
	SubmissionID string
	StudentID    string
	Pillar       string
	Status       string
	SubmittedAt  time.Time
}

// SubmitTaskHandler handles the SubmitTaskCommand.
type SubmitTaskHandler struct {
	reviewRepo review.Repository
}

// NewSubmitTaskHandler creates a new SubmitTaskHandler.
func NewSubmitTaskHandler(reviewRepo review.Repository) *SubmitTaskHandler {
	return &SubmitTaskHandler{reviewRepo: reviewRepo}
}

// Handle executes the submit task command.
func (h *SubmitTaskHandler) Handle(ctx context.Context, cmd SubmitTaskCommand) (*SubmitTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_task: validation failed: %w", err)
	}

	pillar, _ := shared.NewPillar(cmd.Pillar)

	submissionID := cmd.SubmissionID
	if submissionID == "" {
		submissionID = uuid.New().String()
	}

	submission, err := review.NewSubmission(shared.SubmissionID(submissionID), shared.StudentID(cmd.StudentID), pillar)
	if err != nil {
		return nil, fmt.Errorf("submit_task: %w", err)
	}

	if err := h.reviewRepo.Create(ctx, submission); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			// A caller-supplied ID makes retries converge on the first insert.
			existing, getErr := h.reviewRepo.GetByID(ctx, submission.ID)
			if getErr != nil {
				return nil, fmt.Errorf("submit_task: failed to load existing submission: %w", getErr)
			}
			return &SubmitTaskResult{
				SubmissionID: existing.ID.String(),
				StudentID:    existing.StudentID.String(),
				Pillar:       existing.Pillar.String(),
				Status:       existing.Status.String(),
				SubmittedAt:  existing.CreatedAt,
			}, nil
		}
		return nil, fmt.Errorf("submit_task: failed to create submission: %w", err)
	}

	return &SubmitTaskResult{
		SubmissionID: submission.ID.String(),
		StudentID:    submission.StudentID.String(),
		Pillar:       submission.Pillar.String(),
		Status:       submission.Status.String(),
		SubmittedAt:  submission.CreatedAt,
	}, nil
}
