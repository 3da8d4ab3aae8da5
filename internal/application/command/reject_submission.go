package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/review"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REJECT SUBMISSION COMMAND
// Rejection is terminal and never touches the ledger or the score. The
// reviewer comment is mandatory so the student always learns why.
// ══════════════════════════════════════════════════════════════════════════════

// RejectSubmissionCommand contains the data to reject a submission.
type RejectSubmissionCommand struct {
	// SubmissionID is the submission being rejected.
	SubmissionID string

	// ReviewerID is the mentor making the decision.
	ReviewerID string

	// Comment explains the rejection. Required.
	Comment string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RejectSubmissionCommand) Validate() error {
	if c.SubmissionID == "" {
		return errors.New("reject_submission: submission_id is required")
	}
	if c.ReviewerID == "" {
		return errors.New("reject_submission: reviewer_id is required")
	}
	return nil
}

// RejectSubmissionResult contains the outcome of a rejection.
type RejectSubmissionResult struct {
	SubmissionID string
	StudentID    string
	Events       []shared.Event
	RejectedAt   time.Time
}

// RejectSubmissionHandler handles the RejectSubmissionCommand.
type RejectSubmissionHandler struct {
	reviewRepo     review.Repository
	eventPublisher shared.EventPublisher
}

// NewRejectSubmissionHandler creates a new RejectSubmissionHandler.
func NewRejectSubmissionHandler(reviewRepo review.Repository, eventPublisher shared.EventPublisher) *RejectSubmissionHandler {
	return &RejectSubmissionHandler{reviewRepo: reviewRepo, eventPublisher: eventPublisher}
}

// Handle executes the reject submission command.
// Fails with ErrCommentRequired when the comment is empty and with
// ErrTerminalStatus when the submission already has a final decision.
func (h *RejectSubmissionHandler) Handle(ctx context.Context, cmd RejectSubmissionCommand) (*RejectSubmissionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reject_submission: validation failed: %w", err)
	}

	submission, err := h.reviewRepo.GetByID(ctx, shared.SubmissionID(cmd.SubmissionID))
	if err != nil {
		return nil, fmt.Errorf("reject_submission: failed to get submission: %w", err)
	}

	if err := submission.Reject(cmd.ReviewerID, cmd.Comment); err != nil {
		return nil, fmt.Errorf("reject_submission: %w", err)
	}

	if err := h.reviewRepo.Update(ctx, submission); err != nil {
		return nil, fmt.Errorf("reject_submission: failed to update submission: %w", err)
	}

	event := shared.NewSubmissionRejectedEvent(
		submission.ID.String(),
		submission.StudentID.String(),
		submission.Pillar.String(),
		cmd.Comment,
	)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return &RejectSubmissionResult{
		SubmissionID: cmd.SubmissionID,
		StudentID:    submission.StudentID.String(),
		Events:       []shared.Event{event},
		RejectedAt:   time.Now().UTC(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST RESUBMISSION COMMAND
// Sends the submission back to the student with feedback. Unlike rejection
// this is not terminal: the student may edit and resubmit.
// ══════════════════════════════════════════════════════════════════════════════

// RequestResubmissionCommand contains the data to send a submission back.
type RequestResubmissionCommand struct {
	SubmissionID  string
	ReviewerID    string
	Feedback      string
	CorrelationID string
}

// Validate validates the command.
func (c RequestResubmissionCommand) Validate() error {
	if c.SubmissionID == "" {
		return errors.New("request_resubmission: submission_id is required")
	}
	if c.ReviewerID == "" {
		return errors.New("request_resubmission: reviewer_id is required")
	}
	return nil
}

// RequestResubmissionResult contains the outcome.
type RequestResubmissionResult struct {
	SubmissionID string
	StudentID    string
	RequestedAt  time.Time
}

// RequestResubmissionHandler handles the RequestResubmissionCommand.
type RequestResubmissionHandler struct {
	reviewRepo     review.Repository
	eventPublisher shared.EventPublisher
}

// NewRequestResubmissionHandler creates a new RequestResubmissionHandler.
func NewRequestResubmissionHandler(reviewRepo review.Repository, eventPublisher shared.EventPublisher) *RequestResubmissionHandler {
	return &RequestResubmissionHandler{reviewRepo: reviewRepo, eventPublisher: eventPublisher}
}

// Handle executes the request resubmission command.
func (h *RequestResubmissionHandler) Handle(ctx context.Context, cmd RequestResubmissionCommand) (*RequestResubmissionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("request_resubmission: validation failed: %w", err)
	}

	submission, err := h.reviewRepo.GetByID(ctx, shared.SubmissionID(cmd.SubmissionID))
	if err != nil {
		return nil, fmt.Errorf("request_resubmission: failed to get submission: %w", err)
	}

	if err := submission.RequestResubmission(cmd.ReviewerID, cmd.Feedback); err != nil {
		return nil, fmt.Errorf("request_resubmission: %w", err)
	}

	if err := h.reviewRepo.Update(ctx, submission); err != nil {
		return nil, fmt.Errorf("request_resubmission: failed to update submission: %w", err)
	}

	event := shared.NewResubmissionRequiredEvent(
		submission.ID.String(),
		submission.StudentID.String(),
		submission.Pillar.String(),
		cmd.Feedback,
	)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return &RequestResubmissionResult{
		SubmissionID: cmd.SubmissionID,
		StudentID:    submission.StudentID.String(),
		RequestedAt:  time.Now().UTC(),
	}, nil
}
