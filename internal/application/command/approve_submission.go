// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/review"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPROVE SUBMISSION COMMAND
// The central write path: a mentor approves a submission, the resolver maps it
// to a task slot, the ledger records the completion exactly once, and the
// scoring engine grants points. Every step is idempotent, so a retried
// approval converges on the same state.
// ══════════════════════════════════════════════════════════════════════════════

// ApproveSubmissionCommand contains the data to approve a submission.
type ApproveSubmissionCommand struct {
	// SubmissionID is the submission being approved.
	SubmissionID string

	// ReviewerID is the mentor making the decision.
	ReviewerID string

	// Comment is optional feedback attached to the approval.
	Comment string

	// MentorPoints overrides the task definition's default point value when
	// set. Nil means the default applies.
	MentorPoints *int

	// SeasonID scopes the approval. Empty means the active season.
	SeasonID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ApproveSubmissionCommand) Validate() error {
	if c.SubmissionID == "" {
		return errors.New("approve_submission: submission_id is required")
	}
	if c.ReviewerID == "" {
		return errors.New("approve_submission: reviewer_id is required")
	}
	if c.MentorPoints != nil {
		if _, err := shared.NewPoints(*c.MentorPoints); err != nil {
			return fmt.Errorf("approve_submission: %w", err)
		}
	}
	return nil
}

// ApproveSubmissionResult contains the outcome of an approval.
type ApproveSubmissionResult struct {
	// SubmissionID is the approved submission.
	SubmissionID string

	// StudentID is the submission's author.
	StudentID string

	// AlreadyApproved indicates the submission was approved before this call;
	// nothing changed.
	AlreadyApproved bool

	// NoSlotAvailable indicates the approval was recorded but the pillar has
	// no open task slot left, so no completion or score resulted.
	NoSlotAvailable bool

	// EpisodeID is the episode the completion landed in (when one did).
	EpisodeID string

	// EpisodeOrdinal is that episode's position in the season.
	EpisodeOrdinal int

	// SlotIndex is the pillar slot the completion filled.
	SlotIndex int

	// PointsGranted is the score delta applied, after the season cap.
	PointsGranted int

	// NewTotal is the student's capped season total after the grant.
	NewTotal int

	// CapReached indicates the total sits at the season cap.
	CapReached bool

	// EpisodeCompleted indicates this approval finished the episode.
	EpisodeCompleted bool

	// Events contains domain events generated.
	Events []shared.Event

	// ApprovedAt is when the approval took effect.
	ApprovedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApproveSubmissionHandler handles the ApproveSubmissionCommand.
type ApproveSubmissionHandler struct {
	reviewRepo     review.Repository
	catalogRepo    catalog.Repository
	resolver       *progression.Resolver
	ledger         *progression.Ledger
	engine         *scoring.Engine
	tx             shared.TransactionManager
	eventPublisher shared.EventPublisher
}

// NewApproveSubmissionHandler creates a new ApproveSubmissionHandler.
func NewApproveSubmissionHandler(
	reviewRepo review.Repository,
	catalogRepo catalog.Repository,
	resolver *progression.Resolver,
	ledger *progression.Ledger,
	engine *scoring.Engine,
	tx shared.TransactionManager,
	eventPublisher shared.EventPublisher,
) *ApproveSubmissionHandler {
	return &ApproveSubmissionHandler{
		reviewRepo:     reviewRepo,
		catalogRepo:    catalogRepo,
		resolver:       resolver,
		ledger:         ledger,
		engine:         engine,
		tx:             tx,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the approve submission command.
//
// Approving an already-approved submission returns AlreadyApproved without
// touching the ledger or the score. An exhausted pillar is reported via
// NoSlotAvailable, not as an error. A finalized season fails with
// ErrSeasonFinalized before anything is written.
func (h *ApproveSubmissionHandler) Handle(ctx context.Context, cmd ApproveSubmissionCommand) (*ApproveSubmissionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("approve_submission: validation failed: %w", err)
	}

	submission, err := h.reviewRepo.GetByID(ctx, shared.SubmissionID(cmd.SubmissionID))
	if err != nil {
		return nil, fmt.Errorf("approve_submission: failed to get submission: %w", err)
	}

	result := &ApproveSubmissionResult{
		SubmissionID: cmd.SubmissionID,
		StudentID:    submission.StudentID.String(),
		ApprovedAt:   time.Now().UTC(),
		Events:       make([]shared.Event, 0),
	}

	var mentorPoints *shared.Points
	if cmd.MentorPoints != nil {
		p := shared.Points(*cmd.MentorPoints)
		mentorPoints = &p
	}

	alreadyApproved, err := submission.Approve(cmd.ReviewerID, cmd.Comment, mentorPoints)
	if err != nil {
		return nil, fmt.Errorf("approve_submission: %w", err)
	}
	if alreadyApproved {
		result.AlreadyApproved = true
		return result, nil
	}

	cat, err := h.loadCatalog(ctx, cmd.SeasonID)
	if err != nil {
		return nil, err
	}

	resolved, err := h.resolver.ResolveTask(ctx, cat, submission.StudentID, submission.Pillar)
	if err != nil {
		if shared.IsBenignNoOp(err) {
			// The pillar is exhausted for this student. The approval stands
			// as mentor feedback but has no progression effect.
			if err := h.reviewRepo.Update(ctx, submission); err != nil {
				return nil, fmt.Errorf("approve_submission: failed to update submission: %w", err)
			}
			result.NoSlotAvailable = true
			result.Events = append(result.Events, h.approvedEvent(submission, cmd.CorrelationID))
			h.publish(result.Events)
			return result, nil
		}
		return nil, fmt.Errorf("approve_submission: failed to resolve task: %w", err)
	}

	points := resolved.Task.DefaultPoints
	if mentorPoints != nil {
		points = *mentorPoints
	}

	// Ledger insert, submission update, and score grant commit or roll back
	// together: a scoring failure must not leave an unscored completion.
	var (
		completion *progression.CompletionResult
		applied    *scoring.ApplyResult
	)
	err = h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		completion, txErr = h.ledger.RecordCompletion(ctx, cat, submission.StudentID, resolved, submission.ID)
		if txErr != nil {
			return fmt.Errorf("failed to record completion: %w", txErr)
		}
		if txErr = h.reviewRepo.Update(ctx, submission); txErr != nil {
			return fmt.Errorf("failed to update submission: %w", txErr)
		}
		if completion.AlreadyRecorded {
			// A concurrent approval won the ledger insert. The score was
			// granted by the winner; this call only records the decision.
			return nil
		}
		applied, txErr = h.engine.ApplyScore(ctx, submission.StudentID, cat.Season.ID, submission.Pillar, points, submission.ID)
		if txErr != nil {
			return fmt.Errorf("failed to apply score: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("approve_submission: %w", err)
	}

	result.EpisodeID = resolved.Episode.ID.String()
	result.EpisodeOrdinal = resolved.Episode.Ordinal.Int()
	result.SlotIndex = resolved.Task.SlotIndex
	result.EpisodeCompleted = completion.EpisodeCompleted
	result.Events = append(result.Events, h.approvedEvent(submission, cmd.CorrelationID))
	result.Events = append(result.Events, completion.Events...)

	if applied != nil {
		result.PointsGranted = points.Int()
		result.NewTotal = applied.Score.Total.Int()
		result.CapReached = applied.CapReached
		result.Events = append(result.Events, applied.Events...)
	}

	h.publish(result.Events)
	return result, nil
}

// loadCatalog resolves the season scope: explicit ID or the active season.
func (h *ApproveSubmissionHandler) loadCatalog(ctx context.Context, seasonID string) (*catalog.SeasonCatalog, error) {
	if seasonID == "" {
		season, err := h.catalogRepo.GetActiveSeason(ctx)
		if err != nil {
			return nil, fmt.Errorf("approve_submission: failed to get active season: %w", err)
		}
		seasonID = season.ID.String()
	}

	cat, err := h.catalogRepo.GetCatalog(ctx, shared.SeasonID(seasonID))
	if err != nil {
		return nil, fmt.Errorf("approve_submission: failed to load catalog: %w", err)
	}
	return cat, nil
}

func (h *ApproveSubmissionHandler) approvedEvent(submission *review.Submission, correlationID string) shared.Event {
	event := shared.NewSubmissionApprovedEvent(
		submission.ID.String(),
		submission.StudentID.String(),
		submission.Pillar.String(),
		submission.ReviewerID,
	)
	if correlationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(correlationID)
	}
	return event
}

func (h *ApproveSubmissionHandler) publish(events []shared.Event) {
	for _, event := range events {
		_ = h.eventPublisher.Publish(event)
	}
}
