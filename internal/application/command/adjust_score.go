package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST SCORE COMMAND
// Administrative correction of a pillar subtotal. Deltas may be negative;
// subtotals floor at zero and the capped total is recomputed. Every adjustment
// lands in the score history with a correction reason.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustScoreCommand contains the data for a score correction.
type AdjustScoreCommand struct {
	// StudentID is the student whose score is corrected.
	StudentID string

	// SeasonID is the season scope.
	SeasonID string

	// Pillar is the subtotal being corrected.
	Pillar string

	// Delta is the signed point change.
	Delta int

	// Reason is a free-form audit note for the operator log.
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AdjustScoreCommand) Validate() error {
	if c.StudentID == "" {
		return errors.New("adjust_score: student_id is required")
	}
	if c.SeasonID == "" {
		return errors.New("adjust_score: season_id is required")
	}
	if _, err := shared.NewPillar(c.Pillar); err != nil {
		return fmt.Errorf("adjust_score: %w", err)
	}
	if c.Delta == 0 {
		return errors.New("adjust_score: delta must be non-zero")
	}
	return nil
}

// AdjustScoreResult contains the outcome of a correction.
type AdjustScoreResult struct {
	StudentID  string
	SeasonID   string
	Pillar     string
	Delta      int
	NewTotal   int
	CapReached bool
	AdjustedAt time.Time
}

// AdjustScoreHandler handles the AdjustScoreCommand.
type AdjustScoreHandler struct {
	engine         *scoring.Engine
	tx             shared.TransactionManager
	eventPublisher shared.EventPublisher
}

// NewAdjustScoreHandler creates a new AdjustScoreHandler.
func NewAdjustScoreHandler(engine *scoring.Engine, tx shared.TransactionManager, eventPublisher shared.EventPublisher) *AdjustScoreHandler {
	return &AdjustScoreHandler{engine: engine, tx: tx, eventPublisher: eventPublisher}
}

// Handle executes the adjust score command.
// Fails with ErrSeasonFinalized when the student's season is frozen.
func (h *AdjustScoreHandler) Handle(ctx context.Context, cmd AdjustScoreCommand) (*AdjustScoreResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("adjust_score: validation failed: %w", err)
	}

	pillar, _ := shared.NewPillar(cmd.Pillar)

	// The correction runs in its own transaction so the engine's locking
	// read holds the score row against concurrent approvals until commit.
	var applied *scoring.ApplyResult
	err := h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		applied, txErr = h.engine.AdjustScore(
			ctx,
			shared.StudentID(cmd.StudentID),
			shared.SeasonID(cmd.SeasonID),
			pillar,
			shared.Points(cmd.Delta),
		)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("adjust_score: %w", err)
	}

	event := shared.NewScoreAdjustedEvent(
		cmd.StudentID,
		cmd.SeasonID,
		pillar.String(),
		cmd.Delta,
		applied.Score.Total.Int(),
		cmd.Reason,
	)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return &AdjustScoreResult{
		StudentID:  cmd.StudentID,
		SeasonID:   cmd.SeasonID,
		Pillar:     pillar.String(),
		Delta:      cmd.Delta,
		NewTotal:   applied.Score.Total.Int(),
		CapReached: applied.CapReached,
		AdjustedAt: time.Now().UTC(),
	}, nil
}
