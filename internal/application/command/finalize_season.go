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
// FINALIZE SEASON COMMAND
// Freezes season scores when a season ends. From that point every completion
// and score write for a frozen student+season pair fails with
// ErrSeasonFinalized. Finalization runs per student so a partially failed
// batch can be retried; already-frozen students are skipped, not errors.
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeSeasonCommand contains the data to finalize a season.
type FinalizeSeasonCommand struct {
	// SeasonID is the season to freeze.
	SeasonID string

	// StudentIDs limits finalization to specific students. Empty means every
	// student holding a score row in the season.
	StudentIDs []string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c FinalizeSeasonCommand) Validate() error {
	if c.SeasonID == "" {
		return errors.New("finalize_season: season_id is required")
	}
	return nil
}

// FinalizeSeasonResult contains the outcome of a finalization run.
type FinalizeSeasonResult struct {
	SeasonID string

	// FrozenCount is how many students were newly frozen.
	FrozenCount int

	// SkippedCount is how many were already frozen.
	SkippedCount int

	// Errors maps student IDs to their finalization failure.
	Errors map[string]error

	// Events contains domain events generated.
	Events []shared.Event

	FinalizedAt time.Time
}

// FinalizeSeasonHandler handles the FinalizeSeasonCommand.
type FinalizeSeasonHandler struct {
	scoringRepo    scoring.Repository
	engine         *scoring.Engine
	tx             shared.TransactionManager
	eventPublisher shared.EventPublisher
}

// NewFinalizeSeasonHandler creates a new FinalizeSeasonHandler.
func NewFinalizeSeasonHandler(
	scoringRepo scoring.Repository,
	engine *scoring.Engine,
	tx shared.TransactionManager,
	eventPublisher shared.EventPublisher,
) *FinalizeSeasonHandler {
	return &FinalizeSeasonHandler{
		scoringRepo:    scoringRepo,
		engine:         engine,
		tx:             tx,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the finalize season command.
func (h *FinalizeSeasonHandler) Handle(ctx context.Context, cmd FinalizeSeasonCommand) (*FinalizeSeasonResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("finalize_season: validation failed: %w", err)
	}

	seasonID := shared.SeasonID(cmd.SeasonID)

	studentIDs := cmd.StudentIDs
	if len(studentIDs) == 0 {
		scores, err := h.scoringRepo.ListScores(ctx, seasonID)
		if err != nil {
			return nil, fmt.Errorf("finalize_season: failed to list scores: %w", err)
		}
		for _, score := range scores {
			studentIDs = append(studentIDs, score.StudentID.String())
		}
	}

	result := &FinalizeSeasonResult{
		SeasonID:    cmd.SeasonID,
		Errors:      make(map[string]error),
		Events:      make([]shared.Event, 0, len(studentIDs)),
		FinalizedAt: time.Now().UTC(),
	}

	for _, studentID := range studentIDs {
		// One transaction per student: the frozen flag and the final totals
		// land together, and the locking read keeps a racing grant from
		// being overwritten by the freeze.
		var score *scoring.SeasonScore
		err := h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			var txErr error
			score, txErr = h.engine.Finalize(ctx, shared.StudentID(studentID), seasonID)
			return txErr
		})
		if err != nil {
			if errors.Is(err, shared.ErrAlreadyFrozen) {
				result.SkippedCount++
				continue
			}
			result.Errors[studentID] = err
			continue
		}

		result.FrozenCount++
		event := shared.NewSeasonFinalizedEvent(studentID, cmd.SeasonID, score.Total.Int())
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		result.Events = append(result.Events, event)
		_ = h.eventPublisher.Publish(event)
	}

	return result, nil
}
