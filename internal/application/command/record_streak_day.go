package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STREAK DAY COMMAND
// The daily-consistency pillar recurs in every episode and is fed by an
// external daily process rather than mentor review. When a student's streak
// qualifies, this command completes the current episode's streak task and
// grants its points. Duplicate reports for the same episode converge to a
// no-op via the ledger.
// ══════════════════════════════════════════════════════════════════════════════

// RecordStreakDayCommand contains the data to credit a qualifying streak day.
type RecordStreakDayCommand struct {
	// StudentID is the student whose streak qualified.
	StudentID string

	// SeasonID scopes the credit. Empty means the active season.
	SeasonID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordStreakDayCommand) Validate() error {
	if c.StudentID == "" {
		return errors.New("record_streak_day: student_id is required")
	}
	return nil
}

// RecordStreakDayResult contains the outcome of a streak credit.
type RecordStreakDayResult struct {
	StudentID string

	// AlreadyCredited indicates the current episode's streak slot was filled
	// before this call.
	AlreadyCredited bool

	// Exhausted indicates every streak slot in the season is already filled.
	Exhausted bool

	// EpisodeID is the episode the credit landed in.
	EpisodeID string

	// PointsGranted is the score delta applied.
	PointsGranted int

	// EpisodeCompleted indicates the credit finished the episode.
	EpisodeCompleted bool

	// Events contains domain events generated.
	Events []shared.Event

	RecordedAt time.Time
}

// RecordStreakDayHandler handles the RecordStreakDayCommand.
type RecordStreakDayHandler struct {
	catalogRepo    catalog.Repository
	resolver       *progression.Resolver
	ledger         *progression.Ledger
	engine         *scoring.Engine
	tx             shared.TransactionManager
	eventPublisher shared.EventPublisher
}

// NewRecordStreakDayHandler creates a new RecordStreakDayHandler.
func NewRecordStreakDayHandler(
	catalogRepo catalog.Repository,
	resolver *progression.Resolver,
	ledger *progression.Ledger,
	engine *scoring.Engine,
	tx shared.TransactionManager,
	eventPublisher shared.EventPublisher,
) *RecordStreakDayHandler {
	return &RecordStreakDayHandler{
		catalogRepo:    catalogRepo,
		resolver:       resolver,
		ledger:         ledger,
		engine:         engine,
		tx:             tx,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the record streak day command.
func (h *RecordStreakDayHandler) Handle(ctx context.Context, cmd RecordStreakDayCommand) (*RecordStreakDayResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_streak_day: validation failed: %w", err)
	}

	studentID := shared.StudentID(cmd.StudentID)

	cat, err := h.loadCatalog(ctx, cmd.SeasonID)
	if err != nil {
		return nil, err
	}

	result := &RecordStreakDayResult{
		StudentID:  cmd.StudentID,
		Events:     make([]shared.Event, 0),
		RecordedAt: time.Now().UTC(),
	}

	resolved, err := h.resolver.ResolveTask(ctx, cat, studentID, shared.PillarSCD)
	if err != nil {
		if shared.IsBenignNoOp(err) {
			result.Exhausted = true
			return result, nil
		}
		return nil, fmt.Errorf("record_streak_day: failed to resolve task: %w", err)
	}

	var (
		completion *progression.CompletionResult
		applied    *scoring.ApplyResult
	)
	err = h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		completion, txErr = h.ledger.RecordCompletion(ctx, cat, studentID, resolved, "")
		if txErr != nil {
			return fmt.Errorf("failed to record completion: %w", txErr)
		}
		if completion.AlreadyRecorded {
			return nil
		}
		applied, txErr = h.engine.ApplyScore(ctx, studentID, cat.Season.ID, shared.PillarSCD, resolved.Task.DefaultPoints, "")
		if txErr != nil {
			return fmt.Errorf("failed to apply score: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_streak_day: %w", err)
	}

	result.EpisodeID = resolved.Episode.ID.String()
	result.EpisodeCompleted = completion.EpisodeCompleted

	if completion.AlreadyRecorded {
		result.AlreadyCredited = true
		return result, nil
	}

	result.Events = append(result.Events, completion.Events...)
	result.PointsGranted = resolved.Task.DefaultPoints.Int()
	result.Events = append(result.Events, applied.Events...)

	for _, event := range result.Events {
		_ = h.eventPublisher.Publish(event)
	}
	return result, nil
}

func (h *RecordStreakDayHandler) loadCatalog(ctx context.Context, seasonID string) (*catalog.SeasonCatalog, error) {
	if seasonID == "" {
		season, err := h.catalogRepo.GetActiveSeason(ctx)
		if err != nil {
			return nil, fmt.Errorf("record_streak_day: failed to get active season: %w", err)
		}
		seasonID = season.ID.String()
	}
	cat, err := h.catalogRepo.GetCatalog(ctx, shared.SeasonID(seasonID))
	if err != nil {
		return nil, fmt.Errorf("record_streak_day: failed to load catalog: %w", err)
	}
	return cat, nil
}
