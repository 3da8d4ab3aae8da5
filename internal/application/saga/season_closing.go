// Package saga contains complex business processes that orchestrate
// multiple domain operations in a coordinated manner.
// Sagas ensure consistency across operations and handle partial failures.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pillarworks/progression-engine/internal/application/command"
	"github.com/pillarworks/progression-engine/internal/application/query"
	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEASON CLOSING SAGA
// Closing a season is a multi-step process: every participant's score must be
// frozen before the final standings are computed, and the final snapshot must
// reflect only frozen scores. Steps are ordered so a failed run can be retried
// without corrupting standings; freezing is idempotent through the
// finalization barrier.
// Flow: Validate Input → Load Season → Check Window → Freeze Scores →
// Final Snapshot → Publish Events
// ══════════════════════════════════════════════════════════════════════════════

// SeasonClosingInput contains the data needed to close a season.
type SeasonClosingInput struct {
	// SeasonID is the season to close.
	SeasonID string

	// Force closes the season even if its time window has not ended.
	Force bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the input.
func (i SeasonClosingInput) Validate() error {
	if i.SeasonID == "" {
		return errors.New("season_closing: season_id is required")
	}
	return nil
}

// SeasonClosingStep represents a step in the closing process.
type SeasonClosingStep string

const (
	StepValidateInput SeasonClosingStep = "validate_input"
	StepLoadSeason    SeasonClosingStep = "load_season"
	StepCheckWindow   SeasonClosingStep = "check_window"
	StepFreezeScores  SeasonClosingStep = "freeze_scores"
	StepFinalSnapshot SeasonClosingStep = "final_snapshot"
	StepComplete      SeasonClosingStep = "complete"
)

// SeasonClosingResult contains the outcome of a closing run.
type SeasonClosingResult struct {
	SeasonID string

	// FrozenCount is how many students were newly frozen.
	FrozenCount int

	// SkippedCount is how many were already frozen by an earlier run.
	SkippedCount int

	// FreezeErrors maps student IDs to their finalization failure.
	FreezeErrors map[string]error

	// Podium holds the final top entries, in rank order.
	Podium []*leaderboard.Entry

	// TotalRanked is the number of students on the final board.
	TotalRanked int

	// FailedStep is set when the saga aborted partway.
	FailedStep SeasonClosingStep

	ClosedAt time.Time
}

// seasonClosingState carries data between steps.
type seasonClosingState struct {
	currentStep SeasonClosingStep
	season      *catalog.Season
	board       *leaderboard.Leaderboard
}

// ErrSeasonStillOpen is returned when closing a season whose window has not
// ended and Force is not set.
var ErrSeasonStillOpen = errors.New("season_closing: season window has not ended")

// SeasonClosingSaga orchestrates freezing a season and publishing its final
// standings.
type SeasonClosingSaga struct {
	catalogRepo  catalog.Repository
	finalizer    *command.FinalizeSeasonHandler
	assembler    *query.LeaderboardAssembler
	snapshotRepo leaderboard.SnapshotRepository
	boardCache   leaderboard.Cache
	logger       *slog.Logger

	config SeasonClosingConfig
}

// SeasonClosingConfig contains configuration for the saga.
type SeasonClosingConfig struct {
	// PodiumSize is how many top entries the result reports.
	PodiumSize int

	// MaxFreezeErrors aborts the saga when more students than this fail to
	// freeze. Zero means any failure aborts.
	MaxFreezeErrors int
}

// DefaultSeasonClosingConfig returns sensible defaults.
func DefaultSeasonClosingConfig() SeasonClosingConfig {
	return SeasonClosingConfig{
		PodiumSize:      3,
		MaxFreezeErrors: 0,
	}
}

// NewSeasonClosingSaga creates a new SeasonClosingSaga.
func NewSeasonClosingSaga(
	catalogRepo catalog.Repository,
	finalizer *command.FinalizeSeasonHandler,
	assembler *query.LeaderboardAssembler,
	snapshotRepo leaderboard.SnapshotRepository,
	boardCache leaderboard.Cache,
	logger *slog.Logger,
	config SeasonClosingConfig,
) *SeasonClosingSaga {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PodiumSize <= 0 {
		config.PodiumSize = 3
	}

	return &SeasonClosingSaga{
		catalogRepo:  catalogRepo,
		finalizer:    finalizer,
		assembler:    assembler,
		snapshotRepo: snapshotRepo,
		boardCache:   boardCache,
		logger:       logger.With("saga", "season_closing"),
		config:       config,
	}
}

// Execute runs the season closing saga.
func (s *SeasonClosingSaga) Execute(ctx context.Context, input SeasonClosingInput) (*SeasonClosingResult, error) {
	state := &seasonClosingState{currentStep: StepValidateInput}
	result := &SeasonClosingResult{
		SeasonID:     input.SeasonID,
		FreezeErrors: make(map[string]error),
		ClosedAt:     time.Now().UTC(),
	}

	if err := input.Validate(); err != nil {
		result.FailedStep = state.currentStep
		return result, err
	}

	state.currentStep = StepLoadSeason
	if err := s.stepLoadSeason(ctx, input, state); err != nil {
		result.FailedStep = state.currentStep
		return result, err
	}

	state.currentStep = StepCheckWindow
	if err := s.stepCheckWindow(input, state); err != nil {
		result.FailedStep = state.currentStep
		return result, err
	}

	state.currentStep = StepFreezeScores
	if err := s.stepFreezeScores(ctx, input, state, result); err != nil {
		result.FailedStep = state.currentStep
		return result, err
	}

	state.currentStep = StepFinalSnapshot
	if err := s.stepFinalSnapshot(ctx, state, result); err != nil {
		result.FailedStep = state.currentStep
		return result, err
	}

	state.currentStep = StepComplete
	s.logger.Info("season closed",
		"season_id", input.SeasonID,
		"frozen", result.FrozenCount,
		"skipped", result.SkippedCount,
		"ranked", result.TotalRanked,
	)
	return result, nil
}

// stepLoadSeason loads the season being closed.
func (s *SeasonClosingSaga) stepLoadSeason(ctx context.Context, input SeasonClosingInput, state *seasonClosingState) error {
	season, err := s.catalogRepo.GetSeason(ctx, shared.SeasonID(input.SeasonID))
	if err != nil {
		return fmt.Errorf("season_closing: failed to load season: %w", err)
	}
	state.season = season
	return nil
}

// stepCheckWindow verifies the season's time window has ended.
func (s *SeasonClosingSaga) stepCheckWindow(input SeasonClosingInput, state *seasonClosingState) error {
	if input.Force {
		return nil
	}
	if time.Now().UTC().Before(state.season.Window.To) {
		return fmt.Errorf("%w: ends at %s", ErrSeasonStillOpen, state.season.Window.To.Format(time.RFC3339))
	}
	return nil
}

// stepFreezeScores freezes every participant's score.
func (s *SeasonClosingSaga) stepFreezeScores(ctx context.Context, input SeasonClosingInput, state *seasonClosingState, result *SeasonClosingResult) error {
	freezeResult, err := s.finalizer.Handle(ctx, command.FinalizeSeasonCommand{
		SeasonID:      input.SeasonID,
		CorrelationID: input.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("season_closing: failed to freeze scores: %w", err)
	}

	result.FrozenCount = freezeResult.FrozenCount
	result.SkippedCount = freezeResult.SkippedCount
	result.FreezeErrors = freezeResult.Errors

	if len(freezeResult.Errors) > s.config.MaxFreezeErrors {
		for studentID, ferr := range freezeResult.Errors {
			s.logger.Error("failed to freeze score",
				"season_id", input.SeasonID,
				"student_id", studentID,
				"error", ferr,
			)
		}
		return fmt.Errorf("season_closing: %d students failed to freeze", len(freezeResult.Errors))
	}
	return nil
}

// stepFinalSnapshot computes the final standings and persists them.
func (s *SeasonClosingSaga) stepFinalSnapshot(ctx context.Context, state *seasonClosingState, result *SeasonClosingResult) error {
	board, _, err := s.assembler.Assemble(ctx, state.season.ID)
	if err != nil {
		return fmt.Errorf("season_closing: failed to assemble final board: %w", err)
	}
	state.board = board

	snapshot := leaderboard.NewSnapshot(uuid.New().String(), board)
	if err := s.snapshotRepo.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("season_closing: failed to save final snapshot: %w", err)
	}

	if s.boardCache != nil {
		if err := s.boardCache.Set(ctx, board, time.Hour); err != nil {
			s.logger.Warn("failed to cache final board", "error", err)
		}
	}

	result.TotalRanked = board.Size()
	podium := s.config.PodiumSize
	if podium > len(board.Entries) {
		podium = len(board.Entries)
	}
	result.Podium = make([]*leaderboard.Entry, podium)
	for i := 0; i < podium; i++ {
		result.Podium[i] = board.Entries[i].Clone()
	}
	return nil
}
