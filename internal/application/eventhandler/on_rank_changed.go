package eventhandler

import (
	"log/slog"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RANK CHANGED HANDLER
// Rank change events come out of the worker's snapshot comparison. The engine
// does not deliver notifications itself; it records the movement so consuming
// systems can react to the log stream or subscribe to the bus directly.
// ═══════════════════════════════════════════════════════════════════════════

// OnRankChangedHandler records leaderboard position movements.
type OnRankChangedHandler struct {
	logger *slog.Logger

	// podiumSize is the rank at or above which movements are logged at
	// info level.
	podiumSize int
}

// NewOnRankChangedHandler creates a new OnRankChangedHandler.
func NewOnRankChangedHandler(logger *slog.Logger, podiumSize int) *OnRankChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if podiumSize <= 0 {
		podiumSize = 3
	}
	return &OnRankChangedHandler{
		logger:     logger.With("handler", "on_rank_changed"),
		podiumSize: podiumSize,
	}
}

// Handle implements shared.EventHandler.
func (h *OnRankChangedHandler) Handle(event shared.Event) error {
	rankEvent, ok := event.(shared.RankChangedEvent)
	if !ok {
		h.logger.Warn("received non-RankChangedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	direction := "up"
	if rankEvent.MovedDown() {
		direction = "down"
	}

	attrs := []any{
		"student_id", rankEvent.StudentID,
		"season_id", rankEvent.SeasonID,
		"old_rank", rankEvent.OldRank,
		"new_rank", rankEvent.NewRank,
		"direction", direction,
	}

	if rankEvent.NewRank <= h.podiumSize || rankEvent.OldRank <= h.podiumSize {
		h.logger.Info("podium rank changed", attrs...)
	} else {
		h.logger.Debug("rank changed", attrs...)
	}
	return nil
}

// EventType returns the event type this handler subscribes to.
func (h *OnRankChangedHandler) EventType() shared.EventType {
	return shared.EventRankChanged
}
