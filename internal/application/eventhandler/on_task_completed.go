// Package eventhandler contains domain event handlers wired to the event bus.
package eventhandler

import (
	"context"
	"log/slog"

	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TASK COMPLETED HANDLER
// Every recorded completion changes a season score, which makes the cached
// leaderboard stale. The handler drops the season's cache entry; the next
// leaderboard read recomputes from current scores.
// ═══════════════════════════════════════════════════════════════════════════

// OnTaskCompletedHandler invalidates the leaderboard cache after completions.
type OnTaskCompletedHandler struct {
	cache  leaderboard.Cache
	logger *slog.Logger
}

// NewOnTaskCompletedHandler creates a new OnTaskCompletedHandler.
func NewOnTaskCompletedHandler(cache leaderboard.Cache, logger *slog.Logger) *OnTaskCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnTaskCompletedHandler{
		cache:  cache,
		logger: logger.With("handler", "on_task_completed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnTaskCompletedHandler) Handle(event shared.Event) error {
	taskEvent, ok := event.(shared.TaskCompletedEvent)
	if !ok {
		h.logger.Warn("received non-TaskCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.cache == nil {
		return nil
	}

	ctx := context.Background()
	if err := h.cache.Invalidate(ctx, shared.SeasonID(taskEvent.SeasonID)); err != nil {
		// A stale cache self-heals at TTL expiry, so a failed eviction is
		// logged, not propagated.
		h.logger.Error("failed to invalidate leaderboard cache",
			"season_id", taskEvent.SeasonID,
			"student_id", taskEvent.StudentID,
			"error", err,
		)
		return nil
	}

	h.logger.Debug("leaderboard cache invalidated",
		"season_id", taskEvent.SeasonID,
		"student_id", taskEvent.StudentID,
		"pillar", taskEvent.Pillar,
	)
	return nil
}

// EventType returns the event type this handler subscribes to.
func (h *OnTaskCompletedHandler) EventType() shared.EventType {
	return shared.EventTaskCompleted
}
