package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pillarworks/progression-engine/internal/application/query"
	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON EPISODE COMPLETED HANDLER
// Episode completions cluster around deadlines, which is exactly when the
// dashboard gets hammered. Instead of leaving the leaderboard to a cold
// recompute on the next read, the handler rebuilds it eagerly and warms the
// cache.
// ═══════════════════════════════════════════════════════════════════════════

// OnEpisodeCompletedHandler rewarms the leaderboard cache after an episode
// completion.
type OnEpisodeCompletedHandler struct {
	assembler *query.LeaderboardAssembler
	cache     leaderboard.Cache
	cacheTTL  time.Duration
	logger    *slog.Logger
}

// NewOnEpisodeCompletedHandler creates a new OnEpisodeCompletedHandler.
func NewOnEpisodeCompletedHandler(
	assembler *query.LeaderboardAssembler,
	cache leaderboard.Cache,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *OnEpisodeCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &OnEpisodeCompletedHandler{
		assembler: assembler,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger.With("handler", "on_episode_completed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnEpisodeCompletedHandler) Handle(event shared.Event) error {
	episodeEvent, ok := event.(shared.EpisodeCompletedEvent)
	if !ok {
		h.logger.Warn("received non-EpisodeCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Info("episode completed",
		"student_id", episodeEvent.StudentID,
		"season_id", episodeEvent.SeasonID,
		"episode_ordinal", episodeEvent.EpisodeOrdinal,
	)

	if h.assembler == nil || h.cache == nil {
		return nil
	}

	ctx := context.Background()
	board, _, err := h.assembler.Assemble(ctx, shared.SeasonID(episodeEvent.SeasonID))
	if err != nil {
		h.logger.Error("failed to rebuild leaderboard",
			"season_id", episodeEvent.SeasonID,
			"error", err,
		)
		return nil
	}
	if err := h.cache.Set(ctx, board, h.cacheTTL); err != nil {
		h.logger.Error("failed to warm leaderboard cache",
			"season_id", episodeEvent.SeasonID,
			"error", err,
		)
	}
	return nil
}

// EventType returns the event type this handler subscribes to.
func (h *OnEpisodeCompletedHandler) EventType() shared.EventType {
	return shared.EventEpisodeCompleted
}
