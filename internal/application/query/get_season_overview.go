package query

import (
	"context"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SEASON OVERVIEW QUERY
// Season-level aggregate for the dashboard: the episode/task structure plus
// participation statistics computed from score rows.
// ══════════════════════════════════════════════════════════════════════════════

// GetSeasonOverviewQuery contains the request parameters.
type GetSeasonOverviewQuery struct {
	// SeasonID is the season to describe. Empty means the active season.
	SeasonID string
}

// EpisodeOverviewDTO is one episode of the season structure.
type EpisodeOverviewDTO struct {
	EpisodeID string `json:"episode_id"`
	Ordinal   int    `json:"ordinal"`
	Title     string `json:"title"`
	TaskCount int    `json:"task_count"`
}

// GetSeasonOverviewResult contains the season overview.
type GetSeasonOverviewResult struct {
	SeasonID string `json:"season_id"`
	Number   int    `json:"number"`
	Title    string `json:"title"`
	IsActive bool   `json:"is_active"`

	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`

	Episodes []EpisodeOverviewDTO `json:"episodes"`

	// TotalTasks is the task count across all episodes.
	TotalTasks int `json:"total_tasks"`

	// PillarSlotCounts maps each pillar to its season slot count.
	PillarSlotCounts map[string]int `json:"pillar_slot_counts"`

	// ParticipantCount is the number of students holding a score row.
	ParticipantCount int `json:"participant_count"`

	// AverageScore / TopScore over capped totals.
	AverageScore int `json:"average_score"`
	TopScore     int `json:"top_score"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GetSeasonOverviewHandler handles season overview queries.
type GetSeasonOverviewHandler struct {
	catalogRepo catalog.Repository
	scoringRepo scoring.Repository
}

// NewGetSeasonOverviewHandler creates a new GetSeasonOverviewHandler.
func NewGetSeasonOverviewHandler(catalogRepo catalog.Repository, scoringRepo scoring.Repository) *GetSeasonOverviewHandler {
	return &GetSeasonOverviewHandler{catalogRepo: catalogRepo, scoringRepo: scoringRepo}
}

// Handle executes the get season overview query.
func (h *GetSeasonOverviewHandler) Handle(ctx context.Context, query GetSeasonOverviewQuery) (*GetSeasonOverviewResult, error) {
	seasonID := query.SeasonID
	if seasonID == "" {
		season, err := h.catalogRepo.GetActiveSeason(ctx)
		if err != nil {
			return nil, shared.WrapError("query", "GetSeasonOverview", shared.ErrNotFound, "failed to get active season", err)
		}
		seasonID = season.ID.String()
	}

	cat, err := h.catalogRepo.GetCatalog(ctx, shared.SeasonID(seasonID))
	if err != nil {
		return nil, shared.WrapError("query", "GetSeasonOverview", shared.ErrNotFound, "failed to load catalog", err)
	}

	result := &GetSeasonOverviewResult{
		SeasonID:         cat.Season.ID.String(),
		Number:           cat.Season.Number,
		Title:            cat.Season.Title,
		IsActive:         cat.Season.IsActive,
		StartsAt:         cat.Season.Window.From,
		EndsAt:           cat.Season.Window.To,
		TotalTasks:       cat.TotalTaskCount(),
		PillarSlotCounts: make(map[string]int, len(shared.AllPillars())),
		GeneratedAt:      time.Now().UTC(),
	}

	for _, episode := range cat.Episodes() {
		result.Episodes = append(result.Episodes, EpisodeOverviewDTO{
			EpisodeID: episode.ID.String(),
			Ordinal:   episode.Ordinal.Int(),
			Title:     episode.Title,
			TaskCount: len(episode.Tasks),
		})
	}
	for _, pillar := range shared.AllPillars() {
		result.PillarSlotCounts[pillar.String()] = cat.PillarTaskCount(pillar)
	}

	scores, err := h.scoringRepo.ListScores(ctx, cat.Season.ID)
	if err != nil {
		return nil, shared.WrapError("query", "GetSeasonOverview", shared.ErrNotFound, "failed to list scores", err)
	}
	result.ParticipantCount = len(scores)
	sum := 0
	for _, s := range scores {
		sum += s.Total.Int()
		if s.Total.Int() > result.TopScore {
			result.TopScore = s.Total.Int()
		}
	}
	if len(scores) > 0 {
		result.AverageScore = sum / len(scores)
	}

	return result, nil
}
