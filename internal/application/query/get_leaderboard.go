// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns the season ranking: dense ranks over capped totals, podium medals,
// percentile buckets, rank deltas against the latest snapshot. Served from
// the Redis cache when fresh; recomputed from score rows otherwise.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains leaderboard request parameters.
type GetLeaderboardQuery struct {
	// SeasonID is the season to rank. Required.
	SeasonID string

	// Limit is the number of entries to return (default 20, max 100).
	Limit int

	// Offset is the pagination offset.
	Offset int
}

// Validate checks and normalizes the query parameters.
func (q *GetLeaderboardQuery) Validate() error {
	if q.SeasonID == "" {
		return errors.New("season_id is required")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

// LeaderboardEntryDTO is one leaderboard row for transport.
type LeaderboardEntryDTO struct {
	// Rank is the dense rank, shared on equal totals.
	Rank int `json:"rank"`

	// StudentID is the ranked student.
	StudentID string `json:"student_id"`

	// TotalScore is the capped season total.
	TotalScore int `json:"total_score"`

	// Breakdown is the per-pillar subtotal map.
	Breakdown map[string]int `json:"breakdown"`

	// Medal is the podium tag: "gold", "silver", "bronze" or empty.
	Medal string `json:"medal,omitempty"`

	// Bucket is the percentile bucket label below the podium.
	Bucket string `json:"bucket,omitempty"`

	// RankChange is the position delta since the last snapshot.
	RankChange int `json:"rank_change"`
}

// GetLeaderboardResult contains the leaderboard response.
type GetLeaderboardResult struct {
	SeasonID string `json:"season_id"`

	Entries []LeaderboardEntryDTO `json:"entries"`

	// TotalRanked is the number of ranked students in the season.
	TotalRanked int `json:"total_ranked"`

	// UnrankedCount is the number of students excluded by the zero-score
	// policy.
	UnrankedCount int `json:"unranked_count"`

	// HasMore indicates more entries exist after this page.
	HasMore bool `json:"has_more"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSEMBLER
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardAssembler computes a full season leaderboard from score rows.
// Shared by the leaderboard query and the worker's rebuild job so both always
// rank with the same policy.
type LeaderboardAssembler struct {
	scoringRepo     scoring.Repository
	progressionRepo progression.Repository
	snapshotRepo    leaderboard.SnapshotRepository
	builder         *leaderboard.Builder
}

// NewLeaderboardAssembler creates a new LeaderboardAssembler.
func NewLeaderboardAssembler(
	scoringRepo scoring.Repository,
	progressionRepo progression.Repository,
	snapshotRepo leaderboard.SnapshotRepository,
	builder *leaderboard.Builder,
) *LeaderboardAssembler {
	return &LeaderboardAssembler{
		scoringRepo:     scoringRepo,
		progressionRepo: progressionRepo,
		snapshotRepo:    snapshotRepo,
		builder:         builder,
	}
}

// Assemble builds the current leaderboard for a season and annotates rank
// deltas against the latest snapshot. Returns the board plus RankChanged
// events for students whose position moved.
func (a *LeaderboardAssembler) Assemble(ctx context.Context, seasonID shared.SeasonID) (*leaderboard.Leaderboard, []shared.Event, error) {
	scores, err := a.scoringRepo.ListScores(ctx, seasonID)
	if err != nil {
		return nil, nil, shared.WrapError("query", "GetLeaderboard", shared.ErrNotFound, "failed to list scores", err)
	}

	inputs := make([]leaderboard.ScoreInput, 0, len(scores))
	for _, s := range scores {
		input := leaderboard.ScoreInput{
			StudentID:      s.StudentID,
			Total:          s.Total,
			Breakdown:      s.Subtotals,
			LastScoredAt:   s.LastScoredAt,
			HasCompletions: s.RawTotal() > 0,
		}
		if !input.HasCompletions {
			// Zero-point grants still count as completions for the exclusion
			// policy; only a zero-total row needs the ledger check.
			completions, err := a.progressionRepo.ListCompletions(ctx, s.StudentID, seasonID)
			if err != nil {
				return nil, nil, shared.WrapError("query", "GetLeaderboard", shared.ErrNotFound, "failed to list completions", err)
			}
			input.HasCompletions = len(completions) > 0
		}
		inputs = append(inputs, input)
	}

	board := a.builder.Build(seasonID, inputs)

	var events []shared.Event
	previous, err := a.snapshotRepo.GetLatestSnapshot(ctx, seasonID)
	if err == nil {
		events = leaderboard.ApplyRankChanges(board, previous)
	} else if !shared.IsNotFound(err) {
		return nil, nil, shared.WrapError("query", "GetLeaderboard", shared.ErrNotFound, "failed to load snapshot", err)
	}

	return board, events, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardHandler handles leaderboard queries.
type GetLeaderboardHandler struct {
	assembler *LeaderboardAssembler
	cache     leaderboard.Cache
	cacheTTL  time.Duration
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler.
// A nil cache disables caching.
func NewGetLeaderboardHandler(assembler *LeaderboardAssembler, cache leaderboard.Cache, cacheTTL time.Duration) *GetLeaderboardHandler {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &GetLeaderboardHandler{
		assembler: assembler,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}
}

// Handle executes the get leaderboard query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	seasonID := shared.SeasonID(query.SeasonID)

	board, err := h.tryGetFromCache(ctx, seasonID)
	if err != nil {
		board, _, err = h.assembler.Assemble(ctx, seasonID)
		if err != nil {
			return nil, err
		}
		if h.cache != nil {
			_ = h.cache.Set(ctx, board, h.cacheTTL)
		}
	}

	return h.buildResult(board, query), nil
}

// tryGetFromCache returns the cached board or an error on miss.
func (h *GetLeaderboardHandler) tryGetFromCache(ctx context.Context, seasonID shared.SeasonID) (*leaderboard.Leaderboard, error) {
	if h.cache == nil {
		return nil, errors.New("cache not available")
	}
	return h.cache.Get(ctx, seasonID)
}

// buildResult paginates the board and converts entries to DTOs.
func (h *GetLeaderboardHandler) buildResult(board *leaderboard.Leaderboard, query GetLeaderboardQuery) *GetLeaderboardResult {
	entries := board.Entries
	if query.Offset >= len(entries) {
		entries = nil
	} else {
		end := query.Offset + query.Limit
		if end > len(entries) {
			end = len(entries)
		}
		entries = entries[query.Offset:end]
	}

	dtos := make([]LeaderboardEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}

	return &GetLeaderboardResult{
		SeasonID:      board.SeasonID.String(),
		Entries:       dtos,
		TotalRanked:   board.Size(),
		UnrankedCount: len(board.Excluded),
		HasMore:       query.Offset+len(entries) < board.Size(),
		GeneratedAt:   board.GeneratedAt,
	}
}

// toEntryDTO converts a domain entry into its transport shape.
func toEntryDTO(e *leaderboard.Entry) LeaderboardEntryDTO {
	breakdown := make(map[string]int, len(e.Breakdown))
	for pillar, points := range e.Breakdown {
		breakdown[pillar.String()] = points.Int()
	}
	return LeaderboardEntryDTO{
		Rank:       e.Rank.Int(),
		StudentID:  e.StudentID.String(),
		TotalScore: e.TotalScore.Int(),
		Breakdown:  breakdown,
		Medal:      string(e.Medal),
		Bucket:     e.BucketLabel,
		RankChange: int(e.RankChange),
	}
}
