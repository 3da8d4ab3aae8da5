package query

import (
	"context"
	"errors"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT RANK QUERY
// Returns one student's position on the season leaderboard with the context
// around it: percentile, points to the next rank, and the movement since the
// last snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentRankQuery contains student rank request parameters.
type GetStudentRankQuery struct {
	// SeasonID is the season to look in. Required.
	SeasonID string

	// StudentID is the student whose rank to return. Required.
	StudentID string
}

// Validate checks the query parameters.
func (q *GetStudentRankQuery) Validate() error {
	if q.SeasonID == "" {
		return errors.New("season_id is required")
	}
	if q.StudentID == "" {
		return errors.New("student_id is required")
	}
	return nil
}

// GetStudentRankResult contains the student rank response.
type GetStudentRankResult struct {
	SeasonID  string `json:"season_id"`
	StudentID string `json:"student_id"`

	// Ranked is false when the student has no completions yet and falls
	// under the zero-score exclusion. The remaining fields are zero then.
	Ranked bool `json:"ranked"`

	// Rank is the student's dense rank.
	Rank int `json:"rank"`

	// TotalRanked is the number of ranked students.
	TotalRanked int `json:"total_ranked"`

	// Percentile is the share of ranked students at or below this entry,
	// in percent. Rank 1 of 100 gives 100.
	Percentile int `json:"percentile"`

	// TotalScore is the capped season total.
	TotalScore int `json:"total_score"`

	// Breakdown is the per-pillar subtotal map.
	Breakdown map[string]int `json:"breakdown,omitempty"`

	// Medal is the podium tag, empty below the podium.
	Medal string `json:"medal,omitempty"`

	// Bucket is the percentile bucket label below the podium.
	Bucket string `json:"bucket,omitempty"`

	// RankChange is the position delta since the last snapshot.
	RankChange int `json:"rank_change"`

	// PointsToNextRank is how many points separate this student from the
	// next better rank. Zero for the leader.
	PointsToNextRank int `json:"points_to_next_rank"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GetStudentRankHandler handles student rank queries.
type GetStudentRankHandler struct {
	assembler *LeaderboardAssembler
	cache     leaderboard.Cache
	cacheTTL  time.Duration
}

// NewGetStudentRankHandler creates a new GetStudentRankHandler.
// A nil cache disables caching.
func NewGetStudentRankHandler(assembler *LeaderboardAssembler, cache leaderboard.Cache, cacheTTL time.Duration) *GetStudentRankHandler {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &GetStudentRankHandler{
		assembler: assembler,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}
}

// Handle executes the get student rank query.
func (h *GetStudentRankHandler) Handle(ctx context.Context, query GetStudentRankQuery) (*GetStudentRankResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetStudentRank", shared.ErrValidation, err.Error(), err)
	}

	seasonID := shared.SeasonID(query.SeasonID)

	board, err := h.loadBoard(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	result := &GetStudentRankResult{
		SeasonID:    query.SeasonID,
		StudentID:   query.StudentID,
		TotalRanked: board.Size(),
		GeneratedAt: board.GeneratedAt,
	}

	entry := board.Find(shared.StudentID(query.StudentID))
	if entry == nil {
		return result, nil
	}

	result.Ranked = true
	result.Rank = entry.Rank.Int()
	result.TotalScore = entry.TotalScore.Int()
	result.Medal = string(entry.Medal)
	result.Bucket = entry.BucketLabel
	result.RankChange = int(entry.RankChange)
	result.Percentile = shared.PercentOf(board.Size()-entry.Rank.Int()+1, board.Size()).Int()

	result.Breakdown = make(map[string]int, len(entry.Breakdown))
	for pillar, points := range entry.Breakdown {
		result.Breakdown[pillar.String()] = points.Int()
	}

	// Entries are in rank order; the nearest better score is the closest
	// entry above with a strictly higher total.
	for i := len(board.Entries) - 1; i >= 0; i-- {
		candidate := board.Entries[i]
		if candidate.TotalScore > entry.TotalScore {
			result.PointsToNextRank = candidate.TotalScore.Int() - entry.TotalScore.Int()
			break
		}
	}

	return result, nil
}

// loadBoard returns the cached board or assembles a fresh one.
func (h *GetStudentRankHandler) loadBoard(ctx context.Context, seasonID shared.SeasonID) (*leaderboard.Leaderboard, error) {
	if h.cache != nil {
		if board, err := h.cache.Get(ctx, seasonID); err == nil {
			return board, nil
		}
	}

	board, _, err := h.assembler.Assemble(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		_ = h.cache.Set(ctx, board, h.cacheTTL)
	}
	return board, nil
}
