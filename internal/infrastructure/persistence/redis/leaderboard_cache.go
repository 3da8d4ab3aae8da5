package redis

import (
	"context"
	"errors"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
//
// Implements leaderboard.Cache. The whole computed board is stored as one
// JSON value per season: the board is always built and served in full (ranks
// only mean anything relative to each other), so per-entry sorted-set keys
// would buy nothing here.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache caches computed leaderboards in Redis.
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a new LeaderboardCache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// cachedEntry is the JSON shape of one cached leaderboard row.
type cachedEntry struct {
	Rank         int            `json:"rank"`
	StudentID    string         `json:"student_id"`
	TotalScore   int            `json:"total_score"`
	Breakdown    map[string]int `json:"breakdown"`
	Medal        string         `json:"medal,omitempty"`
	BucketLabel  string         `json:"bucket,omitempty"`
	RankChange   int            `json:"rank_change,omitempty"`
	LastScoredAt time.Time      `json:"last_scored_at"`
}

// cachedBoard is the JSON shape of a cached leaderboard.
type cachedBoard struct {
	SeasonID    string        `json:"season_id"`
	Entries     []cachedEntry `json:"entries"`
	Excluded    []string      `json:"excluded,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Get returns the cached leaderboard for a season.
func (c *LeaderboardCache) Get(ctx context.Context, seasonID shared.SeasonID) (*leaderboard.Leaderboard, error) {
	var stored cachedBoard
	err := c.cache.Get(ctx, LeaderboardKey(seasonID.String()), &stored)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrLeaderboardNotFound
		}
		return nil, err
	}

	board := &leaderboard.Leaderboard{
		SeasonID:    shared.SeasonID(stored.SeasonID),
		GeneratedAt: stored.GeneratedAt,
	}
	for _, e := range stored.Entries {
		breakdown := make(map[shared.Pillar]shared.Points, len(e.Breakdown))
		for pillar, points := range e.Breakdown {
			breakdown[shared.Pillar(pillar)] = shared.Points(points)
		}
		board.Entries = append(board.Entries, &leaderboard.Entry{
			Rank:         leaderboard.Rank(e.Rank),
			StudentID:    shared.StudentID(e.StudentID),
			TotalScore:   shared.Points(e.TotalScore),
			Breakdown:    breakdown,
			Medal:        leaderboard.Medal(e.Medal),
			BucketLabel:  e.BucketLabel,
			RankChange:   leaderboard.RankChange(e.RankChange),
			LastScoredAt: e.LastScoredAt,
		})
	}
	for _, id := range stored.Excluded {
		board.Excluded = append(board.Excluded, shared.StudentID(id))
	}
	return board, nil
}

// Set stores a computed leaderboard with the given TTL.
func (c *LeaderboardCache) Set(ctx context.Context, board *leaderboard.Leaderboard, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}

	stored := cachedBoard{
		SeasonID:    board.SeasonID.String(),
		GeneratedAt: board.GeneratedAt,
	}
	for _, e := range board.Entries {
		breakdown := make(map[string]int, len(e.Breakdown))
		for pillar, points := range e.Breakdown {
			breakdown[pillar.String()] = points.Int()
		}
		stored.Entries = append(stored.Entries, cachedEntry{
			Rank:         e.Rank.Int(),
			StudentID:    e.StudentID.String(),
			TotalScore:   e.TotalScore.Int(),
			Breakdown:    breakdown,
			Medal:        string(e.Medal),
			BucketLabel:  e.BucketLabel,
			RankChange:   int(e.RankChange),
			LastScoredAt: e.LastScoredAt,
		})
	}
	for _, id := range board.Excluded {
		stored.Excluded = append(stored.Excluded, id.String())
	}

	return c.cache.Set(ctx, LeaderboardKey(board.SeasonID.String()), stored, ttl)
}

// Invalidate drops the cached leaderboard for a season.
func (c *LeaderboardCache) Invalidate(ctx context.Context, seasonID shared.SeasonID) error {
	return c.cache.Delete(ctx, LeaderboardKey(seasonID.String()))
}
