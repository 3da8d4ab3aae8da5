package leaderboard

import (
	"sort"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD BUILDER
//
// The builder is a pure function over current season scores: the same inputs
// always produce the same ordering. Sorting is by capped total descending,
// ties broken by earliest score timestamp, then by student ID so the result
// stays deterministic even for identical histories.
// ══════════════════════════════════════════════════════════════════════════════

// ScoreInput is the builder's view of one student's season score. The query
// layer maps scoring rows into this shape so the builder stays decoupled from
// the scoring aggregate.
type ScoreInput struct {
	StudentID    shared.StudentID
	Total        shared.Points
	Breakdown    map[shared.Pillar]shared.Points
	LastScoredAt time.Time

	// HasCompletions - whether the student has any ledger rows. Feeds the
	// zero-score exclusion policy.
	HasCompletions bool
}

// Config holds the builder's policy knobs.
type Config struct {
	// MedalPositions - how many leading positions get podium medals.
	MedalPositions int

	// Buckets - percentile groupings for positions below the podium.
	// Empty disables bucketing.
	Buckets []Bucket

	// ExcludeZeroScores - when true, students with zero total and no
	// completions are reported as "not yet ranked" instead of ranked last.
	ExcludeZeroScores bool
}

// DefaultConfig returns the policy used by the observed product: three
// medals, top-10/25/50 percent buckets, zero-score students unranked.
func DefaultConfig() Config {
	return Config{
		MedalPositions: 3,
		Buckets: []Bucket{
			{Label: "top_10", Percentile: 10},
			{Label: "top_25", Percentile: 25},
			{Label: "top_50", Percentile: 50},
		},
		ExcludeZeroScores: true,
	}
}

// Builder computes leaderboards from score inputs.
type Builder struct {
	config Config
}

// NewBuilder creates a Builder after validating the bucket configuration.
func NewBuilder(config Config) (*Builder, error) {
	if err := ValidateBuckets(config.Buckets); err != nil {
		return nil, err
	}
	if config.MedalPositions < 0 {
		config.MedalPositions = 0
	}
	return &Builder{config: config}, nil
}

// Build ranks the given scores for a season. Recomputing with unchanged
// inputs yields an identical ordering.
func (b *Builder) Build(seasonID shared.SeasonID, scores []ScoreInput) *Leaderboard {
	board := &Leaderboard{
		SeasonID:    seasonID,
		GeneratedAt: time.Now().UTC(),
	}

	ranked := make([]ScoreInput, 0, len(scores))
	for _, s := range scores {
		if b.config.ExcludeZeroScores && s.Total == 0 && !s.HasCompletions {
			board.Excluded = append(board.Excluded, s.StudentID)
			continue
		}
		ranked = append(ranked, s)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}
		if !ranked[i].LastScoredAt.Equal(ranked[j].LastScoredAt) {
			return ranked[i].LastScoredAt.Before(ranked[j].LastScoredAt)
		}
		return ranked[i].StudentID < ranked[j].StudentID
	})
	sort.Slice(board.Excluded, func(i, j int) bool {
		return board.Excluded[i] < board.Excluded[j]
	})

	total := len(ranked)
	currentRank := Rank(0)
	var prevScore shared.Points
	for i, s := range ranked {
		// Dense ranking: equal totals share the rank, the next distinct
		// total takes the following rank value with no gap.
		if i == 0 || s.Total != prevScore {
			currentRank++
			prevScore = s.Total
		}
		position := i + 1

		entry := &Entry{
			Rank:         currentRank,
			StudentID:    s.StudentID,
			TotalScore:   s.Total,
			Breakdown:    cloneBreakdown(s.Breakdown),
			LastScoredAt: s.LastScoredAt,
		}
		if position <= b.config.MedalPositions {
			entry.Medal = MedalForPosition(position)
		} else if len(b.config.Buckets) > 0 {
			entry.BucketLabel = b.bucketFor(position, total)
		}
		board.Entries = append(board.Entries, entry)
	}

	return board
}

// bucketFor maps a 1-based position to its percentile bucket label.
func (b *Builder) bucketFor(position, total int) string {
	if total == 0 {
		return ""
	}
	percentile := (position * 100) / total
	for _, bucket := range b.config.Buckets {
		if percentile <= bucket.Percentile {
			return bucket.Label
		}
	}
	return ""
}

func cloneBreakdown(src map[shared.Pillar]shared.Points) map[shared.Pillar]shared.Points {
	dst := make(map[shared.Pillar]shared.Points, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
