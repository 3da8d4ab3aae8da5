package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

const seasonID = shared.SeasonID("6b1f8d8a-0c1e-4b2f-9a3d-111111111111")

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func student(n byte) shared.StudentID {
	id := []byte("00000000-0000-4000-8000-000000000000")
	id[len(id)-1] = n
	return shared.StudentID(id)
}

func input(n byte, total int, scoredAt time.Time) ScoreInput {
	return ScoreInput{
		StudentID:      student(n),
		Total:          shared.Points(total),
		Breakdown:      map[shared.Pillar]shared.Points{shared.PillarCFC: shared.Points(total)},
		LastScoredAt:   scoredAt,
		HasCompletions: total > 0,
	}
}

func mustBuilder(t *testing.T, cfg Config) *Builder {
	t.Helper()
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	return b
}

func TestBuilder_OrdersByScoreDescending(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())

	board := b.Build(seasonID, []ScoreInput{
		input('1', 300, base),
		input('2', 900, base),
		input('3', 600, base),
	})

	require.Len(t, board.Entries, 3)
	assert.Equal(t, student('2'), board.Entries[0].StudentID)
	assert.Equal(t, student('3'), board.Entries[1].StudentID)
	assert.Equal(t, student('1'), board.Entries[2].StudentID)
	assert.Equal(t, Rank(1), board.Entries[0].Rank)
	assert.Equal(t, Rank(2), board.Entries[1].Rank)
	assert.Equal(t, Rank(3), board.Entries[2].Rank)
}

func TestBuilder_TieBreakByEarliestScorer(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())

	board := b.Build(seasonID, []ScoreInput{
		input('1', 800, base.Add(2*time.Hour)),
		input('2', 800, base), // reached the score first
	})

	require.Len(t, board.Entries, 2)
	assert.Equal(t, student('2'), board.Entries[0].StudentID)
	assert.Equal(t, student('1'), board.Entries[1].StudentID)
	// Equal totals share the dense rank.
	assert.Equal(t, Rank(1), board.Entries[0].Rank)
	assert.Equal(t, Rank(1), board.Entries[1].Rank)
}

func TestBuilder_DenseRanksHaveNoGaps(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())

	board := b.Build(seasonID, []ScoreInput{
		input('1', 900, base),
		input('2', 900, base.Add(time.Minute)),
		input('3', 500, base),
	})

	require.Len(t, board.Entries, 3)
	assert.Equal(t, Rank(1), board.Entries[0].Rank)
	assert.Equal(t, Rank(1), board.Entries[1].Rank)
	// Next distinct total takes rank 2, not 3.
	assert.Equal(t, Rank(2), board.Entries[2].Rank)
}

func TestBuilder_MedalsForPodium(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())

	var inputs []ScoreInput
	for i := 0; i < 8; i++ {
		inputs = append(inputs, input(byte('1'+i), 1000-i*100, base))
	}
	board := b.Build(seasonID, inputs)

	assert.Equal(t, MedalGold, board.Entries[0].Medal)
	assert.Equal(t, MedalSilver, board.Entries[1].Medal)
	assert.Equal(t, MedalBronze, board.Entries[2].Medal)
	assert.Equal(t, MedalNone, board.Entries[3].Medal)
	// Below the podium, buckets take over.
	assert.NotEmpty(t, board.Entries[3].BucketLabel)
	assert.Empty(t, board.Entries[0].BucketLabel)
}

func TestBuilder_PercentileBuckets(t *testing.T) {
	b := mustBuilder(t, Config{
		MedalPositions: 0,
		Buckets: []Bucket{
			{Label: "top_10", Percentile: 10},
			{Label: "top_50", Percentile: 50},
		},
	})

	var inputs []ScoreInput
	for i := 0; i < 10; i++ {
		inputs = append(inputs, input(byte('0'+i), 1000-i*50, base))
	}
	board := b.Build(seasonID, inputs)

	require.Len(t, board.Entries, 10)
	assert.Equal(t, "top_10", board.Entries[0].BucketLabel)
	assert.Equal(t, "top_50", board.Entries[1].BucketLabel)
	assert.Equal(t, "top_50", board.Entries[4].BucketLabel)
	// Positions past the last configured bucket get no label.
	assert.Empty(t, board.Entries[6].BucketLabel)
}

func TestBuilder_ZeroScorePolicy(t *testing.T) {
	excluded := mustBuilder(t, DefaultConfig())
	board := excluded.Build(seasonID, []ScoreInput{
		input('1', 500, base),
		input('2', 0, base),
	})
	require.Len(t, board.Entries, 1)
	require.Len(t, board.Excluded, 1)
	assert.Equal(t, student('2'), board.Excluded[0])

	// Policy off: zero-score students rank last instead.
	cfg := DefaultConfig()
	cfg.ExcludeZeroScores = false
	inclusive := mustBuilder(t, cfg)
	board = inclusive.Build(seasonID, []ScoreInput{
		input('1', 500, base),
		input('2', 0, base),
	})
	require.Len(t, board.Entries, 2)
	assert.Empty(t, board.Excluded)
}

func TestBuilder_DeterministicRebuild(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())
	inputs := []ScoreInput{
		input('1', 700, base),
		input('2', 700, base),
		input('3', 400, base.Add(time.Hour)),
		input('4', 1200, base),
	}

	first := b.Build(seasonID, inputs)
	second := b.Build(seasonID, inputs)

	require.Equal(t, len(first.Entries), len(second.Entries))
	for i := range first.Entries {
		assert.Equal(t, first.Entries[i].StudentID, second.Entries[i].StudentID)
		assert.Equal(t, first.Entries[i].Rank, second.Entries[i].Rank)
	}
}

func TestBuilder_InvalidBucketConfig(t *testing.T) {
	_, err := NewBuilder(Config{Buckets: []Bucket{
		{Label: "top_50", Percentile: 50},
		{Label: "top_10", Percentile: 10}, // not ascending
	}})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestSnapshot_RankChanges(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())

	yesterday := b.Build(seasonID, []ScoreInput{
		input('1', 900, base),
		input('2', 600, base),
		input('3', 300, base),
	})
	snap := NewSnapshot("33333333-0000-4000-8000-000000000001", yesterday)
	assert.Equal(t, 3, snap.TotalStudents)
	assert.Equal(t, 900, snap.TopScore)
	assert.Equal(t, 600, snap.AverageScore)

	// Student 3 overtakes student 2.
	today := b.Build(seasonID, []ScoreInput{
		input('1', 900, base),
		input('2', 600, base),
		input('3', 800, base),
	})
	events := ApplyRankChanges(today, snap)

	assert.Equal(t, RankChange(0), today.Find(student('1')).RankChange)
	assert.Equal(t, RankChange(1), today.Find(student('3')).RankChange)
	assert.Equal(t, RankChange(-1), today.Find(student('2')).RankChange)
	assert.Len(t, events, 2)
}

func TestLeaderboard_Find(t *testing.T) {
	b := mustBuilder(t, DefaultConfig())
	board := b.Build(seasonID, []ScoreInput{input('1', 100, base)})

	assert.NotNil(t, board.Find(student('1')))
	assert.Nil(t, board.Find(student('9')))
}
