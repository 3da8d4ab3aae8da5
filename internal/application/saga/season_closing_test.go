package saga

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/application/command"
	"github.com/pillarworks/progression-engine/internal/application/query"
	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeCatalogRepo struct {
	season catalog.Season
}

func (f *fakeCatalogRepo) GetSeason(_ context.Context, id shared.SeasonID) (*catalog.Season, error) {
	if id != f.season.ID {
		return nil, shared.ErrSeasonNotFound
	}
	season := f.season
	return &season, nil
}

func (f *fakeCatalogRepo) GetActiveSeason(context.Context) (*catalog.Season, error) {
	season := f.season
	return &season, nil
}

func (f *fakeCatalogRepo) GetCatalog(context.Context, shared.SeasonID) (*catalog.SeasonCatalog, error) {
	return nil, shared.ErrSeasonNotFound
}

func (f *fakeCatalogRepo) ListSeasons(context.Context) ([]*catalog.Season, error) {
	season := f.season
	return []*catalog.Season{&season}, nil
}

type scoreKey struct {
	student shared.StudentID
	season  shared.SeasonID
}

type fakeScoringRepo struct {
	scores map[scoreKey]*scoring.SeasonScore
}

func newFakeScoringRepo() *fakeScoringRepo {
	return &fakeScoringRepo{scores: make(map[scoreKey]*scoring.SeasonScore)}
}

func (f *fakeScoringRepo) GetScore(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*scoring.SeasonScore, error) {
	if s, ok := f.scores[scoreKey{studentID, seasonID}]; ok {
		return s, nil
	}
	return nil, shared.ErrScoreNotFound
}

func (f *fakeScoringRepo) GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*scoring.SeasonScore, error) {
	return f.GetScore(ctx, studentID, seasonID)
}

func (f *fakeScoringRepo) CreateScore(_ context.Context, s *scoring.SeasonScore) error {
	key := scoreKey{s.StudentID, s.SeasonID}
	if _, ok := f.scores[key]; !ok {
		f.scores[key] = s
	}
	return nil
}

func (f *fakeScoringRepo) UpdateScore(_ context.Context, s *scoring.SeasonScore) error {
	f.scores[scoreKey{s.StudentID, s.SeasonID}] = s
	return nil
}

func (f *fakeScoringRepo) ListScores(_ context.Context, seasonID shared.SeasonID) ([]*scoring.SeasonScore, error) {
	var out []*scoring.SeasonScore
	for _, s := range f.scores {
		if s.SeasonID == seasonID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScoringRepo) CountScores(_ context.Context, seasonID shared.SeasonID) (int, error) {
	n := 0
	for _, s := range f.scores {
		if s.SeasonID == seasonID {
			n++
		}
	}
	return n, nil
}

func (f *fakeScoringRepo) AppendHistory(context.Context, *scoring.HistoryEntry) error { return nil }

func (f *fakeScoringRepo) ListHistory(context.Context, shared.StudentID, shared.SeasonID) ([]*scoring.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeScoringRepo) IsFinalized(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (bool, error) {
	if s, ok := f.scores[scoreKey{studentID, seasonID}]; ok {
		return s.Finalized, nil
	}
	return false, nil
}

func (f *fakeScoringRepo) MarkFinalized(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) error {
	return nil
}

type fakeProgressionRepo struct{}

func (f *fakeProgressionRepo) InsertCompletion(_ context.Context, c *progression.TaskCompletion) (*progression.TaskCompletion, bool, error) {
	return c, false, nil
}

func (f *fakeProgressionRepo) GetCompletion(context.Context, shared.StudentID, shared.EpisodeID, string) (*progression.TaskCompletion, error) {
	return nil, shared.ErrCompletionNotFound
}

func (f *fakeProgressionRepo) CountByPillar(context.Context, shared.StudentID, shared.SeasonID, shared.Pillar) (int, error) {
	return 0, nil
}

func (f *fakeProgressionRepo) CountByEpisode(context.Context, shared.StudentID, shared.EpisodeID) (int, error) {
	return 0, nil
}

func (f *fakeProgressionRepo) ListCompletions(context.Context, shared.StudentID, shared.SeasonID) ([]*progression.TaskCompletion, error) {
	return nil, nil
}

func (f *fakeProgressionRepo) HasCompletion(context.Context, shared.StudentID, shared.EpisodeID, string) (bool, error) {
	return false, nil
}

func (f *fakeProgressionRepo) GetProgress(context.Context, shared.StudentID, shared.EpisodeID) (*progression.StudentEpisodeProgress, error) {
	return nil, shared.ErrProgressNotFound
}

func (f *fakeProgressionRepo) GetProgressForUpdate(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*progression.StudentEpisodeProgress, error) {
	return f.GetProgress(ctx, studentID, episodeID)
}

func (f *fakeProgressionRepo) ListProgress(context.Context, shared.StudentID, shared.SeasonID) ([]*progression.StudentEpisodeProgress, error) {
	return nil, nil
}

func (f *fakeProgressionRepo) CreateProgress(context.Context, *progression.StudentEpisodeProgress) error {
	return nil
}

func (f *fakeProgressionRepo) UpdateProgress(context.Context, *progression.StudentEpisodeProgress) error {
	return nil
}

type fakeSnapshotRepo struct {
	saved []*leaderboard.Snapshot
}

func (f *fakeSnapshotRepo) SaveSnapshot(_ context.Context, s *leaderboard.Snapshot) error {
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeSnapshotRepo) GetLatestSnapshot(context.Context, shared.SeasonID) (*leaderboard.Snapshot, error) {
	if len(f.saved) == 0 {
		return nil, shared.ErrSnapshotNotFound
	}
	return f.saved[len(f.saved)-1], nil
}

func (f *fakeSnapshotRepo) DeleteSnapshotsBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

type fakeCache struct {
	sets int
}

func (f *fakeCache) Get(context.Context, shared.SeasonID) (*leaderboard.Leaderboard, error) {
	return nil, shared.ErrLeaderboardNotFound
}

func (f *fakeCache) Set(context.Context, *leaderboard.Leaderboard, time.Duration) error {
	f.sets++
	return nil
}

func (f *fakeCache) Invalidate(context.Context, shared.SeasonID) error { return nil }

type fakePublisher struct{}

func (f *fakePublisher) Publish(shared.Event) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

const seasonID = shared.SeasonID("6b1f8d8a-0c1e-4b2f-9a3d-111111111111")

func studentN(n int) shared.StudentID {
	return shared.StudentID(fmt.Sprintf("7c2f9e9b-1d2f-4c3a-8b4e-%012d", n))
}

func endedSeason(t *testing.T) catalog.Season {
	t.Helper()
	window, err := shared.NewTimeRange(
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return catalog.Season{
		ID:           seasonID,
		Number:       2,
		Title:        "Season 2",
		Window:       window,
		EpisodeCount: 4,
	}
}

func openSeason(t *testing.T) catalog.Season {
	t.Helper()
	window, err := shared.NewTimeRange(
		time.Now().UTC().Add(-30*24*time.Hour),
		time.Now().UTC().Add(30*24*time.Hour),
	)
	require.NoError(t, err)
	return catalog.Season{
		ID:           seasonID,
		Number:       3,
		Title:        "Season 3",
		Window:       window,
		IsActive:     true,
		EpisodeCount: 4,
	}
}

type sagaEnv struct {
	scoringRepo  *fakeScoringRepo
	snapshotRepo *fakeSnapshotRepo
	cache        *fakeCache
	saga         *SeasonClosingSaga
}

func newSagaEnv(t *testing.T, season catalog.Season) *sagaEnv {
	t.Helper()

	env := &sagaEnv{
		scoringRepo:  newFakeScoringRepo(),
		snapshotRepo: &fakeSnapshotRepo{},
		cache:        &fakeCache{},
	}

	engine := scoring.NewEngine(env.scoringRepo)
	finalizer := command.NewFinalizeSeasonHandler(env.scoringRepo, engine, shared.NopTransactionManager{}, &fakePublisher{})

	builder, err := leaderboard.NewBuilder(leaderboard.DefaultConfig())
	require.NoError(t, err)
	assembler := query.NewLeaderboardAssembler(env.scoringRepo, &fakeProgressionRepo{}, env.snapshotRepo, builder)

	env.saga = NewSeasonClosingSaga(
		&fakeCatalogRepo{season: season},
		finalizer,
		assembler,
		env.snapshotRepo,
		env.cache,
		nil,
		DefaultSeasonClosingConfig(),
	)
	return env
}

func (env *sagaEnv) seedScore(id shared.StudentID, total int, scoredAt time.Time) {
	score := scoring.NewSeasonScore(id, seasonID)
	score.Subtotals[shared.PillarCLT] = shared.Points(total)
	score.Total = shared.Points(total).Clamp()
	score.LastScoredAt = scoredAt
	env.scoringRepo.scores[scoreKey{id, seasonID}] = score
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestSeasonClosingSaga(t *testing.T) {
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("freezes scores and persists final standings", func(t *testing.T) {
		env := newSagaEnv(t, endedSeason(t))
		env.seedScore(studentN(1), 900, base)
		env.seedScore(studentN(2), 700, base.Add(time.Hour))
		env.seedScore(studentN(3), 400, base.Add(2*time.Hour))

		result, err := env.saga.Execute(context.Background(), SeasonClosingInput{SeasonID: seasonID.String()})
		require.NoError(t, err)

		assert.Equal(t, 3, result.FrozenCount)
		assert.Equal(t, 0, result.SkippedCount)
		assert.Empty(t, result.FreezeErrors)
		assert.Equal(t, 3, result.TotalRanked)

		require.Len(t, result.Podium, 3)
		assert.Equal(t, studentN(1), result.Podium[0].StudentID)
		assert.Equal(t, 1, result.Podium[0].Rank.Int())
		assert.Equal(t, studentN(2), result.Podium[1].StudentID)
		assert.Equal(t, studentN(3), result.Podium[2].StudentID)

		require.Len(t, env.snapshotRepo.saved, 1)
		assert.Equal(t, 1, env.cache.sets)
	})

	t.Run("podium is smaller than config when fewer students ranked", func(t *testing.T) {
		env := newSagaEnv(t, endedSeason(t))
		env.seedScore(studentN(1), 500, base)

		result, err := env.saga.Execute(context.Background(), SeasonClosingInput{SeasonID: seasonID.String()})
		require.NoError(t, err)
		assert.Len(t, result.Podium, 1)
	})

	t.Run("rejects a season whose window has not ended", func(t *testing.T) {
		env := newSagaEnv(t, openSeason(t))
		env.seedScore(studentN(1), 500, base)

		result, err := env.saga.Execute(context.Background(), SeasonClosingInput{SeasonID: seasonID.String()})
		require.ErrorIs(t, err, ErrSeasonStillOpen)
		assert.Equal(t, StepCheckWindow, result.FailedStep)
		assert.Empty(t, env.snapshotRepo.saved)
	})

	t.Run("force closes an open season", func(t *testing.T) {
		env := newSagaEnv(t, openSeason(t))
		env.seedScore(studentN(1), 500, base)

		result, err := env.saga.Execute(context.Background(), SeasonClosingInput{
			SeasonID: seasonID.String(),
			Force:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.FrozenCount)
	})

	t.Run("retry skips already frozen students", func(t *testing.T) {
		env := newSagaEnv(t, endedSeason(t))
		env.seedScore(studentN(1), 900, base)
		env.seedScore(studentN(2), 700, base)

		first, err := env.saga.Execute(context.Background(), SeasonClosingInput{SeasonID: seasonID.String()})
		require.NoError(t, err)
		require.Equal(t, 2, first.FrozenCount)

		second, err := env.saga.Execute(context.Background(), SeasonClosingInput{SeasonID: seasonID.String()})
		require.NoError(t, err)
		assert.Equal(t, 0, second.FrozenCount)
		assert.Equal(t, 2, second.SkippedCount)
		assert.Equal(t, 2, second.TotalRanked)
	})

	t.Run("requires a season id", func(t *testing.T) {
		env := newSagaEnv(t, endedSeason(t))

		result, err := env.saga.Execute(context.Background(), SeasonClosingInput{})
		require.Error(t, err)
		assert.Equal(t, StepValidateInput, result.FailedStep)
	})

	t.Run("fails on unknown season", func(t *testing.T) {
		env := newSagaEnv(t, endedSeason(t))

		result, err := env.saga.Execute(context.Background(), SeasonClosingInput{
			SeasonID: "00000000-0000-4000-8000-000000000000",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.Equal(t, StepLoadSeason, result.FailedStep)
	})
}
