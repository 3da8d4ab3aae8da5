package scoring

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fake
// ─────────────────────────────────────────────────────────────────────────────

type scoreKey struct {
	student shared.StudentID
	season  shared.SeasonID
}

type fakeRepo struct {
	mu        sync.Mutex
	scores    map[scoreKey]*SeasonScore
	history   []*HistoryEntry
	finalized map[scoreKey]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		scores:    make(map[scoreKey]*SeasonScore),
		finalized: make(map[scoreKey]bool),
	}
}

func (f *fakeRepo) GetScore(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scores[scoreKey{studentID, seasonID}]; ok {
		return s, nil
	}
	return nil, shared.ErrScoreNotFound
}

func (f *fakeRepo) GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	return f.GetScore(ctx, studentID, seasonID)
}

func (f *fakeRepo) CreateScore(_ context.Context, s *SeasonScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scoreKey{s.StudentID, s.SeasonID}
	if _, ok := f.scores[key]; ok {
		return shared.ErrScoreConflict
	}
	f.scores[key] = s
	return nil
}

func (f *fakeRepo) UpdateScore(_ context.Context, s *SeasonScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[scoreKey{s.StudentID, s.SeasonID}] = s
	return nil
}

func (f *fakeRepo) ListScores(_ context.Context, seasonID shared.SeasonID) ([]*SeasonScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SeasonScore
	for key, s := range f.scores {
		if key.season == seasonID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountScores(_ context.Context, seasonID shared.SeasonID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.scores {
		if key.season == seasonID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) AppendHistory(_ context.Context, entry *HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeRepo) ListHistory(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range f.history {
		if e.StudentID == studentID && e.SeasonID == seasonID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) IsFinalized(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized[scoreKey{studentID, seasonID}], nil
}

func (f *fakeRepo) MarkFinalized(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scoreKey{studentID, seasonID}
	if f.finalized[key] {
		return shared.ErrAlreadyFrozen
	}
	f.finalized[key] = true
	return nil
}

const (
	seasonID  = shared.SeasonID("6b1f8d8a-0c1e-4b2f-9a3d-111111111111")
	studentID = shared.StudentID("7c2f9e9b-1d2f-4c3a-8b4e-222222222222")
)

// ─────────────────────────────────────────────────────────────────────────────
// SeasonScore aggregate
// ─────────────────────────────────────────────────────────────────────────────

func TestSeasonScore_TotalIsClampedSumOfSubtotals(t *testing.T) {
	s := NewSeasonScore(studentID, seasonID)

	require.NoError(t, s.Apply(shared.PillarCLT, 400))
	require.NoError(t, s.Apply(shared.PillarCFC, 500))
	assert.Equal(t, shared.Points(900), s.Total)
	assert.Equal(t, s.RawTotal().Clamp(), s.Total)

	// Over-award: raw 1600, displayed total clamps at 1500.
	require.NoError(t, s.Apply(shared.PillarIIPC, 700))
	assert.Equal(t, shared.Points(1600), s.RawTotal())
	assert.Equal(t, shared.SeasonScoreCap, s.Total)
	assert.True(t, s.AtCap())

	// The clamp lives at the total: subtotals stay as granted.
	assert.Equal(t, shared.Points(400), s.Subtotal(shared.PillarCLT))
	assert.Equal(t, shared.Points(500), s.Subtotal(shared.PillarCFC))
	assert.Equal(t, shared.Points(700), s.Subtotal(shared.PillarIIPC))
}

func TestSeasonScore_ApplyRejectsNegative(t *testing.T) {
	s := NewSeasonScore(studentID, seasonID)
	assert.ErrorIs(t, s.Apply(shared.PillarCLT, -10), shared.ErrNegativeValue)
}

func TestSeasonScore_AdjustIsTheOnlyWayDown(t *testing.T) {
	s := NewSeasonScore(studentID, seasonID)
	require.NoError(t, s.Apply(shared.PillarCFC, 300))

	require.NoError(t, s.Adjust(shared.PillarCFC, -100))
	assert.Equal(t, shared.Points(200), s.Subtotal(shared.PillarCFC))
	assert.Equal(t, shared.Points(200), s.Total)

	// Corrections floor subtotals at zero.
	require.NoError(t, s.Adjust(shared.PillarCFC, -999))
	assert.Equal(t, shared.Points(0), s.Subtotal(shared.PillarCFC))
}

func TestSeasonScore_FinalizeFreezes(t *testing.T) {
	s := NewSeasonScore(studentID, seasonID)
	require.NoError(t, s.Apply(shared.PillarSRI, 150))

	require.NoError(t, s.Finalize())
	assert.ErrorIs(t, s.Finalize(), shared.ErrAlreadyExists)
	assert.ErrorIs(t, s.Apply(shared.PillarSRI, 10), shared.ErrSeasonFinalized)
	assert.ErrorIs(t, s.Adjust(shared.PillarSRI, -10), shared.ErrSeasonFinalized)
	assert.Equal(t, shared.Points(150), s.Total)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scoring engine
// ─────────────────────────────────────────────────────────────────────────────

func TestEngine_ApplyScoreCreatesLazilyAndRecordsHistory(t *testing.T) {
	repo := newFakeRepo()
	engine := NewEngine(repo)
	ctx := context.Background()

	result, err := engine.ApplyScore(ctx, studentID, seasonID, shared.PillarCFC, 200, "bbbbbbbb-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, shared.Points(200), result.Score.Total)
	assert.False(t, result.CapReached)
	require.Len(t, result.Events, 1)
	assert.Equal(t, shared.EventScoreApplied, result.Events[0].EventType())

	history, err := repo.ListHistory(ctx, studentID, seasonID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ReasonTaskApproved, history[0].Reason)
	assert.Equal(t, shared.Points(0), history[0].OldTotal)
	assert.Equal(t, shared.Points(200), history[0].NewTotal)
}

func TestEngine_CapReachedFlag(t *testing.T) {
	repo := newFakeRepo()
	engine := NewEngine(repo)
	ctx := context.Background()

	_, err := engine.ApplyScore(ctx, studentID, seasonID, shared.PillarCLT, 1400, "bbbbbbbb-0000-4000-8000-000000000001")
	require.NoError(t, err)

	result, err := engine.ApplyScore(ctx, studentID, seasonID, shared.PillarCFC, 300, "bbbbbbbb-0000-4000-8000-000000000002")
	require.NoError(t, err)
	assert.True(t, result.CapReached)
	assert.Equal(t, shared.SeasonScoreCap, result.Score.Total)
	// History delta reflects the clamped movement, not the raw grant.
	history, _ := repo.ListHistory(ctx, studentID, seasonID)
	require.Len(t, history, 2)
	assert.Equal(t, shared.Points(100), history[1].Delta)
}

func TestEngine_FinalizeBlocksFurtherScoring(t *testing.T) {
	repo := newFakeRepo()
	engine := NewEngine(repo)
	ctx := context.Background()

	_, err := engine.ApplyScore(ctx, studentID, seasonID, shared.PillarIIPC, 100, "bbbbbbbb-0000-4000-8000-000000000001")
	require.NoError(t, err)

	score, err := engine.Finalize(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.True(t, score.Finalized)

	_, err = engine.ApplyScore(ctx, studentID, seasonID, shared.PillarIIPC, 50, "bbbbbbbb-0000-4000-8000-000000000002")
	assert.ErrorIs(t, err, shared.ErrSeasonFinalized)

	_, err = engine.Finalize(ctx, studentID, seasonID)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	frozen, err := repo.IsFinalized(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.True(t, frozen)
}

// racingRepo misses the first read so the engine's insert collides with a
// row another writer created in between.
type racingRepo struct {
	*fakeRepo
	missedRead bool
}

func (r *racingRepo) GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	if !r.missedRead {
		r.missedRead = true
		return nil, shared.ErrScoreNotFound
	}
	return r.fakeRepo.GetScore(ctx, studentID, seasonID)
}

func TestEngine_LostCreateRaceConvergesOnWinner(t *testing.T) {
	repo := &racingRepo{fakeRepo: newFakeRepo()}
	engine := NewEngine(repo)
	ctx := context.Background()

	winner := NewSeasonScore(studentID, seasonID)
	require.NoError(t, winner.Apply(shared.PillarSRI, 300))
	repo.scores[scoreKey{studentID, seasonID}] = winner

	result, err := engine.ApplyScore(ctx, studentID, seasonID, shared.PillarCLT, 100, "bbbbbbbb-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, shared.Points(400), result.Score.Total)
}

// lockingRepo models the row lock behind GetScoreForUpdate: taken at the
// locking read, released when the update lands. Readers get their own copy
// of the row, the way separate transactions hold separate snapshots.
type lockingRepo struct {
	*fakeRepo
	rowMu sync.Mutex
}

func (r *lockingRepo) GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*SeasonScore, error) {
	r.rowMu.Lock()
	s, err := r.fakeRepo.GetScore(ctx, studentID, seasonID)
	if err != nil {
		r.rowMu.Unlock()
		return nil, err
	}
	return cloneScore(s), nil
}

func (r *lockingRepo) UpdateScore(ctx context.Context, s *SeasonScore) error {
	err := r.fakeRepo.UpdateScore(ctx, s)
	r.rowMu.Unlock()
	return err
}

func cloneScore(s *SeasonScore) *SeasonScore {
	c := *s
	c.Subtotals = make(map[shared.Pillar]shared.Points, len(s.Subtotals))
	for pillar, points := range s.Subtotals {
		c.Subtotals[pillar] = points
	}
	return &c
}

// Two mentors approve different slots for the same student at the same time.
// The ledger keys differ, so only the score row lock serializes the grants:
// the second must read the first one's write, not a shared stale snapshot,
// and both grants survive in the stored subtotals.
func TestEngine_ConcurrentGrantsBothSurvive(t *testing.T) {
	repo := &lockingRepo{fakeRepo: newFakeRepo()}
	repo.scores[scoreKey{studentID, seasonID}] = NewSeasonScore(studentID, seasonID)
	engine := NewEngine(repo)
	ctx := context.Background()

	grants := []struct {
		pillar       shared.Pillar
		points       shared.Points
		submissionID shared.SubmissionID
	}{
		{shared.PillarCFC, 100, "bbbbbbbb-0000-4000-8000-000000000001"},
		{shared.PillarIIPC, 50, "bbbbbbbb-0000-4000-8000-000000000002"},
	}

	var wg sync.WaitGroup
	for _, g := range grants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ApplyScore(ctx, studentID, seasonID, g.pillar, g.points, g.submissionID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := repo.fakeRepo.GetScore(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(100), final.Subtotal(shared.PillarCFC))
	assert.Equal(t, shared.Points(50), final.Subtotal(shared.PillarIIPC))
	assert.Equal(t, shared.Points(150), final.Total)

	history, err := repo.fakeRepo.ListHistory(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestEngine_RejectsOutOfRangePoints(t *testing.T) {
	engine := NewEngine(newFakeRepo())
	_, err := engine.ApplyScore(context.Background(), studentID, seasonID, shared.PillarCLT, 1501, "bbbbbbbb-0000-4000-8000-000000000001")
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}
