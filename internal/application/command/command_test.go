package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/review"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeReviewRepo struct {
	mu          sync.Mutex
	submissions map[shared.SubmissionID]*review.Submission
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{submissions: make(map[shared.SubmissionID]*review.Submission)}
}

func (f *fakeReviewRepo) Create(_ context.Context, s *review.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.submissions[s.ID]; ok {
		return shared.WrapError("review", "Create", shared.ErrAlreadyExists, "duplicate submission", nil)
	}
	f.submissions[s.ID] = s
	return nil
}

func (f *fakeReviewRepo) GetByID(_ context.Context, id shared.SubmissionID) (*review.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.submissions[id]; ok {
		return s, nil
	}
	return nil, shared.ErrSubmissionNotFound
}

func (f *fakeReviewRepo) Update(_ context.Context, s *review.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.submissions[s.ID]; !ok {
		return shared.ErrSubmissionNotFound
	}
	f.submissions[s.ID] = s
	return nil
}

func (f *fakeReviewRepo) ListByStudent(_ context.Context, studentID shared.StudentID, _ shared.Pagination) ([]*review.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*review.Submission
	for _, s := range f.submissions {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeReviewRepo) ListByStatus(_ context.Context, status review.Status, _ shared.Pagination) ([]*review.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*review.Submission
	for _, s := range f.submissions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeCatalogRepo struct {
	catalog *catalog.SeasonCatalog
}

func (f *fakeCatalogRepo) GetSeason(_ context.Context, id shared.SeasonID) (*catalog.Season, error) {
	if id != f.catalog.Season.ID {
		return nil, shared.ErrSeasonNotFound
	}
	season := f.catalog.Season
	return &season, nil
}

func (f *fakeCatalogRepo) GetActiveSeason(context.Context) (*catalog.Season, error) {
	season := f.catalog.Season
	return &season, nil
}

func (f *fakeCatalogRepo) GetCatalog(_ context.Context, seasonID shared.SeasonID) (*catalog.SeasonCatalog, error) {
	if seasonID != f.catalog.Season.ID {
		return nil, shared.ErrSeasonNotFound
	}
	return f.catalog, nil
}

func (f *fakeCatalogRepo) ListSeasons(context.Context) ([]*catalog.Season, error) {
	season := f.catalog.Season
	return []*catalog.Season{&season}, nil
}

type completionKey struct {
	student shared.StudentID
	episode shared.EpisodeID
	task    string
}

type progressKey struct {
	student shared.StudentID
	episode shared.EpisodeID
}

type fakeProgressionRepo struct {
	mu          sync.Mutex
	completions map[completionKey]*progression.TaskCompletion
	progress    map[progressKey]*progression.StudentEpisodeProgress
}

func newFakeProgressionRepo() *fakeProgressionRepo {
	return &fakeProgressionRepo{
		completions: make(map[completionKey]*progression.TaskCompletion),
		progress:    make(map[progressKey]*progression.StudentEpisodeProgress),
	}
}

func (f *fakeProgressionRepo) InsertCompletion(_ context.Context, c *progression.TaskCompletion) (*progression.TaskCompletion, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := completionKey{c.StudentID, c.EpisodeID, c.TaskDefinitionID}
	if existing, ok := f.completions[key]; ok {
		return existing, true, nil
	}
	f.completions[key] = c
	return c, false, nil
}

func (f *fakeProgressionRepo) GetCompletion(_ context.Context, studentID shared.StudentID, episodeID shared.EpisodeID, taskID string) (*progression.TaskCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.completions[completionKey{studentID, episodeID, taskID}]; ok {
		return c, nil
	}
	return nil, shared.ErrCompletionNotFound
}

func (f *fakeProgressionRepo) CountByPillar(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID, pillar shared.Pillar) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.completions {
		if c.StudentID == studentID && c.SeasonID == seasonID && c.Pillar == pillar {
			n++
		}
	}
	return n, nil
}

func (f *fakeProgressionRepo) CountByEpisode(_ context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.completions {
		if c.StudentID == studentID && c.EpisodeID == episodeID {
			n++
		}
	}
	return n, nil
}

func (f *fakeProgressionRepo) ListCompletions(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*progression.TaskCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*progression.TaskCompletion
	for _, c := range f.completions {
		if c.StudentID == studentID && c.SeasonID == seasonID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeProgressionRepo) HasCompletion(_ context.Context, studentID shared.StudentID, episodeID shared.EpisodeID, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.completions[completionKey{studentID, episodeID, taskID}]
	return ok, nil
}

func (f *fakeProgressionRepo) GetProgress(_ context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*progression.StudentEpisodeProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.progress[progressKey{studentID, episodeID}]; ok {
		return p, nil
	}
	return nil, shared.ErrProgressNotFound
}

func (f *fakeProgressionRepo) GetProgressForUpdate(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*progression.StudentEpisodeProgress, error) {
	return f.GetProgress(ctx, studentID, episodeID)
}

func (f *fakeProgressionRepo) ListProgress(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*progression.StudentEpisodeProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*progression.StudentEpisodeProgress
	for _, p := range f.progress {
		if p.StudentID == studentID && p.SeasonID == seasonID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProgressionRepo) CreateProgress(_ context.Context, p *progression.StudentEpisodeProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := progressKey{p.StudentID, p.EpisodeID}
	if _, ok := f.progress[key]; !ok {
		f.progress[key] = p
	}
	return nil
}

func (f *fakeProgressionRepo) UpdateProgress(_ context.Context, p *progression.StudentEpisodeProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[progressKey{p.StudentID, p.EpisodeID}] = p
	return nil
}

type scoreKey struct {
	student shared.StudentID
	season  shared.SeasonID
}

type fakeScoringRepo struct {
	mu        sync.Mutex
	scores    map[scoreKey]*scoring.SeasonScore
	history   []*scoring.HistoryEntry
	finalized map[scoreKey]bool
}

func newFakeScoringRepo() *fakeScoringRepo {
	return &fakeScoringRepo{
		scores:    make(map[scoreKey]*scoring.SeasonScore),
		finalized: make(map[scoreKey]bool),
	}
}

func (f *fakeScoringRepo) GetScore(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*scoring.SeasonScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scores[scoreKey{studentID, seasonID}]; ok {
		return s, nil
	}
	return nil, shared.ErrScoreNotFound
}

func (f *fakeScoringRepo) GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*scoring.SeasonScore, error) {
	return f.GetScore(ctx, studentID, seasonID)
}

func (f *fakeScoringRepo) CreateScore(_ context.Context, s *scoring.SeasonScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scoreKey{s.StudentID, s.SeasonID}
	if _, ok := f.scores[key]; !ok {
		f.scores[key] = s
	}
	return nil
}

func (f *fakeScoringRepo) UpdateScore(_ context.Context, s *scoring.SeasonScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[scoreKey{s.StudentID, s.SeasonID}] = s
	return nil
}

func (f *fakeScoringRepo) ListScores(_ context.Context, seasonID shared.SeasonID) ([]*scoring.SeasonScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*scoring.SeasonScore
	for _, s := range f.scores {
		if s.SeasonID == seasonID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScoringRepo) CountScores(_ context.Context, seasonID shared.SeasonID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.scores {
		if s.SeasonID == seasonID {
			n++
		}
	}
	return n, nil
}

func (f *fakeScoringRepo) AppendHistory(_ context.Context, entry *scoring.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeScoringRepo) ListHistory(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*scoring.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*scoring.HistoryEntry
	for _, e := range f.history {
		if e.StudentID == studentID && e.SeasonID == seasonID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeScoringRepo) IsFinalized(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized[scoreKey{studentID, seasonID}], nil
}

func (f *fakeScoringRepo) MarkFinalized(_ context.Context, studentID shared.StudentID, seasonID shared.SeasonID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scoreKey{studentID, seasonID}
	if f.finalized[key] {
		return shared.ErrAlreadyFrozen
	}
	f.finalized[key] = true
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (f *fakePublisher) Publish(event shared.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) byType(eventType shared.EventType) []shared.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []shared.Event
	for _, e := range f.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

const (
	seasonID  = shared.SeasonID("6b1f8d8a-0c1e-4b2f-9a3d-111111111111")
	studentID = shared.StudentID("7c2f9e9b-1d2f-4c3a-8b4e-222222222222")
)

var episodeIDs = []shared.EpisodeID{
	"aaaaaaaa-0000-4000-8000-000000000001",
	"aaaaaaaa-0000-4000-8000-000000000002",
	"aaaaaaaa-0000-4000-8000-000000000003",
	"aaaaaaaa-0000-4000-8000-000000000004",
}

// testCatalog builds a four-episode season: CLT in e1, CFC in e2-e4, IIPC in
// e2-e3, SRI in e4, SCD in every episode.
func testCatalog(t *testing.T) *catalog.SeasonCatalog {
	t.Helper()

	window, err := shared.NewTimeRange(
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	season := catalog.Season{
		ID:           seasonID,
		Number:       2,
		Title:        "Season 2",
		Window:       window,
		IsActive:     true,
		EpisodeCount: 4,
	}

	pillarsByEpisode := [][]shared.Pillar{
		{shared.PillarCLT, shared.PillarSCD},
		{shared.PillarCFC, shared.PillarIIPC, shared.PillarSCD},
		{shared.PillarCFC, shared.PillarIIPC, shared.PillarSCD},
		{shared.PillarCFC, shared.PillarSRI, shared.PillarSCD},
	}

	slotCounter := map[shared.Pillar]int{}
	episodes := make([]*catalog.Episode, 0, 4)
	for i, pillars := range pillarsByEpisode {
		ep := &catalog.Episode{
			ID:       episodeIDs[i],
			SeasonID: seasonID,
			Ordinal:  shared.EpisodeOrdinal(i + 1),
			Title:    "Episode",
		}
		for _, p := range pillars {
			slotCounter[p]++
			ep.Tasks = append(ep.Tasks, catalog.TaskDefinition{
				ID:            string(p) + "-" + ep.Ordinal.String(),
				EpisodeID:     ep.ID,
				Pillar:        p,
				SlotIndex:     slotCounter[p],
				Title:         string(p),
				DefaultPoints: 100,
			})
		}
		episodes = append(episodes, ep)
	}

	cat, err := catalog.NewSeasonCatalog(season, episodes)
	require.NoError(t, err)
	return cat
}

// testEnv wires the full approval path over in-memory storage.
type testEnv struct {
	reviewRepo      *fakeReviewRepo
	progressionRepo *fakeProgressionRepo
	scoringRepo     *fakeScoringRepo
	publisher       *fakePublisher

	approve     *ApproveSubmissionHandler
	reject      *RejectSubmissionHandler
	resubmit    *RequestResubmissionHandler
	streak      *RecordStreakDayHandler
	finalize    *FinalizeSeasonHandler
	adjustScore *AdjustScoreHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		reviewRepo:      newFakeReviewRepo(),
		progressionRepo: newFakeProgressionRepo(),
		scoringRepo:     newFakeScoringRepo(),
		publisher:       &fakePublisher{},
	}

	catalogRepo := &fakeCatalogRepo{catalog: testCatalog(t)}
	resolver := progression.NewResolver(env.progressionRepo)
	ledger := progression.NewLedger(env.progressionRepo, env.scoringRepo)
	engine := scoring.NewEngine(env.scoringRepo)
	tx := shared.NopTransactionManager{}

	env.approve = NewApproveSubmissionHandler(env.reviewRepo, catalogRepo, resolver, ledger, engine, tx, env.publisher)
	env.reject = NewRejectSubmissionHandler(env.reviewRepo, env.publisher)
	env.resubmit = NewRequestResubmissionHandler(env.reviewRepo, env.publisher)
	env.streak = NewRecordStreakDayHandler(catalogRepo, resolver, ledger, engine, tx, env.publisher)
	env.finalize = NewFinalizeSeasonHandler(env.scoringRepo, engine, tx, env.publisher)
	env.adjustScore = NewAdjustScoreHandler(engine, tx, env.publisher)

	return env
}

var submissionSeq int

// seedSubmission stores a pending submission and returns its ID.
func (env *testEnv) seedSubmission(t *testing.T, pillar shared.Pillar) string {
	t.Helper()
	submissionSeq++
	id := shared.SubmissionID(fmt.Sprintf("bbbbbbbb-0000-4000-8000-%012d", submissionSeq))
	s := &review.Submission{
		ID:        id,
		StudentID: studentID,
		Pillar:    pillar,
		Status:    review.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Validate())
	require.NoError(t, env.reviewRepo.Create(context.Background(), s))
	return id.String()
}
