package query

import (
	"context"
	"errors"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT PROGRESS QUERY
// The dashboard view of one student's season: per-episode status and
// completion percentage, per-pillar slot usage, and the capped score. Students
// who never progressed read as all-locked-except-first with a zero score; no
// rows are created by reading.
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentProgressQuery contains the request parameters.
type GetStudentProgressQuery struct {
	// StudentID is the student to report on. Required.
	StudentID string

	// SeasonID scopes the report. Empty means the active season.
	SeasonID string
}

// Validate checks the query parameters.
func (q *GetStudentProgressQuery) Validate() error {
	if q.StudentID == "" {
		return errors.New("student_id is required")
	}
	return nil
}

// EpisodeProgressDTO is one episode row of the progress report.
type EpisodeProgressDTO struct {
	EpisodeID string `json:"episode_id"`
	Ordinal   int    `json:"ordinal"`
	Title     string `json:"title"`

	// Status is the lifecycle state: locked, unlocked, in_progress, completed.
	Status string `json:"status"`

	// CompletionPercent is the rounded share of completed tasks.
	CompletionPercent int `json:"completion_percent"`

	// CompletedTasks / TotalTasks back the percentage.
	CompletedTasks int `json:"completed_tasks"`
	TotalTasks     int `json:"total_tasks"`
}

// PillarProgressDTO is one pillar row of the progress report.
type PillarProgressDTO struct {
	Pillar string `json:"pillar"`

	// CompletedSlots is how many of the pillar's season slots are filled.
	CompletedSlots int `json:"completed_slots"`

	// TotalSlots is the pillar's slot count across the season.
	TotalSlots int `json:"total_slots"`

	// Points is the pillar subtotal as granted.
	Points int `json:"points"`
}

// GetStudentProgressResult contains the full progress report.
type GetStudentProgressResult struct {
	StudentID    string `json:"student_id"`
	SeasonID     string `json:"season_id"`
	SeasonNumber int    `json:"season_number"`

	Episodes []EpisodeProgressDTO `json:"episodes"`
	Pillars  []PillarProgressDTO  `json:"pillars"`

	// TotalScore is the capped season total.
	TotalScore int `json:"total_score"`

	// RawScore is the unclamped sum of subtotals.
	RawScore int `json:"raw_score"`

	// CapReached indicates the total sits at the season cap.
	CapReached bool `json:"cap_reached"`

	// Finalized indicates the season is frozen for this student.
	Finalized bool `json:"finalized"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GetStudentProgressHandler handles student progress queries.
type GetStudentProgressHandler struct {
	catalogRepo     catalog.Repository
	progressionRepo progression.Repository
	scoringRepo     scoring.Repository
}

// NewGetStudentProgressHandler creates a new GetStudentProgressHandler.
func NewGetStudentProgressHandler(
	catalogRepo catalog.Repository,
	progressionRepo progression.Repository,
	scoringRepo scoring.Repository,
) *GetStudentProgressHandler {
	return &GetStudentProgressHandler{
		catalogRepo:     catalogRepo,
		progressionRepo: progressionRepo,
		scoringRepo:     scoringRepo,
	}
}

// Handle executes the get student progress query.
func (h *GetStudentProgressHandler) Handle(ctx context.Context, query GetStudentProgressQuery) (*GetStudentProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetStudentProgress", shared.ErrValidation, err.Error(), err)
	}

	studentID := shared.StudentID(query.StudentID)

	cat, err := h.loadCatalog(ctx, query.SeasonID)
	if err != nil {
		return nil, err
	}

	progressRows, err := h.progressionRepo.ListProgress(ctx, studentID, cat.Season.ID)
	if err != nil {
		return nil, shared.WrapError("query", "GetStudentProgress", shared.ErrNotFound, "failed to list progress", err)
	}
	byEpisode := make(map[shared.EpisodeID]*progression.StudentEpisodeProgress, len(progressRows))
	for _, row := range progressRows {
		byEpisode[row.EpisodeID] = row
	}

	completions, err := h.progressionRepo.ListCompletions(ctx, studentID, cat.Season.ID)
	if err != nil {
		return nil, shared.WrapError("query", "GetStudentProgress", shared.ErrNotFound, "failed to list completions", err)
	}
	completedByEpisode := make(map[shared.EpisodeID]int)
	completedByPillar := make(map[shared.Pillar]int)
	for _, c := range completions {
		completedByEpisode[c.EpisodeID]++
		completedByPillar[c.Pillar]++
	}

	result := &GetStudentProgressResult{
		StudentID:    query.StudentID,
		SeasonID:     cat.Season.ID.String(),
		SeasonNumber: cat.Season.Number,
		GeneratedAt:  time.Now().UTC(),
	}

	for _, episode := range cat.Episodes() {
		dto := EpisodeProgressDTO{
			EpisodeID:      episode.ID.String(),
			Ordinal:        episode.Ordinal.Int(),
			Title:          episode.Title,
			Status:         string(progression.StatusLocked),
			CompletedTasks: completedByEpisode[episode.ID],
			TotalTasks:     len(episode.Tasks),
		}
		if episode.Ordinal.Int() == 1 {
			dto.Status = string(progression.StatusUnlocked)
		}
		if row, ok := byEpisode[episode.ID]; ok {
			dto.Status = string(row.Status)
			dto.CompletionPercent = row.CompletionPercent.Int()
		} else {
			dto.CompletionPercent = shared.PercentOf(dto.CompletedTasks, dto.TotalTasks).Int()
		}
		result.Episodes = append(result.Episodes, dto)
	}

	var score *scoring.SeasonScore
	score, err = h.scoringRepo.GetScore(ctx, studentID, cat.Season.ID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, shared.WrapError("query", "GetStudentProgress", shared.ErrNotFound, "failed to get score", err)
		}
		score = scoring.NewSeasonScore(studentID, cat.Season.ID)
	}

	for _, pillar := range shared.AllPillars() {
		result.Pillars = append(result.Pillars, PillarProgressDTO{
			Pillar:         pillar.String(),
			CompletedSlots: completedByPillar[pillar],
			TotalSlots:     cat.PillarTaskCount(pillar),
			Points:         score.Subtotal(pillar).Int(),
		})
	}

	result.TotalScore = score.Total.Int()
	result.RawScore = score.RawTotal().Int()
	result.CapReached = score.AtCap()
	result.Finalized = score.Finalized

	return result, nil
}

func (h *GetStudentProgressHandler) loadCatalog(ctx context.Context, seasonID string) (*catalog.SeasonCatalog, error) {
	if seasonID == "" {
		season, err := h.catalogRepo.GetActiveSeason(ctx)
		if err != nil {
			return nil, shared.WrapError("query", "GetStudentProgress", shared.ErrNotFound, "failed to get active season", err)
		}
		seasonID = season.ID.String()
	}
	cat, err := h.catalogRepo.GetCatalog(ctx, shared.SeasonID(seasonID))
	if err != nil {
		return nil, shared.WrapError("query", "GetStudentProgress", shared.ErrNotFound, "failed to load catalog", err)
	}
	return cat, nil
}
