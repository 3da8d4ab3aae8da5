package query

import (
	"context"
	"errors"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SCORE HISTORY QUERY
// Returns the append-only score change log for a student in a season. Each
// entry records the total before and after, so the sequence replays how the
// score reached its current value, including cap clamping and corrections.
// ══════════════════════════════════════════════════════════════════════════════

// GetScoreHistoryQuery contains score history request parameters.
type GetScoreHistoryQuery struct {
	// SeasonID is the season to look in. Required.
	SeasonID string

	// StudentID is the student whose history to return. Required.
	StudentID string

	// Pillar filters entries to one pillar. Empty means all pillars.
	Pillar string

	// Limit is the maximum number of entries to return, newest last.
	// Zero means no limit.
	Limit int
}

// Validate checks the query parameters.
func (q *GetScoreHistoryQuery) Validate() error {
	if q.SeasonID == "" {
		return errors.New("season_id is required")
	}
	if q.StudentID == "" {
		return errors.New("student_id is required")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Pillar != "" {
		if _, err := shared.NewPillar(q.Pillar); err != nil {
			return err
		}
	}
	return nil
}

// ScoreHistoryEntryDTO is one score change for transport.
type ScoreHistoryEntryDTO struct {
	ID string `json:"id"`

	// Pillar is the pillar whose subtotal changed.
	Pillar string `json:"pillar"`

	// OldTotal and NewTotal are the capped season totals around the change.
	OldTotal int `json:"old_total"`
	NewTotal int `json:"new_total"`

	// Delta is the effective change after clamping.
	Delta int `json:"delta"`

	// Reason labels the change: "task_approved" or "correction".
	Reason string `json:"reason"`

	// SubmissionID links task_approved entries to their submission.
	SubmissionID string `json:"submission_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// GetScoreHistoryResult contains the score history response.
type GetScoreHistoryResult struct {
	SeasonID  string `json:"season_id"`
	StudentID string `json:"student_id"`

	// Entries in chronological order, oldest first.
	Entries []ScoreHistoryEntryDTO `json:"entries"`

	// TotalEntries is the count before the Limit was applied.
	TotalEntries int `json:"total_entries"`
}

// GetScoreHistoryHandler handles score history queries.
type GetScoreHistoryHandler struct {
	scoringRepo scoring.Repository
}

// NewGetScoreHistoryHandler creates a new GetScoreHistoryHandler.
func NewGetScoreHistoryHandler(scoringRepo scoring.Repository) *GetScoreHistoryHandler {
	return &GetScoreHistoryHandler{scoringRepo: scoringRepo}
}

// Handle executes the get score history query.
func (h *GetScoreHistoryHandler) Handle(ctx context.Context, query GetScoreHistoryQuery) (*GetScoreHistoryResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetScoreHistory", shared.ErrValidation, err.Error(), err)
	}

	entries, err := h.scoringRepo.ListHistory(ctx, shared.StudentID(query.StudentID), shared.SeasonID(query.SeasonID))
	if err != nil {
		return nil, shared.WrapError("query", "GetScoreHistory", shared.ErrNotFound, "failed to list history", err)
	}

	if query.Pillar != "" {
		pillar, _ := shared.NewPillar(query.Pillar)
		filtered := make([]*scoring.HistoryEntry, 0, len(entries))
		for _, e := range entries {
			if e.Pillar == pillar {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	result := &GetScoreHistoryResult{
		SeasonID:     query.SeasonID,
		StudentID:    query.StudentID,
		TotalEntries: len(entries),
	}

	if query.Limit > 0 && len(entries) > query.Limit {
		entries = entries[len(entries)-query.Limit:]
	}

	result.Entries = make([]ScoreHistoryEntryDTO, len(entries))
	for i, e := range entries {
		result.Entries[i] = ScoreHistoryEntryDTO{
			ID:           e.ID,
			Pillar:       e.Pillar.String(),
			OldTotal:     e.OldTotal.Int(),
			NewTotal:     e.NewTotal.Int(),
			Delta:        e.Delta.Int(),
			Reason:       string(e.Reason),
			SubmissionID: e.SubmissionID.String(),
			CreatedAt:    e.CreatedAt,
		}
	}

	return result, nil
}
