package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/scoring"
	"github.com/pillarworks/progression-engine/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORING REPOSITORY IMPLEMENTATION
//
// Score rows hold per-pillar subtotals as JSONB plus the clamped total as a
// column, so the leaderboard can ORDER BY total without unpacking JSON.
// Finalization records live in their own table: its primary key makes
// MarkFinalized a natural first-writer-wins barrier.
// ══════════════════════════════════════════════════════════════════════════════

// ScoringRepository implements scoring.Repository for PostgreSQL.
type ScoringRepository struct {
	conn *Connection
}

// NewScoringRepository creates a new ScoringRepository.
func NewScoringRepository(conn *Connection) *ScoringRepository {
	return &ScoringRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Score rows
// ─────────────────────────────────────────────────────────────────────────────

// GetScore returns the score row for a student+season pair.
func (r *ScoringRepository) GetScore(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*scoring.SeasonScore, error) {
	query := scoreSelect + `
		WHERE student_id = $1 AND season_id = $2
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), seasonID.String())
	score, err := r.scanScore(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrScoreNotFound
		}
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return score, nil
}

// GetScoreForUpdate reads the score row with FOR UPDATE. Inside a
// transaction the row stays locked until commit, so two approvals granting
// points to the same student serialize here: the second blocks, then reads
// the first one's committed subtotals instead of a stale snapshot.
func (r *ScoringRepository) GetScoreForUpdate(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (*scoring.SeasonScore, error) {
	query := scoreSelect + `
		WHERE student_id = $1 AND season_id = $2
		FOR UPDATE
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), seasonID.String())
	score, err := r.scanScore(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrScoreNotFound
		}
		return nil, fmt.Errorf("failed to get score for update: %w", err)
	}
	return score, nil
}

// CreateScore inserts a score row; the first insert wins and the loser gets
// a conflict error to trigger a re-read.
func (r *ScoringRepository) CreateScore(ctx context.Context, score *scoring.SeasonScore) error {
	query := `
		INSERT INTO season_scores (
			student_id, season_id, subtotals, total, finalized,
			last_scored_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, season_id) DO NOTHING
	`

	subtotalsJSON, err := json.Marshal(subtotalsToMap(score.Subtotals))
	if err != nil {
		return fmt.Errorf("failed to marshal subtotals: %w", err)
	}

	result, err := querier(ctx, r.conn).Exec(ctx, query,
		score.StudentID.String(),
		score.SeasonID.String(),
		subtotalsJSON,
		score.Total.Int(),
		score.Finalized,
		score.LastScoredAt,
		score.CreatedAt,
		score.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create score: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrScoreConflict
	}
	return nil
}

// UpdateScore persists a mutated score row. The WHERE clause refuses to touch
// a finalized row so a racing finalization cannot be overwritten.
func (r *ScoringRepository) UpdateScore(ctx context.Context, score *scoring.SeasonScore) error {
	query := `
		UPDATE season_scores SET
			subtotals = $1,
			total = $2,
			finalized = $3,
			last_scored_at = $4,
			updated_at = $5
		WHERE student_id = $6 AND season_id = $7 AND (NOT finalized OR $3)
	`

	subtotalsJSON, err := json.Marshal(subtotalsToMap(score.Subtotals))
	if err != nil {
		return fmt.Errorf("failed to marshal subtotals: %w", err)
	}

	result, err := querier(ctx, r.conn).Exec(ctx, query,
		subtotalsJSON,
		score.Total.Int(),
		score.Finalized,
		score.LastScoredAt,
		time.Now().UTC(),
		score.StudentID.String(),
		score.SeasonID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Either the row is missing or it is frozen; distinguish.
		if _, getErr := r.GetScore(ctx, score.StudentID, score.SeasonID); getErr != nil {
			return getErr
		}
		return shared.ErrScoreFrozen
	}
	return nil
}

// ListScores returns every score row of a season.
func (r *ScoringRepository) ListScores(ctx context.Context, seasonID shared.SeasonID) ([]*scoring.SeasonScore, error) {
	query := scoreSelect + `
		WHERE season_id = $1
		ORDER BY total DESC, last_scored_at
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, seasonID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	var scores []*scoring.SeasonScore
	for rows.Next() {
		score, err := r.scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// CountScores returns the number of score rows in a season.
func (r *ScoringRepository) CountScores(ctx context.Context, seasonID shared.SeasonID) (int, error) {
	query := `SELECT COUNT(*) FROM season_scores WHERE season_id = $1`

	var count int
	err := querier(ctx, r.conn).QueryRow(ctx, query, seasonID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// AppendHistory stores one append-only score change record.
func (r *ScoringRepository) AppendHistory(ctx context.Context, entry *scoring.HistoryEntry) error {
	query := `
		INSERT INTO score_history (
			id, student_id, season_id, pillar, old_total, new_total,
			delta, reason, submission_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`

	_, err := querier(ctx, r.conn).Exec(ctx, query,
		entry.ID,
		entry.StudentID.String(),
		entry.SeasonID.String(),
		entry.Pillar.String(),
		entry.OldTotal.Int(),
		entry.NewTotal.Int(),
		entry.Delta.Int(),
		string(entry.Reason),
		entry.SubmissionID.String(),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory returns a student's score history in a season, oldest first.
func (r *ScoringRepository) ListHistory(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*scoring.HistoryEntry, error) {
	query := `
		SELECT id, student_id, season_id, pillar, old_total, new_total,
		       delta, reason, COALESCE(submission_id::text, ''), created_at
		FROM score_history
		WHERE student_id = $1 AND season_id = $2
		ORDER BY created_at
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, studentID.String(), seasonID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*scoring.HistoryEntry
	for rows.Next() {
		var (
			entry        scoring.HistoryEntry
			sID          string
			seasID       string
			pillar       string
			oldTotal     int
			newTotal     int
			delta        int
			reason       string
			submissionID string
		)
		err := rows.Scan(&entry.ID, &sID, &seasID, &pillar, &oldTotal, &newTotal, &delta, &reason, &submissionID, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.StudentID = shared.StudentID(sID)
		entry.SeasonID = shared.SeasonID(seasID)
		entry.Pillar = shared.Pillar(pillar)
		entry.OldTotal = shared.Points(oldTotal)
		entry.NewTotal = shared.Points(newTotal)
		entry.Delta = shared.Points(delta)
		entry.Reason = scoring.HistoryReason(reason)
		entry.SubmissionID = shared.SubmissionID(submissionID)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Finalization barrier
// ─────────────────────────────────────────────────────────────────────────────

// IsFinalized reports whether the student+season pair is frozen.
func (r *ScoringRepository) IsFinalized(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM season_finalizations
			WHERE student_id = $1 AND season_id = $2
		)
	`

	var frozen bool
	err := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), seasonID.String()).Scan(&frozen)
	if err != nil {
		return false, fmt.Errorf("failed to check finalization: %w", err)
	}
	return frozen, nil
}

// MarkFinalized freezes the pair; repeats report ErrAlreadyFrozen.
func (r *ScoringRepository) MarkFinalized(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) error {
	query := `
		INSERT INTO season_finalizations (student_id, season_id, finalized_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, season_id) DO NOTHING
	`

	result, err := querier(ctx, r.conn).Exec(ctx, query, studentID.String(), seasonID.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark finalized: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrAlreadyFrozen
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

const scoreSelect = `
	SELECT student_id, season_id, subtotals, total, finalized,
	       last_scored_at, created_at, updated_at
	FROM season_scores
`

func (r *ScoringRepository) scanScore(row pgx.Row) (*scoring.SeasonScore, error) {
	var (
		studentID     string
		seasonID      string
		subtotalsJSON []byte
		total         int
		finalized     bool
		lastScoredAt  time.Time
		createdAt     time.Time
		updatedAt     time.Time
	)
	err := row.Scan(&studentID, &seasonID, &subtotalsJSON, &total, &finalized, &lastScoredAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var raw map[string]int
	if err := json.Unmarshal(subtotalsJSON, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subtotals: %w", err)
	}

	score := scoring.NewSeasonScore(shared.StudentID(studentID), shared.SeasonID(seasonID))
	for pillar, points := range raw {
		score.Subtotals[shared.Pillar(pillar)] = shared.Points(points)
	}
	score.Total = shared.Points(total)
	score.Finalized = finalized
	score.LastScoredAt = lastScoredAt
	score.CreatedAt = createdAt
	score.UpdatedAt = updatedAt
	return score, nil
}

func subtotalsToMap(subtotals map[shared.Pillar]shared.Points) map[string]int {
	m := make(map[string]int, len(subtotals))
	for pillar, points := range subtotals {
		m[pillar.String()] = points.Int()
	}
	return m
}
