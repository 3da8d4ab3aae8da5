package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
//
// The completion ledger. InsertCompletion is the serialization point for
// concurrent approvals: the unique key on (student, episode, task) plus
// ON CONFLICT DO NOTHING guarantees exactly one row per slot no matter how
// many approvals race.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn *Connection
}

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn *Connection) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion ledger
// ─────────────────────────────────────────────────────────────────────────────

// InsertCompletion performs a compare-and-insert keyed on (student, episode,
// task definition). Only the first writer lands a row; later writers get the
// existing row back with alreadyExists=true.
func (r *ProgressionRepository) InsertCompletion(ctx context.Context, c *progression.TaskCompletion) (*progression.TaskCompletion, bool, error) {
	query := `
		INSERT INTO task_completions (
			id, student_id, season_id, episode_id, task_definition_id,
			pillar, slot_index, source_submission_id, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (student_id, episode_id, task_definition_id) DO NOTHING
	`

	tag, err := querier(ctx, r.conn).Exec(ctx, query,
		c.ID,
		c.StudentID.String(),
		c.SeasonID.String(),
		c.EpisodeID.String(),
		c.TaskDefinitionID,
		c.Pillar.String(),
		c.SlotIndex,
		c.SourceSubmissionID.String(),
		c.CompletedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert completion: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return c, false, nil
	}

	existing, err := r.GetCompletion(ctx, c.StudentID, c.EpisodeID, c.TaskDefinitionID)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// GetCompletion returns the completion for a (student, episode, task) key.
func (r *ProgressionRepository) GetCompletion(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID, taskDefinitionID string) (*progression.TaskCompletion, error) {
	query := completionSelect + `
		WHERE student_id = $1 AND episode_id = $2 AND task_definition_id = $3
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), episodeID.String(), taskDefinitionID)
	completion, err := r.scanCompletion(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCompletionNotFound
		}
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	return completion, nil
}

// CountByPillar returns the student's prior-approved count for a pillar.
func (r *ProgressionRepository) CountByPillar(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID, pillar shared.Pillar) (int, error) {
	query := `
		SELECT COUNT(*) FROM task_completions
		WHERE student_id = $1 AND season_id = $2 AND pillar = $3
	`

	var count int
	err := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), seasonID.String(), pillar.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completions by pillar: %w", err)
	}
	return count, nil
}

// CountByEpisode returns how many tasks the student completed in an episode.
func (r *ProgressionRepository) CountByEpisode(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (int, error) {
	query := `
		SELECT COUNT(*) FROM task_completions
		WHERE student_id = $1 AND episode_id = $2
	`

	var count int
	err := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), episodeID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completions by episode: %w", err)
	}
	return count, nil
}

// ListCompletions returns all of a student's completions in a season.
func (r *ProgressionRepository) ListCompletions(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*progression.TaskCompletion, error) {
	query := completionSelect + `
		WHERE student_id = $1 AND season_id = $2
		ORDER BY completed_at
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, studentID.String(), seasonID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var completions []*progression.TaskCompletion
	for rows.Next() {
		completion, err := r.scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		completions = append(completions, completion)
	}
	return completions, rows.Err()
}

// HasCompletion reports whether the student completed a specific task slot.
func (r *ProgressionRepository) HasCompletion(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID, taskDefinitionID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM task_completions
			WHERE student_id = $1 AND episode_id = $2 AND task_definition_id = $3
		)
	`

	var exists bool
	err := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), episodeID.String(), taskDefinitionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completion: %w", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Episode progress
// ─────────────────────────────────────────────────────────────────────────────

// GetProgress returns the student's progress row for one episode.
func (r *ProgressionRepository) GetProgress(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*progression.StudentEpisodeProgress, error) {
	query := progressSelect + `
		WHERE student_id = $1 AND episode_id = $2
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), episodeID.String())
	progress, err := r.scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return progress, nil
}

// GetProgressForUpdate reads the progress row with FOR UPDATE. Acquiring the
// row lock before CountByEpisode serializes concurrent approvals within an
// episode: the second transaction blocks here until the first commits its
// completion row, so its count includes both.
func (r *ProgressionRepository) GetProgressForUpdate(ctx context.Context, studentID shared.StudentID, episodeID shared.EpisodeID) (*progression.StudentEpisodeProgress, error) {
	query := progressSelect + `
		WHERE student_id = $1 AND episode_id = $2
		FOR UPDATE
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, studentID.String(), episodeID.String())
	progress, err := r.scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress for update: %w", err)
	}
	return progress, nil
}

// ListProgress returns the student's progress rows for a season.
func (r *ProgressionRepository) ListProgress(ctx context.Context, studentID shared.StudentID, seasonID shared.SeasonID) ([]*progression.StudentEpisodeProgress, error) {
	query := progressSelect + `
		WHERE student_id = $1 AND season_id = $2
		ORDER BY ordinal
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, studentID.String(), seasonID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var result []*progression.StudentEpisodeProgress
	for rows.Next() {
		progress, err := r.scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		result = append(result, progress)
	}
	return result, rows.Err()
}

// CreateProgress inserts a progress row; the first insert wins.
func (r *ProgressionRepository) CreateProgress(ctx context.Context, p *progression.StudentEpisodeProgress) error {
	query := `
		INSERT INTO student_episode_progress (
			student_id, season_id, episode_id, ordinal, status,
			completion_percent, completed_tasks, total_tasks, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (student_id, episode_id) DO NOTHING
	`

	_, err := querier(ctx, r.conn).Exec(ctx, query,
		p.StudentID.String(),
		p.SeasonID.String(),
		p.EpisodeID.String(),
		p.Ordinal.Int(),
		string(p.Status),
		p.CompletionPercent.Int(),
		p.CompletedTasks,
		p.TotalTasks,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create progress: %w", err)
	}
	return nil
}

// UpdateProgress persists a mutated progress row.
func (r *ProgressionRepository) UpdateProgress(ctx context.Context, p *progression.StudentEpisodeProgress) error {
	query := `
		UPDATE student_episode_progress SET
			status = $1,
			completion_percent = $2,
			completed_tasks = $3,
			total_tasks = $4,
			updated_at = $5
		WHERE student_id = $6 AND episode_id = $7
	`

	result, err := querier(ctx, r.conn).Exec(ctx, query,
		string(p.Status),
		p.CompletionPercent.Int(),
		p.CompletedTasks,
		p.TotalTasks,
		time.Now().UTC(),
		p.StudentID.String(),
		p.EpisodeID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrProgressNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

const completionSelect = `
	SELECT id, student_id, season_id, episode_id, task_definition_id,
	       pillar, slot_index, COALESCE(source_submission_id::text, ''), completed_at
	FROM task_completions
`

const progressSelect = `
	SELECT student_id, season_id, episode_id, ordinal, status,
	       completion_percent, completed_tasks, total_tasks, created_at, updated_at
	FROM student_episode_progress
`

func (r *ProgressionRepository) scanCompletion(row pgx.Row) (*progression.TaskCompletion, error) {
	var (
		c          progression.TaskCompletion
		studentID  string
		seasonID   string
		episodeID  string
		pillar     string
		submission string
	)
	err := row.Scan(
		&c.ID,
		&studentID,
		&seasonID,
		&episodeID,
		&c.TaskDefinitionID,
		&pillar,
		&c.SlotIndex,
		&submission,
		&c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.StudentID = shared.StudentID(studentID)
	c.SeasonID = shared.SeasonID(seasonID)
	c.EpisodeID = shared.EpisodeID(episodeID)
	c.Pillar = shared.Pillar(pillar)
	c.SourceSubmissionID = shared.SubmissionID(submission)
	return &c, nil
}

func (r *ProgressionRepository) scanProgress(row pgx.Row) (*progression.StudentEpisodeProgress, error) {
	var (
		p         progression.StudentEpisodeProgress
		studentID string
		seasonID  string
		episodeID string
		ordinal   int
		status    string
		percent   int
	)
	err := row.Scan(
		&studentID,
		&seasonID,
		&episodeID,
		&ordinal,
		&status,
		&percent,
		&p.CompletedTasks,
		&p.TotalTasks,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.StudentID = shared.StudentID(studentID)
	p.SeasonID = shared.SeasonID(seasonID)
	p.EpisodeID = shared.EpisodeID(episodeID)
	p.Ordinal = shared.EpisodeOrdinal(ordinal)
	p.Status = progression.EpisodeStatus(status)
	p.CompletionPercent = shared.Percent(percent)
	return &p, nil
}
