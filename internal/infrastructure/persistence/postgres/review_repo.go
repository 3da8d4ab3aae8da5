package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/review"
	"github.com/pillarworks/progression-engine/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ReviewRepository implements review.Repository for PostgreSQL.
type ReviewRepository struct {
	conn *Connection
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(conn *Connection) *ReviewRepository {
	return &ReviewRepository{conn: conn}
}

// Create inserts a new submission.
func (r *ReviewRepository) Create(ctx context.Context, s *review.Submission) error {
	query := `
		INSERT INTO submissions (
			id, student_id, pillar, status, reviewer_id, reviewer_comment,
			mentor_points, reviewed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := querier(ctx, r.conn).Exec(ctx, query,
		s.ID.String(),
		s.StudentID.String(),
		s.Pillar.String(),
		string(s.Status),
		s.ReviewerID,
		s.ReviewerComment,
		pointsOrNil(s.MentorPoints),
		s.ReviewedAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("review", "Create", shared.ErrAlreadyExists, "submission already exists")
		}
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// GetByID returns a submission by ID.
func (r *ReviewRepository) GetByID(ctx context.Context, id shared.SubmissionID) (*review.Submission, error) {
	query := submissionSelect + `
		WHERE id = $1
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, id.String())
	submission, err := r.scanSubmission(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return submission, nil
}

// Update persists a mutated submission.
func (r *ReviewRepository) Update(ctx context.Context, s *review.Submission) error {
	query := `
		UPDATE submissions SET
			status = $1,
			reviewer_id = $2,
			reviewer_comment = $3,
			mentor_points = $4,
			reviewed_at = $5,
			updated_at = $6
		WHERE id = $7
	`

	result, err := querier(ctx, r.conn).Exec(ctx, query,
		string(s.Status),
		s.ReviewerID,
		s.ReviewerComment,
		pointsOrNil(s.MentorPoints),
		s.ReviewedAt,
		time.Now().UTC(),
		s.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrSubmissionNotFound
	}
	return nil
}

// ListByStudent returns a student's submissions, newest first.
func (r *ReviewRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, opts shared.Pagination) ([]*review.Submission, error) {
	query := submissionSelect + `
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, studentID.String(), opts.Limit(), opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions by student: %w", err)
	}
	defer rows.Close()

	return r.scanSubmissions(rows)
}

// ListByStatus returns submissions in a given status, oldest first.
func (r *ReviewRepository) ListByStatus(ctx context.Context, status review.Status, opts shared.Pagination) ([]*review.Submission, error) {
	query := submissionSelect + `
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, string(status), opts.Limit(), opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions by status: %w", err)
	}
	defer rows.Close()

	return r.scanSubmissions(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

const submissionSelect = `
	SELECT id, student_id, pillar, status, reviewer_id, reviewer_comment,
	       mentor_points, reviewed_at, created_at, updated_at
	FROM submissions
`

func (r *ReviewRepository) scanSubmission(row pgx.Row) (*review.Submission, error) {
	var (
		s            review.Submission
		id           string
		studentID    string
		pillar       string
		status       string
		mentorPoints *int
	)
	err := row.Scan(
		&id,
		&studentID,
		&pillar,
		&status,
		&s.ReviewerID,
		&s.ReviewerComment,
		&mentorPoints,
		&s.ReviewedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ID = shared.SubmissionID(id)
	s.StudentID = shared.StudentID(studentID)
	s.Pillar = shared.Pillar(pillar)
	s.Status = review.Status(status)
	if mentorPoints != nil {
		points := shared.Points(*mentorPoints)
		s.MentorPoints = &points
	}
	return &s, nil
}

func (r *ReviewRepository) scanSubmissions(rows pgx.Rows) ([]*review.Submission, error) {
	var submissions []*review.Submission
	for rows.Next() {
		submission, err := r.scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

func pointsOrNil(points *shared.Points) *int {
	if points == nil {
		return nil
	}
	v := points.Int()
	return &v
}
