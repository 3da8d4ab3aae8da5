package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT REPOSITORY IMPLEMENTATION
//
// Snapshots are written whole and read whole (the latest one per season, for
// rank-delta computation), so entries serialize into a single JSONB column
// instead of a child table.
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository implements leaderboard.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// snapshotEntry is the JSONB shape of one stored entry.
type snapshotEntry struct {
	Rank         int            `json:"rank"`
	StudentID    string         `json:"student_id"`
	TotalScore   int            `json:"total_score"`
	Breakdown    map[string]int `json:"breakdown"`
	Medal        string         `json:"medal,omitempty"`
	BucketLabel  string         `json:"bucket,omitempty"`
	RankChange   int            `json:"rank_change,omitempty"`
	LastScoredAt time.Time      `json:"last_scored_at"`
}

// SaveSnapshot persists a snapshot and its entries.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snapshot *leaderboard.Snapshot) error {
	query := `
		INSERT INTO leaderboard_snapshots (
			id, season_id, entries, total_students, average_score, top_score, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	entries := make([]snapshotEntry, 0, len(snapshot.Entries))
	for _, e := range snapshot.Entries {
		breakdown := make(map[string]int, len(e.Breakdown))
		for pillar, points := range e.Breakdown {
			breakdown[pillar.String()] = points.Int()
		}
		entries = append(entries, snapshotEntry{
			Rank:         e.Rank.Int(),
			StudentID:    e.StudentID.String(),
			TotalScore:   e.TotalScore.Int(),
			Breakdown:    breakdown,
			Medal:        string(e.Medal),
			BucketLabel:  e.BucketLabel,
			RankChange:   int(e.RankChange),
			LastScoredAt: e.LastScoredAt,
		})
	}

	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot entries: %w", err)
	}

	_, err = querier(ctx, r.conn).Exec(ctx, query,
		snapshot.ID,
		snapshot.SeasonID.String(),
		entriesJSON,
		snapshot.TotalStudents,
		snapshot.AverageScore,
		snapshot.TopScore,
		snapshot.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot returns the most recent snapshot for a season.
func (r *SnapshotRepository) GetLatestSnapshot(ctx context.Context, seasonID shared.SeasonID) (*leaderboard.Snapshot, error) {
	query := `
		SELECT id, season_id, entries, total_students, average_score, top_score, taken_at
		FROM leaderboard_snapshots
		WHERE season_id = $1
		ORDER BY taken_at DESC
		LIMIT 1
	`

	var (
		snapshot    leaderboard.Snapshot
		sID         string
		entriesJSON []byte
	)
	err := querier(ctx, r.conn).QueryRow(ctx, query, seasonID.String()).Scan(
		&snapshot.ID,
		&sID,
		&entriesJSON,
		&snapshot.TotalStudents,
		&snapshot.AverageScore,
		&snapshot.TopScore,
		&snapshot.TakenAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snapshot.SeasonID = shared.SeasonID(sID)

	var stored []snapshotEntry
	if err := json.Unmarshal(entriesJSON, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot entries: %w", err)
	}
	for _, s := range stored {
		breakdown := make(map[shared.Pillar]shared.Points, len(s.Breakdown))
		for pillar, points := range s.Breakdown {
			breakdown[shared.Pillar(pillar)] = shared.Points(points)
		}
		snapshot.Entries = append(snapshot.Entries, &leaderboard.Entry{
			Rank:         leaderboard.Rank(s.Rank),
			StudentID:    shared.StudentID(s.StudentID),
			TotalScore:   shared.Points(s.TotalScore),
			Breakdown:    breakdown,
			Medal:        leaderboard.Medal(s.Medal),
			BucketLabel:  s.BucketLabel,
			RankChange:   leaderboard.RankChange(s.RankChange),
			LastScoredAt: s.LastScoredAt,
		})
	}
	return &snapshot, nil
}

// DeleteSnapshotsBefore removes snapshots older than the given time.
func (r *SnapshotRepository) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM leaderboard_snapshots WHERE taken_at < $1`

	tag, err := querier(ctx, r.conn).Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
