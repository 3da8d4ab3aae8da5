package leaderboard

import (
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
//
// A snapshot is a persisted moment of the leaderboard, taken periodically by
// the worker. Snapshots exist only to compute rank deltas between rebuilds and
// for historical display; the live leaderboard is always recomputed from
// current scores.
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a stored leaderboard state.
type Snapshot struct {
	ID       string
	SeasonID shared.SeasonID

	Entries []*Entry

	// Aggregates, denormalized for display.
	TotalStudents int
	AverageScore  int
	TopScore      int

	TakenAt time.Time
}

// NewSnapshot captures a computed leaderboard as a snapshot.
func NewSnapshot(id string, board *Leaderboard) *Snapshot {
	snap := &Snapshot{
		ID:       id,
		SeasonID: board.SeasonID,
		TakenAt:  board.GeneratedAt,
	}
	sum := 0
	for _, e := range board.Entries {
		snap.Entries = append(snap.Entries, e.Clone())
		sum += e.TotalScore.Int()
		if e.TotalScore.Int() > snap.TopScore {
			snap.TopScore = e.TotalScore.Int()
		}
	}
	snap.TotalStudents = len(board.Entries)
	if snap.TotalStudents > 0 {
		snap.AverageScore = sum / snap.TotalStudents
	}
	return snap
}

// RankOf returns the snapshot rank of a student, or Unranked.
func (s *Snapshot) RankOf(studentID shared.StudentID) Rank {
	for _, e := range s.Entries {
		if e.StudentID == studentID {
			return e.Rank
		}
	}
	return Unranked
}

// ApplyRankChanges annotates a freshly built leaderboard with position deltas
// against a previous snapshot, and returns RankChanged events for students
// whose rank moved. A nil previous snapshot leaves all deltas at zero.
func ApplyRankChanges(board *Leaderboard, previous *Snapshot) []shared.Event {
	if previous == nil {
		return nil
	}
	var events []shared.Event
	for _, e := range board.Entries {
		oldRank := previous.RankOf(e.StudentID)
		if oldRank.IsUnranked() {
			continue
		}
		e.RankChange = RankChange(oldRank.Int() - e.Rank.Int())
		if e.RankChange != 0 {
			events = append(events, shared.NewRankChangedEvent(
				e.StudentID.String(),
				board.SeasonID.String(),
				oldRank.Int(),
				e.Rank.Int(),
			))
		}
	}
	return events
}
