// Package leaderboard contains the derived season ranking: dense ranks over
// capped season scores, medals for the podium, percentile buckets for display.
// Nothing here is stored state - a leaderboard is always recomputed from the
// current scores.
package leaderboard

import (
	"fmt"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a student's position in the season leaderboard, starting at 1.
// Students on equal totals share a rank (dense ranking, no gaps).
type Rank int

// Unranked marks a student excluded from ranked output.
const Unranked Rank = 0

// IsValid checks that the rank is positive.
func (r Rank) IsValid() bool {
	return r > 0
}

// IsUnranked reports whether the student is not in ranked output.
func (r Rank) IsUnranked() bool {
	return r == Unranked
}

// Int returns the underlying int value.
func (r Rank) Int() int {
	return int(r)
}

// String returns the string representation.
func (r Rank) String() string {
	if r.IsUnranked() {
		return "unranked"
	}
	return fmt.Sprintf("#%d", int(r))
}

// RankChange is the position delta since the previous snapshot.
// Positive = moved up, negative = moved down.
type RankChange int

// Abs returns the absolute value of the change.
func (rc RankChange) Abs() int {
	if rc < 0 {
		return int(-rc)
	}
	return int(rc)
}

// ══════════════════════════════════════════════════════════════════════════════
// MEDAL
// ══════════════════════════════════════════════════════════════════════════════

// Medal tags the top positions of the leaderboard.
type Medal string

const (
	MedalNone   Medal = ""
	MedalGold   Medal = "gold"
	MedalSilver Medal = "silver"
	MedalBronze Medal = "bronze"
)

// MedalForPosition returns the medal for a 1-based position.
func MedalForPosition(position int) Medal {
	switch position {
	case 1:
		return MedalGold
	case 2:
		return MedalSilver
	case 3:
		return MedalBronze
	default:
		return MedalNone
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PERCENTILE BUCKETS
// ══════════════════════════════════════════════════════════════════════════════

// Bucket is one display grouping for positions below the podium, e.g.
// "top 10%". Bucket boundaries are configuration, not engine constants.
type Bucket struct {
	// Label - display name, e.g. "top_10".
	Label string

	// Percentile - inclusive upper bound: a student whose position percentile
	// is <= this value falls into the bucket (unless an earlier bucket
	// claimed them).
	Percentile int
}

// ValidateBuckets checks that bucket boundaries are ascending and in (0,100].
func ValidateBuckets(buckets []Bucket) error {
	prev := 0
	for _, b := range buckets {
		if b.Label == "" {
			return shared.ErrInvalidBuckets
		}
		if b.Percentile <= prev || b.Percentile > 100 {
			return shared.ErrInvalidBuckets
		}
		prev = b.Percentile
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one row of the computed leaderboard.
type Entry struct {
	// Rank - dense rank, shared on equal totals.
	Rank Rank

	// StudentID - the ranked student.
	StudentID shared.StudentID

	// TotalScore - the capped season total.
	TotalScore shared.Points

	// Breakdown - per-pillar subtotals as granted (unclamped).
	Breakdown map[shared.Pillar]shared.Points

	// Medal - podium tag for the first three positions.
	Medal Medal

	// BucketLabel - percentile bucket for positions below the podium,
	// empty when bucketing is not configured.
	BucketLabel string

	// RankChange - delta against the previous snapshot; zero for fresh builds.
	RankChange RankChange

	// LastScoredAt - when the student last gained points. Earlier wins ties.
	LastScoredAt time.Time
}

// Clone returns a copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Breakdown = make(map[shared.Pillar]shared.Points, len(e.Breakdown))
	for k, v := range e.Breakdown {
		clone.Breakdown[k] = v
	}
	return &clone
}

// String returns a compact representation for logging.
func (e *Entry) String() string {
	return fmt.Sprintf("Entry{%s %s score=%d medal=%s}", e.Rank, e.StudentID, e.TotalScore, e.Medal)
}

// Leaderboard is the full computed ranking for one season.
type Leaderboard struct {
	SeasonID shared.SeasonID

	// Entries - ranked rows in display order.
	Entries []*Entry

	// Excluded - students left out of ranked output under the zero-score
	// policy, surfaced as "not yet ranked".
	Excluded []shared.StudentID

	GeneratedAt time.Time
}

// Find returns the entry for a student, or nil.
func (l *Leaderboard) Find(studentID shared.StudentID) *Entry {
	for _, e := range l.Entries {
		if e.StudentID == studentID {
			return e
		}
	}
	return nil
}

// Size returns the number of ranked entries.
func (l *Leaderboard) Size() int {
	return len(l.Entries)
}
