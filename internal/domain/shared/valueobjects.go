package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// normalizeID lowercases and trims an incoming identifier. IDs arrive from
// URL paths and JSON bodies, so casing and whitespace are not trusted.
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func validUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// StudentID identifies a student. UUID format; students themselves are
// owned by an upstream system, this engine only references them.
type StudentID string

func (s StudentID) IsValid() bool { return validUUID(string(s)) }
func (s StudentID) String() string { return string(s) }
func (s StudentID) IsEmpty() bool { return s == "" }

func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(normalizeID(id))
	if !sid.IsValid() {
		return "", NewDomainError("shared", "NewStudentID", ErrInvalidID, "invalid student ID format")
	}
	return sid, nil
}

// SeasonID identifies a season.
type SeasonID string

func (s SeasonID) IsValid() bool { return validUUID(string(s)) }
func (s SeasonID) String() string { return string(s) }
func (s SeasonID) IsEmpty() bool { return s == "" }

func NewSeasonID(id string) (SeasonID, error) {
	sid := SeasonID(normalizeID(id))
	if !sid.IsValid() {
		return "", NewDomainError("shared", "NewSeasonID", ErrInvalidID, "invalid season ID format")
	}
	return sid, nil
}

// EpisodeID identifies an episode within a season.
type EpisodeID string

func (e EpisodeID) IsValid() bool { return validUUID(string(e)) }
func (e EpisodeID) String() string { return string(e) }
func (e EpisodeID) IsEmpty() bool { return e == "" }

func NewEpisodeID(id string) (EpisodeID, error) {
	eid := EpisodeID(normalizeID(id))
	if !eid.IsValid() {
		return "", NewDomainError("shared", "NewEpisodeID", ErrInvalidID, "invalid episode ID format")
	}
	return eid, nil
}

// SubmissionID identifies a review submission.
type SubmissionID string

func (s SubmissionID) IsValid() bool { return validUUID(string(s)) }
func (s SubmissionID) String() string { return string(s) }
func (s SubmissionID) IsEmpty() bool { return s == "" }

func NewSubmissionID(id string) (SubmissionID, error) {
	sid := SubmissionID(normalizeID(id))
	if !sid.IsValid() {
		return "", NewDomainError("shared", "NewSubmissionID", ErrInvalidID, "invalid submission ID format")
	}
	return sid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pillar
// ═══════════════════════════════════════════════════════════════════════════

// Pillar is a category of student activity that contributes task slots across
// a season's episodes.
type Pillar string

const (
	// PillarCLT - classroom learning track.
	PillarCLT Pillar = "CLT"
	// PillarSCD - daily streak discipline. Present in every episode.
	PillarSCD Pillar = "SCD"
	// PillarCFC - competitive/foundational coding.
	PillarCFC Pillar = "CFC"
	// PillarIIPC - industry interaction and professional connect.
	PillarIIPC Pillar = "IIPC"
	// PillarSRI - social responsibility initiative.
	PillarSRI Pillar = "SRI"
)

// AllPillars lists every pillar in canonical order. The order matters for
// deterministic iteration over subtotal breakdowns.
func AllPillars() []Pillar {
	return []Pillar{PillarCLT, PillarSCD, PillarCFC, PillarIIPC, PillarSRI}
}

func (p Pillar) IsValid() bool {
	switch p {
	case PillarCLT, PillarSCD, PillarCFC, PillarIIPC, PillarSRI:
		return true
	}
	return false
}

// IsStreak reports whether the pillar uses current-episode resolution instead
// of approval-count slot ordering.
func (p Pillar) IsStreak() bool {
	return p == PillarSCD
}

func (p Pillar) String() string { return string(p) }

// NewPillar parses a pillar name, accepting any casing.
func NewPillar(value string) (Pillar, error) {
	p := Pillar(strings.ToUpper(strings.TrimSpace(value)))
	if !p.IsValid() {
		return "", ErrInvalidPillar
	}
	return p, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Points
// ═══════════════════════════════════════════════════════════════════════════

// Points is a quantity of score points.
type Points int

const (
	// MinPoints is the lowest grantable point value.
	MinPoints Points = 0

	// SeasonScoreCap is the ceiling for a student's displayed season total.
	// Subtotals are stored as granted; only the total is clamped.
	SeasonScoreCap Points = 1500
)

// IsValid reports whether the value is grantable, 0 through the cap.
func (p Points) IsValid() bool {
	return p >= MinPoints && p <= SeasonScoreCap
}

func (p Points) Int() int { return int(p) }

// Clamp caps the value into the displayable range.
func (p Points) Clamp() Points {
	if p > SeasonScoreCap {
		return SeasonScoreCap
	}
	if p < MinPoints {
		return MinPoints
	}
	return p
}

func NewPoints(value int) (Points, error) {
	if value < int(MinPoints) {
		return 0, ErrNegativePoints
	}
	if value > int(SeasonScoreCap) {
		return 0, ErrPointsOutOfCap
	}
	return Points(value), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Percent
// ═══════════════════════════════════════════════════════════════════════════

// Percent is an integer percentage, 0 through 100.
type Percent int

func (p Percent) IsValid() bool { return p >= 0 && p <= 100 }
func (p Percent) Int() int { return int(p) }
func (p Percent) IsComplete() bool { return p == 100 }

// PercentOf computes round(100 * part / whole) as a Percent. A zero whole
// yields 0, never a division panic.
func PercentOf(part, whole int) Percent {
	if whole <= 0 {
		return 0
	}
	// Integer rounding to nearest.
	return Percent((part*100 + whole/2) / whole)
}

// ═══════════════════════════════════════════════════════════════════════════
// EpisodeOrdinal
// ═══════════════════════════════════════════════════════════════════════════

// EpisodeOrdinal is the 1-based position of an episode within its season.
type EpisodeOrdinal int

// IsValid reports whether the ordinal is positive. The upper bound is the
// season's configured episode count, not a constant.
func (o EpisodeOrdinal) IsValid() bool {
	return o >= 1
}

func (o EpisodeOrdinal) Int() int { return int(o) }

func (o EpisodeOrdinal) String() string {
	return fmt.Sprintf("E%d", int(o))
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange is a closed interval of wall-clock time, like a season window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains reports whether tm falls inside the range, endpoints included.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination
// ═══════════════════════════════════════════════════════════════════════════

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination carries 1-based page parameters from the API layer down to the
// repositories.
type Pagination struct {
	Page     int
	PageSize int
}

// Limit is the page size bounded into [1, MaxPageSize].
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// Offset is the row offset matching Page and Limit.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// NewPagination normalizes out-of-range inputs instead of rejecting them.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// DefaultPagination is page 1 at the default size.
func DefaultPagination() Pagination {
	return NewPagination(1, DefaultPageSize)
}
