// Package catalog contains the season/episode/task reference data for the
// progression engine. The catalog is authored externally by admin tooling and
// is read-only here: every lookup is a total function that either returns the
// entity or a NotFound error, never a partial result.
package catalog

import (
	"sort"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEASON
// ══════════════════════════════════════════════════════════════════════════════

// Season is a time-boxed competitive period containing several episodes.
// At most one season is active system-wide at any time.
type Season struct {
	// ID - unique season identifier.
	ID shared.SeasonID

	// Number - season ordinal (Season 1, Season 2, ...).
	Number int

	// Title - display title, e.g. "Season 2".
	Title string

	// Window - start/end dates of the season.
	Window shared.TimeRange

	// IsActive - whether this is the currently running season.
	IsActive bool

	// EpisodeCount - configured number of episodes. Not hard-coded: seasons
	// have had 4 episodes so far but the engine must not assume it.
	EpisodeCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks season invariants.
func (s *Season) Validate() error {
	if s.ID.IsEmpty() {
		return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidID, "season ID is required")
	}
	if s.Number <= 0 {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValueOutOfRange, "season number must be positive")
	}
	if !s.Window.IsValid() {
		return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidInput, "season window is invalid")
	}
	if s.EpisodeCount <= 0 {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValueOutOfRange, "season must have at least one episode")
	}
	return nil
}

// Contains reports whether the given time falls inside the season window.
func (s *Season) Contains(t time.Time) bool {
	return s.Window.Contains(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// EPISODE
// ══════════════════════════════════════════════════════════════════════════════

// Episode is an ordered phase of a season owning a fixed set of task
// definitions.
type Episode struct {
	// ID - unique episode identifier.
	ID shared.EpisodeID

	// SeasonID - the season this episode belongs to.
	SeasonID shared.SeasonID

	// Ordinal - 1-based position within the season.
	Ordinal shared.EpisodeOrdinal

	// Title - display title, e.g. "Episode 3".
	Title string

	// Tasks - the fixed, ordered task definitions of this episode.
	Tasks []TaskDefinition

	CreatedAt time.Time
}

// Validate checks episode invariants.
func (e *Episode) Validate() error {
	if e.ID.IsEmpty() {
		return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidID, "episode ID is required")
	}
	if e.SeasonID.IsEmpty() {
		return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidID, "episode season ID is required")
	}
	if !e.Ordinal.IsValid() {
		return shared.ErrInvalidOrdinal
	}
	if len(e.Tasks) == 0 {
		return shared.ErrEmptyEpisodeTaskSet
	}
	for i := range e.Tasks {
		if err := e.Tasks[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TaskCount returns the number of task definitions in the episode.
func (e *Episode) TaskCount() int {
	return len(e.Tasks)
}

// TaskForPillar returns the episode's task definition for a pillar, if any.
func (e *Episode) TaskForPillar(pillar shared.Pillar) (TaskDefinition, bool) {
	for _, task := range e.Tasks {
		if task.Pillar == pillar {
			return task, true
		}
	}
	return TaskDefinition{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// TaskDefinition is a (pillar, slot-index) pair scoped to one episode: the
// unit of work a submission can satisfy. The same pillar may occupy different
// slots in different episodes; the mapping is configuration, not a constant.
type TaskDefinition struct {
	// ID - unique task definition identifier.
	ID string

	// EpisodeID - the owning episode.
	EpisodeID shared.EpisodeID

	// Pillar - the activity category this task belongs to.
	Pillar shared.Pillar

	// SlotIndex - 1-based occurrence of this pillar within the season,
	// counted in episode-ordinal order. For the SCD streak pillar the slot
	// equals the episode ordinal, since the streak task recurs per episode.
	SlotIndex int

	// Title - display title, e.g. "CFC Contest #2".
	Title string

	// DefaultPoints - configured fallback point value, used when the mentor
	// does not supply one at approval time.
	DefaultPoints shared.Points
}

// Validate checks task definition invariants.
func (t *TaskDefinition) Validate() error {
	if t.ID == "" {
		return shared.NewDomainError("catalog", "Validate", shared.ErrInvalidID, "task definition ID is required")
	}
	if !t.Pillar.IsValid() {
		return shared.ErrInvalidPillar
	}
	if t.SlotIndex < 1 {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValueOutOfRange, "slot index must be positive")
	}
	if !t.DefaultPoints.IsValid() {
		return shared.ErrPointsOutOfCap
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEASON CATALOG (aggregate)
// ══════════════════════════════════════════════════════════════════════════════

// PillarSlot pairs a task definition with the episode it lives in, in the
// season-wide pillar ordering used by the task resolver.
type PillarSlot struct {
	Episode *Episode
	Task    TaskDefinition
}

// SeasonCatalog is the fully-loaded read model of one season: the season row
// plus all episodes and their task definitions, ordered by episode ordinal.
type SeasonCatalog struct {
	Season   Season
	episodes []*Episode
}

// NewSeasonCatalog builds a catalog aggregate and validates the whole tree.
// Episodes are sorted by ordinal regardless of input order.
func NewSeasonCatalog(season Season, episodes []*Episode) (*SeasonCatalog, error) {
	if err := season.Validate(); err != nil {
		return nil, err
	}
	sorted := make([]*Episode, len(episodes))
	copy(sorted, episodes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})
	seen := make(map[shared.EpisodeOrdinal]bool, len(sorted))
	for _, ep := range sorted {
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		if ep.SeasonID != season.ID {
			return nil, shared.NewDomainError("catalog", "NewSeasonCatalog", shared.ErrInvalidEntity, "episode belongs to a different season")
		}
		if seen[ep.Ordinal] {
			return nil, shared.NewDomainError("catalog", "NewSeasonCatalog", shared.ErrAlreadyExists, "duplicate episode ordinal")
		}
		seen[ep.Ordinal] = true
	}
	return &SeasonCatalog{Season: season, episodes: sorted}, nil
}

// Episodes returns the episodes of the season in ordinal order.
func (c *SeasonCatalog) Episodes() []*Episode {
	return c.episodes
}

// EpisodeForOrdinal returns the episode with the given ordinal. Absence is an
// explicit NotFound, never a nil that travels downstream.
func (c *SeasonCatalog) EpisodeForOrdinal(n shared.EpisodeOrdinal) (*Episode, error) {
	for _, ep := range c.episodes {
		if ep.Ordinal == n {
			return ep, nil
		}
	}
	return nil, shared.ErrEpisodeNotFound
}

// EpisodeByID returns the episode with the given ID.
func (c *SeasonCatalog) EpisodeByID(id shared.EpisodeID) (*Episode, error) {
	for _, ep := range c.episodes {
		if ep.ID == id {
			return ep, nil
		}
	}
	return nil, shared.ErrEpisodeNotFound
}

// TaskDefinitions returns the ordered task set of an episode.
func (c *SeasonCatalog) TaskDefinitions(episodeID shared.EpisodeID) ([]TaskDefinition, error) {
	ep, err := c.EpisodeByID(episodeID)
	if err != nil {
		return nil, err
	}
	return ep.Tasks, nil
}

// PillarSlots returns every task definition for a pillar across the season,
// in increasing episode-ordinal order. This is the ordering the task resolver
// indexes with the prior-approved count: slot 0 of CFC is episode 2's CFC
// task, slot 1 is episode 3's, and so on.
func (c *SeasonCatalog) PillarSlots(pillar shared.Pillar) []PillarSlot {
	var slots []PillarSlot
	for _, ep := range c.episodes {
		if task, ok := ep.TaskForPillar(pillar); ok {
			slots = append(slots, PillarSlot{Episode: ep, Task: task})
		}
	}
	return slots
}

// PillarTaskCount returns how many task slots a pillar has in the season.
func (c *SeasonCatalog) PillarTaskCount(pillar shared.Pillar) int {
	return len(c.PillarSlots(pillar))
}

// TotalTaskCount returns the number of task definitions across all episodes.
func (c *SeasonCatalog) TotalTaskCount() int {
	total := 0
	for _, ep := range c.episodes {
		total += ep.TaskCount()
	}
	return total
}
