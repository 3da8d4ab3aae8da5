package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

const seasonID = shared.SeasonID("6b1f8d8a-0c1e-4b2f-9a3d-111111111111")

func season(t *testing.T) Season {
	t.Helper()
	window, err := shared.NewTimeRange(
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return Season{
		ID:           seasonID,
		Number:       2,
		Title:        "Season 2",
		Window:       window,
		IsActive:     true,
		EpisodeCount: 2,
	}
}

func episode(ordinal int, tasks ...TaskDefinition) *Episode {
	ids := []shared.EpisodeID{
		"aaaaaaaa-0000-4000-8000-000000000001",
		"aaaaaaaa-0000-4000-8000-000000000002",
	}
	ep := &Episode{
		ID:       ids[ordinal-1],
		SeasonID: seasonID,
		Ordinal:  shared.EpisodeOrdinal(ordinal),
		Title:    "Episode",
	}
	for i := range tasks {
		tasks[i].EpisodeID = ep.ID
	}
	ep.Tasks = tasks
	return ep
}

func task(id string, pillar shared.Pillar, slot int) TaskDefinition {
	return TaskDefinition{ID: id, Pillar: pillar, SlotIndex: slot, Title: id, DefaultPoints: 100}
}

func TestSeasonCatalog_EpisodeForOrdinal(t *testing.T) {
	cat, err := NewSeasonCatalog(season(t), []*Episode{
		// Out of order on purpose: the catalog sorts by ordinal.
		episode(2, task("cfc-1", shared.PillarCFC, 1)),
		episode(1, task("clt-1", shared.PillarCLT, 1)),
	})
	require.NoError(t, err)

	ep, err := cat.EpisodeForOrdinal(1)
	require.NoError(t, err)
	assert.Equal(t, shared.EpisodeOrdinal(1), ep.Ordinal)

	// An absent ordinal is an explicit NotFound, never a silent nil.
	_, err = cat.EpisodeForOrdinal(7)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSeasonCatalog_PillarSlotsOrderedByEpisode(t *testing.T) {
	cat, err := NewSeasonCatalog(season(t), []*Episode{
		episode(2, task("cfc-2", shared.PillarCFC, 2)),
		episode(1, task("cfc-1", shared.PillarCFC, 1)),
	})
	require.NoError(t, err)

	slots := cat.PillarSlots(shared.PillarCFC)
	require.Len(t, slots, 2)
	assert.Equal(t, "cfc-1", slots[0].Task.ID)
	assert.Equal(t, "cfc-2", slots[1].Task.ID)
	assert.Equal(t, 2, cat.PillarTaskCount(shared.PillarCFC))
	assert.Empty(t, cat.PillarSlots(shared.PillarSRI))
}

func TestSeasonCatalog_RejectsDuplicateOrdinals(t *testing.T) {
	e1 := episode(1, task("clt-1", shared.PillarCLT, 1))
	e2 := episode(1, task("cfc-1", shared.PillarCFC, 1))
	e2.ID = "aaaaaaaa-0000-4000-8000-000000000002"

	_, err := NewSeasonCatalog(season(t), []*Episode{e1, e2})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func TestSeasonCatalog_RejectsForeignEpisode(t *testing.T) {
	ep := episode(1, task("clt-1", shared.PillarCLT, 1))
	ep.SeasonID = "99999999-0000-4000-8000-000000000000"

	_, err := NewSeasonCatalog(season(t), []*Episode{ep})
	assert.ErrorIs(t, err, shared.ErrInvalidEntity)
}

func TestEpisode_ValidationRequiresTasks(t *testing.T) {
	ep := episode(1)
	assert.ErrorIs(t, ep.Validate(), shared.ErrInvalidEntity)
}

func TestSeasonCatalog_TaskDefinitions(t *testing.T) {
	cat, err := NewSeasonCatalog(season(t), []*Episode{
		episode(1, task("clt-1", shared.PillarCLT, 1), task("scd-1", shared.PillarSCD, 1)),
		episode(2, task("cfc-1", shared.PillarCFC, 1)),
	})
	require.NoError(t, err)

	tasks, err := cat.TaskDefinitions("aaaaaaaa-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, 3, cat.TotalTaskCount())

	_, err = cat.TaskDefinitions("aaaaaaaa-0000-4000-8000-00000000000f")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
