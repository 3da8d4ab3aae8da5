package catalog

import (
	"context"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence. The catalog is read-only
// to the engine; writes happen through external admin tooling.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines read access to season/episode/task reference data.
type Repository interface {
	// GetSeason returns a season by ID.
	// Returns ErrSeasonNotFound if the season does not exist.
	GetSeason(ctx context.Context, id shared.SeasonID) (*Season, error)

	// GetActiveSeason returns the single active season.
	// Returns ErrNoActiveSeason if no season is currently active.
	GetActiveSeason(ctx context.Context) (*Season, error)

	// GetCatalog returns the fully-loaded season catalog: the season plus all
	// episodes and task definitions, episodes ordered by ordinal.
	// Returns ErrSeasonNotFound if the season does not exist.
	GetCatalog(ctx context.Context, seasonID shared.SeasonID) (*SeasonCatalog, error)

	// ListSeasons returns all seasons, newest first.
	ListSeasons(ctx context.Context) ([]*Season, error)
}
