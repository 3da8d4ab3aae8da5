package postgres

import (
	"context"
	"fmt"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements catalog.Repository for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// GetSeason returns a season by ID.
func (r *CatalogRepository) GetSeason(ctx context.Context, id shared.SeasonID) (*catalog.Season, error) {
	query := `
		SELECT id, number, title, starts_at, ends_at, is_active, episode_count,
		       created_at, updated_at
		FROM seasons
		WHERE id = $1
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query, id.String())
	season, err := r.scanSeason(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSeasonNotFound
		}
		return nil, fmt.Errorf("failed to get season: %w", err)
	}
	return season, nil
}

// GetActiveSeason returns the single active season.
func (r *CatalogRepository) GetActiveSeason(ctx context.Context) (*catalog.Season, error) {
	query := `
		SELECT id, number, title, starts_at, ends_at, is_active, episode_count,
		       created_at, updated_at
		FROM seasons
		WHERE is_active
	`

	row := querier(ctx, r.conn).QueryRow(ctx, query)
	season, err := r.scanSeason(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNoActiveSeason
		}
		return nil, fmt.Errorf("failed to get active season: %w", err)
	}
	return season, nil
}

// GetCatalog returns the fully-loaded season catalog.
func (r *CatalogRepository) GetCatalog(ctx context.Context, seasonID shared.SeasonID) (*catalog.SeasonCatalog, error) {
	season, err := r.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	episodes, err := r.listEpisodes(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	if err := r.loadTasks(ctx, seasonID, episodes); err != nil {
		return nil, err
	}

	return catalog.NewSeasonCatalog(*season, episodes)
}

// ListSeasons returns all seasons, newest first.
func (r *CatalogRepository) ListSeasons(ctx context.Context) ([]*catalog.Season, error) {
	query := `
		SELECT id, number, title, starts_at, ends_at, is_active, episode_count,
		       created_at, updated_at
		FROM seasons
		ORDER BY number DESC
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	defer rows.Close()

	var seasons []*catalog.Season
	for rows.Next() {
		season, err := r.scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		seasons = append(seasons, season)
	}
	return seasons, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *CatalogRepository) listEpisodes(ctx context.Context, seasonID shared.SeasonID) ([]*catalog.Episode, error) {
	query := `
		SELECT id, season_id, ordinal, title
		FROM episodes
		WHERE season_id = $1
		ORDER BY ordinal
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, seasonID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*catalog.Episode
	for rows.Next() {
		var (
			episode   catalog.Episode
			id        string
			sID       string
			ordinal   int
		)
		if err := rows.Scan(&id, &sID, &ordinal, &episode.Title); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episode.ID = shared.EpisodeID(id)
		episode.SeasonID = shared.SeasonID(sID)
		episode.Ordinal = shared.EpisodeOrdinal(ordinal)
		episodes = append(episodes, &episode)
	}
	return episodes, rows.Err()
}

func (r *CatalogRepository) loadTasks(ctx context.Context, seasonID shared.SeasonID, episodes []*catalog.Episode) error {
	query := `
		SELECT t.id, t.episode_id, t.pillar, t.slot_index, t.title, t.default_points
		FROM task_definitions t
		JOIN episodes e ON e.id = t.episode_id
		WHERE e.season_id = $1
		ORDER BY e.ordinal, t.slot_index
	`

	rows, err := querier(ctx, r.conn).Query(ctx, query, seasonID.String())
	if err != nil {
		return fmt.Errorf("failed to list task definitions: %w", err)
	}
	defer rows.Close()

	byEpisode := make(map[shared.EpisodeID]*catalog.Episode, len(episodes))
	for _, e := range episodes {
		byEpisode[e.ID] = e
	}

	for rows.Next() {
		var (
			task      catalog.TaskDefinition
			episodeID string
			pillar    string
			points    int
		)
		if err := rows.Scan(&task.ID, &episodeID, &pillar, &task.SlotIndex, &task.Title, &points); err != nil {
			return fmt.Errorf("failed to scan task definition: %w", err)
		}
		task.EpisodeID = shared.EpisodeID(episodeID)
		task.Pillar = shared.Pillar(pillar)
		task.DefaultPoints = shared.Points(points)

		if episode, ok := byEpisode[task.EpisodeID]; ok {
			episode.Tasks = append(episode.Tasks, task)
		}
	}
	return rows.Err()
}

func (r *CatalogRepository) scanSeason(row pgx.Row) (*catalog.Season, error) {
	var (
		season catalog.Season
		id     string
	)
	err := row.Scan(
		&id,
		&season.Number,
		&season.Title,
		&season.Window.From,
		&season.Window.To,
		&season.IsActive,
		&season.EpisodeCount,
		&season.CreatedAt,
		&season.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	season.ID = shared.SeasonID(id)
	return &season, nil
}
