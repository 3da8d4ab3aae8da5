package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create season catalog tables
-- Version: 001
-- The catalog is reference data: seasons, their episodes and the fixed task
-- slots of each episode. The engine reads it; admin tooling writes it.

CREATE TABLE IF NOT EXISTS seasons (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    number INTEGER NOT NULL UNIQUE,
    title VARCHAR(100) NOT NULL,
    starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT FALSE,
    episode_count INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_season_number CHECK (number > 0),
    CONSTRAINT valid_episode_count CHECK (episode_count > 0),
    CONSTRAINT valid_window CHECK (starts_at < ends_at)
);

-- At most one active season at a time
CREATE UNIQUE INDEX IF NOT EXISTS idx_seasons_single_active ON seasons(is_active) WHERE is_active;

CREATE TABLE IF NOT EXISTS episodes (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    title VARCHAR(100) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(season_id, ordinal),
    CONSTRAINT valid_ordinal CHECK (ordinal > 0)
);

CREATE INDEX IF NOT EXISTS idx_episodes_season ON episodes(season_id, ordinal);

CREATE TABLE IF NOT EXISTS task_definitions (
    id VARCHAR(100) PRIMARY KEY,
    episode_id UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    pillar VARCHAR(10) NOT NULL,
    slot_index INTEGER NOT NULL,
    title VARCHAR(255) NOT NULL,
    default_points INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_pillar CHECK (pillar IN ('CLT', 'SCD', 'CFC', 'IIPC', 'SRI')),
    CONSTRAINT valid_slot_index CHECK (slot_index > 0),
    CONSTRAINT valid_default_points CHECK (default_points >= 0 AND default_points <= 1500)
);

CREATE INDEX IF NOT EXISTS idx_task_definitions_episode ON task_definitions(episode_id);
CREATE INDEX IF NOT EXISTS idx_task_definitions_pillar ON task_definitions(pillar, slot_index);

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_seasons_updated_at ON seasons;
CREATE TRIGGER update_seasons_updated_at
    BEFORE UPDATE ON seasons
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration001Down = `
DROP TRIGGER IF EXISTS update_seasons_updated_at ON seasons;
DROP FUNCTION IF EXISTS update_updated_at_column();
DROP TABLE IF EXISTS task_definitions;
DROP TABLE IF EXISTS episodes;
DROP TABLE IF EXISTS seasons;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PROGRESSION AND SCORING
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create completion ledger and scoring tables
-- Version: 002
-- The UNIQUE key on task_completions is the serialization point for
-- concurrent approvals: the repository inserts with ON CONFLICT DO NOTHING
-- and only the first writer ever lands a row.

CREATE TABLE IF NOT EXISTS task_completions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id UUID NOT NULL,
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    episode_id UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    task_definition_id VARCHAR(100) NOT NULL REFERENCES task_definitions(id) ON DELETE CASCADE,
    pillar VARCHAR(10) NOT NULL,
    slot_index INTEGER NOT NULL,
    source_submission_id UUID,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(student_id, episode_id, task_definition_id),
    CONSTRAINT valid_completion_pillar CHECK (pillar IN ('CLT', 'SCD', 'CFC', 'IIPC', 'SRI'))
);

CREATE INDEX IF NOT EXISTS idx_completions_student_season ON task_completions(student_id, season_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_completions_pillar ON task_completions(student_id, season_id, pillar);
CREATE INDEX IF NOT EXISTS idx_completions_episode ON task_completions(student_id, episode_id);

CREATE TABLE IF NOT EXISTS student_episode_progress (
    student_id UUID NOT NULL,
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    episode_id UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'locked',
    completion_percent INTEGER NOT NULL DEFAULT 0,
    completed_tasks INTEGER NOT NULL DEFAULT 0,
    total_tasks INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY(student_id, episode_id),
    CONSTRAINT valid_progress_status CHECK (status IN ('locked', 'unlocked', 'in_progress', 'completed')),
    CONSTRAINT valid_percent CHECK (completion_percent >= 0 AND completion_percent <= 100)
);

CREATE INDEX IF NOT EXISTS idx_progress_student_season ON student_episode_progress(student_id, season_id, ordinal);

CREATE TABLE IF NOT EXISTS season_scores (
    student_id UUID NOT NULL,
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    subtotals JSONB NOT NULL DEFAULT '{}'::jsonb,
    total INTEGER NOT NULL DEFAULT 0,
    finalized BOOLEAN NOT NULL DEFAULT FALSE,
    last_scored_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY(student_id, season_id),
    CONSTRAINT valid_total CHECK (total >= 0 AND total <= 1500)
);

CREATE INDEX IF NOT EXISTS idx_scores_season_total ON season_scores(season_id, total DESC);

CREATE TABLE IF NOT EXISTS score_history (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id UUID NOT NULL,
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    pillar VARCHAR(10) NOT NULL,
    old_total INTEGER NOT NULL,
    new_total INTEGER NOT NULL,
    delta INTEGER NOT NULL,
    reason VARCHAR(30) NOT NULL,
    submission_id UUID,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_score_history_student ON score_history(student_id, season_id, created_at);

CREATE TABLE IF NOT EXISTS season_finalizations (
    student_id UUID NOT NULL,
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    finalized_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY(student_id, season_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS season_finalizations;
DROP TABLE IF EXISTS score_history;
DROP TABLE IF EXISTS season_scores;
DROP TABLE IF EXISTS student_episode_progress;
DROP TABLE IF EXISTS task_completions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE REVIEW AND LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create review and leaderboard snapshot tables
-- Version: 003
-- Submissions hold the mentor review state machine. Leaderboard snapshots
-- store entries as JSONB: the board is derived state, read back wholesale for
-- rank-delta computation and never queried row by row.

CREATE TABLE IF NOT EXISTS submissions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id UUID NOT NULL,
    pillar VARCHAR(10) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    reviewer_id VARCHAR(100) NOT NULL DEFAULT '',
    reviewer_comment TEXT NOT NULL DEFAULT '',
    mentor_points INTEGER,
    reviewed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_submission_pillar CHECK (pillar IN ('CLT', 'SCD', 'CFC', 'IIPC', 'SRI')),
    CONSTRAINT valid_submission_status CHECK (status IN ('pending', 'approved', 'rejected', 'resubmit')),
    CONSTRAINT valid_mentor_points CHECK (mentor_points IS NULL OR (mentor_points >= 0 AND mentor_points <= 1500))
);

CREATE INDEX IF NOT EXISTS idx_submissions_student ON submissions(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status, created_at) WHERE status = 'pending';

DROP TRIGGER IF EXISTS update_submissions_updated_at ON submissions;
CREATE TRIGGER update_submissions_updated_at
    BEFORE UPDATE ON submissions
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();

CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    season_id UUID NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
    entries JSONB NOT NULL DEFAULT '[]'::jsonb,
    total_students INTEGER NOT NULL DEFAULT 0,
    average_score INTEGER NOT NULL DEFAULT 0,
    top_score INTEGER NOT NULL DEFAULT 0,
    taken_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_season_taken ON leaderboard_snapshots(season_id, taken_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS leaderboard_snapshots;
DROP TRIGGER IF EXISTS update_submissions_updated_at ON submissions;
DROP TABLE IF EXISTS submissions;
`
