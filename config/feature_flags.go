package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Feature flag names. Each maps to an env var of the form
// FEATURE_<NAME> with dots replaced by underscores, accepting a boolean
// or a rollout percentage: FEATURE_LEADERBOARD_MEDALS=false,
// FEATURE_EXPERIMENTAL_RANK_EVENTS=25.
const (
	// Leaderboard decorations.
	FeatureLeaderboardRankChange = "leaderboard.rank_change"
	FeatureLeaderboardBuckets    = "leaderboard.buckets"
	FeatureLeaderboardMedals     = "leaderboard.medals"

	// Review workflow.
	FeatureReviewMentorPoints = "review.mentor_points"
	FeatureReviewResubmission = "review.resubmission"

	// Streak crediting.
	FeatureStreakDailyCredit    = "streak.daily_credit"
	FeatureStreakManualBackfill = "streak.manual_backfill"

	// Experiments, off by default.
	FeatureExperimentalRankEvents = "experimental.rank_events"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle with an optional gradual rollout.
type Feature struct {
	Name           string
	Description    string
	Enabled        bool
	RolloutPercent int
}

// FeatureFlags holds the toggles the binaries consult at startup and, for
// per-student rollouts, per request.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// LoadFeatureFlags builds the default flag set and applies env overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}

	defaults := []Feature{
		{FeatureLeaderboardRankChange, "show rank movement since the previous snapshot", true, 100},
		{FeatureLeaderboardBuckets, "show percentile bucket labels below the podium", true, 100},
		{FeatureLeaderboardMedals, "show podium medals", true, 100},
		{FeatureReviewMentorPoints, "allow mentors to override slot points on approval", true, 100},
		{FeatureReviewResubmission, "send submissions back for rework instead of rejecting", true, 100},
		{FeatureStreakDailyCredit, "credit streak days from the activity feed", true, 100},
		{FeatureStreakManualBackfill, "allow manual streak backfill through the admin API", true, 100},
		{FeatureExperimentalRankEvents, "publish a rank event per moved student on rebuild", false, 0},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}

	for name, feature := range ff.features {
		val := os.Getenv(envKeyFor(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}

	return ff
}

// envKeyFor maps "streak.daily_credit" to "FEATURE_STREAK_DAILY_CREDIT".
func envKeyFor(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// IsEnabled reports whether a feature is on for the given student. Unknown
// names are off. With an empty student ID any nonzero rollout counts as on,
// which is what the startup wiring wants.
func (ff *FeatureFlags) IsEnabled(name, studentID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[name]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if studentID == "" {
		return feature.RolloutPercent > 0
	}
	return rolloutBucket(name, studentID) < feature.RolloutPercent
}

// rolloutBucket hashes student and feature together so each student lands in
// a stable 0-99 bucket per feature.
func rolloutBucket(name, studentID string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(studentID))
	return int(h.Sum32() % 100)
}

// SetRolloutPercent changes a feature's rollout at runtime.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// All returns a snapshot of every feature, for diagnostics.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	return out
}
