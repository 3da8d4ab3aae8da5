package progression

import (
	"context"
	"fmt"

	"github.com/pillarworks/progression-engine/internal/domain/catalog"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK RESOLVER
//
// Given a pillar and a student's ledger history, the resolver decides which
// task slot a new approval applies to. The slot is the prior-approved count
// (0-indexed) into the pillar's ordered slot list across the season, in
// increasing episode-ordinal order. The count is derived from completion rows,
// never from raw submission counts, so re-resolving is always consistent.
//
// SCD ("streak") resolves differently: the task recurs in every episode, so
// the resolver returns the current episode's streak task - the earliest one
// the student has not yet completed.
// ══════════════════════════════════════════════════════════════════════════════

// Resolver maps approvals to task slots.
type Resolver struct {
	repo Repository
}

// NewResolver creates a new Resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveTask determines the (episode, task definition) a new approval for the
// pillar applies to.
//
// Failure modes callers must absorb as idempotent no-ops, never user-facing
// errors:
//   - ErrAlreadyComplete: the pillar has exactly one slot in the season and
//     the student already holds it.
//   - ErrNoMoreSlots: the prior-approved count meets or exceeds the pillar's
//     slot count for the season.
func (r *Resolver) ResolveTask(ctx context.Context, cat *catalog.SeasonCatalog, studentID shared.StudentID, pillar shared.Pillar) (*ResolvedTask, error) {
	if !pillar.IsValid() {
		return nil, shared.ErrInvalidPillar
	}
	if studentID.IsEmpty() {
		return nil, shared.NewDomainError("progression", "ResolveTask", shared.ErrInvalidID, "student ID is required")
	}

	if pillar.IsStreak() {
		return r.resolveStreak(ctx, cat, studentID)
	}

	slots := cat.PillarSlots(pillar)
	if len(slots) == 0 {
		return nil, shared.WrapError("progression", "ResolveTask", shared.ErrNotFound,
			fmt.Sprintf("season %s has no %s task slots", cat.Season.ID, pillar), nil)
	}

	prior, err := r.repo.CountByPillar(ctx, studentID, cat.Season.ID, pillar)
	if err != nil {
		return nil, fmt.Errorf("resolve task: count prior approvals: %w", err)
	}

	if prior >= len(slots) {
		if len(slots) == 1 {
			return nil, shared.ErrAlreadyComplete
		}
		return nil, shared.ErrNoMoreSlots
	}

	slot := slots[prior]
	return &ResolvedTask{
		Episode:       slot.Episode,
		Task:          slot.Task,
		PriorApproved: prior,
	}, nil
}

// resolveStreak returns the streak task of the earliest episode whose streak
// slot the student has not completed. Streak input comes from an external
// daily process and is resettable, so ordering by approval count would be
// wrong here.
func (r *Resolver) resolveStreak(ctx context.Context, cat *catalog.SeasonCatalog, studentID shared.StudentID) (*ResolvedTask, error) {
	slots := cat.PillarSlots(shared.PillarSCD)
	if len(slots) == 0 {
		return nil, shared.WrapError("progression", "ResolveTask", shared.ErrNotFound,
			fmt.Sprintf("season %s has no streak task slots", cat.Season.ID), nil)
	}

	done := 0
	for _, slot := range slots {
		completed, err := r.repo.HasCompletion(ctx, studentID, slot.Episode.ID, slot.Task.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve streak: check completion: %w", err)
		}
		if !completed {
			return &ResolvedTask{
				Episode:       slot.Episode,
				Task:          slot.Task,
				PriorApproved: done,
			}, nil
		}
		done++
	}
	return nil, shared.ErrNoMoreSlots
}
