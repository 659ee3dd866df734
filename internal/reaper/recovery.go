package reaper

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	"github.com/gsd-tools/review-broker/internal/store"
)

// RunStartupRecovery implements spec §4.5.5, run once after schema ensure
// and pool init, before the periodic pass is scheduled.
func (r *Reaper) RunStartupRecovery(ctx context.Context) error {
	if err := r.terminateStaleReviewers(ctx); err != nil {
		return err
	}
	if err := r.ownershipSweep(ctx); err != nil {
		return err
	}
	return r.reactiveScale(ctx)
}

// terminateStaleReviewers marks every active/draining reviewer from a prior
// broker instance as terminated; their processes died with that instance
// (spec §4.5.5 step 1).
func (r *Reaper) terminateStaleReviewers(ctx context.Context) error {
	sessionToken := ""
	if r.pool != nil {
		sessionToken = r.pool.SessionToken()
	}
	stale, err := r.store.ListStaleReviewers(ctx, sessionToken)
	if err != nil {
		return err
	}
	for _, rv := range stale {
		rv.Status = domain.ReviewerTerminated
		if err := r.store.UpdateReviewer(ctx, rv); err != nil {
			return err
		}
	}
	return nil
}

// ownershipSweep reclaims any claimed review whose claimed_by is absent or
// is not an active/draining reviewer in the current session (spec §4.5.5
// step 2).
func (r *Reaper) ownershipSweep(ctx context.Context) error {
	sessionToken := ""
	if r.pool != nil {
		sessionToken = r.pool.SessionToken()
	}
	current, err := r.store.ListActiveReviewersForSession(ctx, sessionToken)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(current))
	for _, rv := range current {
		live[rv.ID] = true
	}

	claimedStatus := domain.StatusClaimed
	claimed, err := r.store.ListReviews(ctx, store.ListReviewsFilter{Status: &claimedStatus})
	if err != nil {
		return err
	}
	for _, rv := range claimed {
		if rv.ClaimedBy != nil && live[*rv.ClaimedBy] {
			continue
		}
		if err := r.ops.ReclaimReview(ctx, rv.ID, "ownership_sweep"); err != nil {
			return err
		}
	}
	return nil
}
