package reaper

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/gsd-tools/review-broker/internal/domain"
)

// reactiveScale implements spec §4.5.4 pass 1, delegating to the pool's own
// §4.5.2 algorithm. A no-op when the pool is disabled.
func (r *Reaper) reactiveScale(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.ReactiveScale(ctx)
}

// idleTimeoutPass drains active reviewers that have been idle (no open
// reviews, last_active_at stale) past idle_timeout_seconds (spec §4.5.4
// pass 2).
func (r *Reaper) idleTimeoutPass(ctx context.Context) error {
	if r.pool == nil || r.idleTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-r.idleTimeout)
	reviewers, err := r.store.ListIdleReviewers(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, rv := range reviewers {
		open, err := r.store.CountOpenReviewsForReviewer(ctx, rv.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			continue
		}
		if err := r.pool.DrainReviewer(ctx, rv.ID, "idle"); err != nil {
			return err
		}
	}
	return nil
}

// ttlExpiryPass drains active reviewers whose spawned_at predates
// max_ttl_seconds with no open reviews (spec §4.5.4 pass 3).
func (r *Reaper) ttlExpiryPass(ctx context.Context) error {
	if r.pool == nil || r.maxTTL <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-r.maxTTL)
	reviewers, err := r.store.ListExpiredReviewers(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, rv := range reviewers {
		open, err := r.store.CountOpenReviewsForReviewer(ctx, rv.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			continue
		}
		if err := r.pool.DrainReviewer(ctx, rv.ID, "ttl"); err != nil {
			return err
		}
	}
	return nil
}

// claimTimeoutPass reclaims reviews whose effective claim instant predates
// claim_timeout_seconds (spec §4.5.4 pass 4). Applies even when the pool is
// disabled: a human reviewer can hold a stale claim too.
func (r *Reaper) claimTimeoutPass(ctx context.Context) error {
	if r.claimTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-r.claimTimeout)
	reviews, err := r.store.ListTimedOutClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, rv := range reviews {
		if err := r.ops.ReclaimReview(ctx, rv.ID, "claim_timeout"); err != nil {
			return err
		}
	}
	return nil
}

// deadProcessPass implements spec §4.5.4 pass 5: for each tracked
// subprocess whose exit code is recorded, detach or reclaim its open
// reviews, then terminate the reviewer if nothing remains attached.
// gopsutil's process.PidExists is consulted as a secondary liveness signal
// so a reviewer whose tracked handle was lost (e.g. across a broker
// restart within the same session) is still caught if its OS process is
// actually gone.
func (r *Reaper) deadProcessPass(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	for _, reviewerID := range r.pool.ExitedReviewerIDs() {
		if err := r.sweepDeadReviewer(ctx, reviewerID); err != nil {
			return err
		}
	}

	reviewers, err := r.store.ListActiveReviewersForSession(ctx, r.pool.SessionToken())
	if err != nil {
		return err
	}
	for _, rv := range reviewers {
		if rv.Pid == nil || r.pool.IsProcessLive(rv.ID) {
			continue
		}
		alive, _ := process.PidExists(int32(*rv.Pid))
		if alive {
			continue
		}
		if err := r.sweepDeadReviewer(ctx, rv.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reaper) sweepDeadReviewer(ctx context.Context, reviewerID string) error {
	open, err := r.store.ListClaimedReviewsForReviewer(ctx, reviewerID)
	if err != nil {
		return err
	}
	for _, rv := range open {
		if rv.Status == domain.StatusClaimed {
			if err := r.ops.ReclaimReview(ctx, rv.ID, "dead_process"); err != nil {
				return err
			}
			continue
		}
		if err := r.ops.DetachReview(ctx, rv.ID); err != nil {
			return err
		}
	}

	remaining, err := r.store.CountOpenReviewsForReviewer(ctx, reviewerID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		reviewer, err := r.store.GetReviewer(ctx, reviewerID)
		if err != nil {
			return err
		}
		reviewer.Status = domain.ReviewerDraining
		return r.store.UpdateReviewer(ctx, reviewer)
	}
	return r.pool.TerminateReviewer(ctx, reviewerID)
}
