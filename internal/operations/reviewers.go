package operations

import (
	"context"

	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// SpawnReviewer implements spawn_reviewer (spec §6.1): a thin wrapper over
// the pool, exposed as an operation for manual/administrative scaling.
func (o *Operations) SpawnReviewer(ctx context.Context, project *string) (map[string]any, error) {
	if o.pool == nil {
		return nil, brokererrors.Forbidden("reviewer pool is not configured")
	}
	reviewer, err := o.pool.SpawnReviewer(ctx, project, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reviewer_id": reviewer.ID}, nil
}

// KillReviewer implements kill_reviewer (spec §6.1): drains in-flight
// reviews before terminating, same as the reaper's own drain path.
func (o *Operations) KillReviewer(ctx context.Context, reviewerID, reason string) (map[string]any, error) {
	if o.pool == nil {
		return nil, brokererrors.Forbidden("reviewer pool is not configured")
	}
	if err := o.pool.DrainReviewer(ctx, reviewerID, reason); err != nil {
		return nil, err
	}
	return map[string]any{"reviewer_id": reviewerID, "draining": true}, nil
}

// ListReviewers implements list_reviewers (spec §6.1).
func (o *Operations) ListReviewers(ctx context.Context) (map[string]any, error) {
	reviewers, err := o.store.ListReviewers(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, 0, len(reviewers))
	for _, r := range reviewers {
		docs = append(docs, map[string]any{
			"id": r.ID, "status": string(r.Status), "reviews_completed": r.ReviewsCompleted,
			"approvals": r.Approvals, "rejections": r.Rejections,
			"total_review_seconds": r.TotalReviewSeconds, "spawned_at": isoOrNil(&r.SpawnedAt),
			"last_active_at": isoOrNil(&r.LastActiveAt),
		})
	}
	return map[string]any{"reviewers": docs, "count": len(docs)}, nil
}
