package operations

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// ReclaimReview implements the internal reclaim_review operation (spec
// §4.3.8), used by the claim-timeout reaper and the dead-process reaper.
func (o *Operations) ReclaimReview(ctx context.Context, reviewID, reason string) error {
	var formerClaimedBy *string

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if review.Status != domain.StatusClaimed {
			return brokererrors.InvalidTransition(string(review.Status), string(domain.StatusPending))
		}

		formerClaimedBy = review.ClaimedBy
		review.Status = domain.StatusPending
		review.ClaimedBy = nil
		review.ClaimedAt = nil
		review.ClaimGeneration++

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventReviewReclaimed,
			OldStatus: statusPtr(domain.StatusClaimed),
			NewStatus: statusPtr(domain.StatusPending),
			Metadata:  map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return err
	}

	o.bus.Notify(reviewID)
	o.bus.Notify(notifyQueueTopic)
	o.finalizeIfDraining(ctx, formerClaimedBy)
	return nil
}

// DetachReview clears claimed_by/claimed_at without reclaiming status,
// used by the dead-process reaper for reviews not in status=claimed
// (spec §4.5.4 rule 5).
func (o *Operations) DetachReview(ctx context.Context, reviewID string) error {
	var wasPending bool

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		review.ClaimedBy = nil
		review.ClaimedAt = nil
		wasPending = review.Status == domain.StatusPending

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventReviewDetached,
		})
	})
	if err != nil {
		return err
	}

	if wasPending {
		o.bus.Notify(notifyQueueTopic)
	}
	return nil
}
