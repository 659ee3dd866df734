package operations

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/statemachine"
)

// CloseReview implements close_review (spec §4.3.6): only the proposer
// may close.
func (o *Operations) CloseReview(ctx context.Context, reviewID string, closerRole domain.AgentRole) (map[string]any, error) {
	if closerRole != domain.RoleProposer {
		return nil, brokererrors.Forbidden("only the proposer may close a review")
	}

	var claimedBy *string
	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if err := statemachine.Validate(review.Status, domain.StatusClosed); err != nil {
			return err
		}

		oldStatus := review.Status
		claimedBy = review.ClaimedBy
		review.Status = domain.StatusClosed

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventReviewClosed,
			OldStatus: statusPtr(oldStatus),
			NewStatus: statusPtr(domain.StatusClosed),
		})
	})
	if err != nil {
		return nil, err
	}

	o.finalizeIfDraining(ctx, claimedBy)
	o.bus.Notify(reviewID)
	return map[string]any{"review_id": reviewID, "status": string(domain.StatusClosed)}, nil
}
