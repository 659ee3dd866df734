package operations

import (
	"context"
	"fmt"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/statemachine"
)

// ClaimReview implements claim_review (spec §4.3.3), including reservation
// handling and diff-validator auto-reject.
func (o *Operations) ClaimReview(ctx context.Context, reviewID, reviewerID string) (map[string]any, error) {
	result := make(map[string]any)

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}

		if reviewer, err := o.store.GetReviewer(ctx, reviewerID); err == nil {
			if reviewer.Status == domain.ReviewerDraining || reviewer.Status == domain.ReviewerTerminated {
				return brokererrors.Forbidden("reviewer is draining or terminated and may not claim new reviews")
			}
		}

		if review.Status == domain.StatusPending && review.ClaimedBy != nil {
			reserved := *review.ClaimedBy
			live := o.pool != nil && o.pool.IsProcessLive(reserved)
			if live && reserved != reviewerID {
				return brokererrors.ReservedForReviewer(reserved)
			}
			if !live {
				review.ClaimedBy = nil // stale reservation, cleared silently
			}
		}

		if err := statemachine.Validate(review.Status, domain.StatusClaimed); err != nil {
			return err
		}

		if review.Diff != nil && !review.SkipDiffValidation {
			ok, reason := o.validator.Validate(ctx, *review.Diff, o.repoRoot)
			if !ok {
				return o.autoReject(ctx, review, reason, result)
			}
		}

		oldStatus := review.Status
		review.Status = domain.StatusClaimed
		review.ClaimedBy = &reviewerID
		now := nowUTC()
		review.ClaimedAt = &now
		review.ClaimGeneration++

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		if err := o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventReviewClaimed,
			Actor:     &reviewerID,
			OldStatus: statusPtr(oldStatus),
			NewStatus: statusPtr(domain.StatusClaimed),
		}); err != nil {
			return err
		}

		result["review_id"] = reviewID
		result["status"] = string(review.Status)
		result["claimed_by"] = reviewerID
		result["claim_generation"] = review.ClaimGeneration
		result["intent"] = review.Intent
		result["description"] = strOrNil(review.Description)
		result["category"] = strOrNil(review.Category)
		result["has_diff"] = review.Diff != nil
		result["affected_files"] = affectedFilesDoc(review.AffectedFiles)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.bus.Notify(reviewID)
	return result, nil
}

// autoReject applies spec §4.3.3 step 5 inside the caller's write
// transaction and populates result with the auto-reject response shape.
func (o *Operations) autoReject(ctx context.Context, review *domain.Review, validationError string, result map[string]any) error {
	oldStatus := review.Status
	review.Status = domain.StatusChangesRequested
	reason := fmt.Sprintf("Auto-rejected: %s", validationError)
	review.VerdictReason = &reason
	claimant := domain.BrokerValidatorReviewer
	review.ClaimedBy = &claimant

	if err := o.store.UpdateReview(ctx, review); err != nil {
		return err
	}
	if err := o.store.RecordEvent(ctx, &domain.AuditEvent{
		ReviewID:  &review.ID,
		EventType: domain.EventReviewAutoRejected,
		Actor:     &claimant,
		OldStatus: statusPtr(oldStatus),
		NewStatus: statusPtr(domain.StatusChangesRequested),
		Metadata:  map[string]any{"validation_error": validationError},
	}); err != nil {
		return err
	}

	result["review_id"] = review.ID
	result["auto_rejected"] = true
	result["status"] = string(domain.StatusChangesRequested)
	result["validation_error"] = validationError
	result["category"] = strOrNil(review.Category)
	return nil
}
