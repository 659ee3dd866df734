package operations

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/pool"
	"github.com/gsd-tools/review-broker/internal/statemachine"
)

// SubmitVerdictInput is submit_verdict's combined input shape (spec
// §4.3.4).
type SubmitVerdictInput struct {
	ReviewID        string
	Verdict         domain.Verdict
	Reason          *string
	ReviewerID      *string
	ClaimGeneration *int64
	CounterPatch    *string
}

// SubmitVerdict implements submit_verdict, including fencing, optional
// counter-patch validation, and pool statistics bookkeeping.
func (o *Operations) SubmitVerdict(ctx context.Context, in SubmitVerdictInput) (map[string]any, error) {
	switch in.Verdict {
	case domain.VerdictApproved, domain.VerdictChangesRequested, domain.VerdictComment:
	default:
		return nil, brokererrors.InvalidInput("verdict", "must be one of approved, changes_requested, comment")
	}
	if (in.Verdict == domain.VerdictChangesRequested || in.Verdict == domain.VerdictComment) && !nonWhitespace(in.Reason) {
		return nil, brokererrors.InvalidInput("reason", "required and non-blank for changes_requested/comment")
	}
	if in.CounterPatch != nil && in.Verdict == domain.VerdictApproved {
		return nil, brokererrors.InvalidInput("counter_patch", "not allowed with an approved verdict")
	}

	result := make(map[string]any)
	var claimedBy *string

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, in.ReviewID)
		if err != nil {
			return err
		}

		if review.Status == domain.StatusClaimed {
			if in.ReviewerID == nil && in.ClaimGeneration == nil {
				return brokererrors.Unauthorized("reviewer_id or claim_generation required to submit a verdict on a claimed review")
			}
			if in.ClaimGeneration != nil && *in.ClaimGeneration != review.ClaimGeneration {
				return brokererrors.StaleClaim(review.ClaimGeneration, *in.ClaimGeneration)
			}
			if in.ReviewerID != nil && (review.ClaimedBy == nil || *in.ReviewerID != *review.ClaimedBy) {
				return brokererrors.Unauthorized("reviewer_id does not match the review's claimed_by")
			}
		}

		if in.CounterPatch != nil {
			ok, reason := o.validator.Validate(ctx, *in.CounterPatch, o.repoRoot)
			if !ok {
				return brokererrors.InvalidCounterPatch(reason)
			}
			affected := o.validator.ExtractAffectedFiles(*in.CounterPatch)
			pending := domain.CounterPatchPending
			review.CounterPatch = in.CounterPatch
			review.CounterPatchAffectedFiles = affected
			review.CounterPatchStatus = &pending
		}

		oldStatus := review.Status
		eventType := domain.EventVerdictSubmitted
		switch in.Verdict {
		case domain.VerdictApproved:
			if err := statemachine.Validate(review.Status, domain.StatusApproved); err != nil {
				return err
			}
			review.Status = domain.StatusApproved
		case domain.VerdictChangesRequested:
			if err := statemachine.Validate(review.Status, domain.StatusChangesRequested); err != nil {
				return err
			}
			review.Status = domain.StatusChangesRequested
		case domain.VerdictComment:
			eventType = domain.EventVerdictComment
		}
		review.VerdictReason = in.Reason
		claimedBy = review.ClaimedBy

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}

		event := &domain.AuditEvent{
			ReviewID:  &in.ReviewID,
			EventType: eventType,
			OldStatus: statusPtr(oldStatus),
		}
		if review.Status != oldStatus {
			event.NewStatus = statusPtr(review.Status)
		}
		if in.ReviewerID != nil {
			event.Actor = in.ReviewerID
		} else {
			event.Actor = review.ClaimedBy
		}
		if err := o.store.RecordEvent(ctx, event); err != nil {
			return err
		}

		if review.Status != domain.StatusClaimed && claimedBy != nil {
			if err := pool.UpdateReviewerStats(ctx, o.store, *claimedBy, in.Verdict, review.ClaimedAt); err != nil && o.log != nil {
				o.log.WithReviewer(*claimedBy).WithField("error", err.Error()).Warn("failed to update reviewer stats")
			}
		}

		result["review_id"] = in.ReviewID
		result["status"] = string(review.Status)
		result["verdict_reason"] = strOrNil(review.VerdictReason)
		result["has_counter_patch"] = review.CounterPatch != nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if in.Verdict == domain.VerdictApproved || in.Verdict == domain.VerdictChangesRequested {
		o.finalizeIfDraining(ctx, claimedBy)
	}
	o.bus.Notify(in.ReviewID)
	return result, nil
}
