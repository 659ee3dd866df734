package operations

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// AcceptCounterPatch implements accept_counter_patch (spec §4.3.5): the
// patch is re-validated before acceptance; a now-invalid patch leaves all
// review state untouched (testable property 16).
func (o *Operations) AcceptCounterPatch(ctx context.Context, reviewID string) (map[string]any, error) {
	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if review.CounterPatchStatus == nil || *review.CounterPatchStatus != domain.CounterPatchPending {
			return brokererrors.InvalidCounterPatch("no pending counter-patch on this review")
		}

		ok, reason := o.validator.Validate(ctx, *review.CounterPatch, o.repoRoot)
		if !ok {
			return brokererrors.StaleCounterPatch(reason)
		}

		review.Diff = review.CounterPatch
		review.AffectedFiles = review.CounterPatchAffectedFiles
		review.CounterPatch = nil
		review.CounterPatchAffectedFiles = nil
		accepted := domain.CounterPatchAccepted
		review.CounterPatchStatus = &accepted

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventCounterPatchAccepted,
		})
	})
	if err != nil {
		return nil, err
	}

	o.bus.Notify(reviewID)
	return map[string]any{"counter_patch_status": string(domain.CounterPatchAccepted)}, nil
}

// RejectCounterPatch implements reject_counter_patch (spec §4.3.5).
func (o *Operations) RejectCounterPatch(ctx context.Context, reviewID string) (map[string]any, error) {
	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if review.CounterPatchStatus == nil || *review.CounterPatchStatus != domain.CounterPatchPending {
			return brokererrors.InvalidCounterPatch("no pending counter-patch on this review")
		}

		review.CounterPatch = nil
		review.CounterPatchAffectedFiles = nil
		rejected := domain.CounterPatchRejected
		review.CounterPatchStatus = &rejected

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventCounterPatchRejected,
		})
	})
	if err != nil {
		return nil, err
	}

	o.bus.Notify(reviewID)
	return map[string]any{"counter_patch_status": string(domain.CounterPatchRejected)}, nil
}
