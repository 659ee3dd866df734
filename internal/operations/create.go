package operations

import (
	"context"
	"strings"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/statemachine"
)

// CreateReviewInput carries create_review/revise's combined input shape
// per spec §4.3.2; ReviewID non-nil selects revise mode.
type CreateReviewInput struct {
	ReviewID           *string
	Intent             string
	AgentType          string
	AgentRole          domain.AgentRole
	Phase              string
	Plan               *string
	Task               *string
	Project            *string
	Description        *string
	Diff               *string
	Category           *string
	SkipDiffValidation bool
}

// CreateReview implements create_review and revise (spec §4.3.2).
func (o *Operations) CreateReview(ctx context.Context, in CreateReviewInput) (map[string]any, error) {
	if strings.TrimSpace(in.Intent) == "" {
		return nil, brokererrors.InvalidInput("intent", "must not be blank")
	}

	var affectedFiles []domain.AffectedFile
	if in.Diff != nil {
		if !in.SkipDiffValidation {
			ok, reason := o.validator.Validate(ctx, *in.Diff, o.repoRoot)
			if !ok {
				return nil, brokererrors.InvalidDiff(reason)
			}
		}
		affectedFiles = o.validator.ExtractAffectedFiles(*in.Diff)
	}

	if in.ReviewID != nil {
		return o.reviseReview(ctx, *in.ReviewID, in, affectedFiles)
	}
	return o.createReview(ctx, in, affectedFiles)
}

func (o *Operations) createReview(ctx context.Context, in CreateReviewInput, affectedFiles []domain.AffectedFile) (map[string]any, error) {
	priority := statemachine.InferPriority(in.AgentType, in.Phase)
	reviewID := o.newID()

	review := &domain.Review{
		ID:                 reviewID,
		Status:             domain.StatusPending,
		Intent:             in.Intent,
		Description:        in.Description,
		Diff:               in.Diff,
		AffectedFiles:      affectedFiles,
		AgentType:          in.AgentType,
		AgentRole:          in.AgentRole,
		Phase:              in.Phase,
		Plan:               in.Plan,
		Task:               in.Task,
		Project:            in.Project,
		Priority:           priority,
		Category:           in.Category,
		CurrentRound:       1,
		ClaimGeneration:    0,
		SkipDiffValidation: in.SkipDiffValidation,
	}

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		if err := o.store.InsertReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventReviewCreated,
			NewStatus: statusPtr(domain.StatusPending),
			Metadata:  map[string]any{"intent": in.Intent, "category": strOrNil(in.Category)},
		})
	})
	if err != nil {
		return nil, err
	}

	o.bus.Notify(reviewID)
	o.bus.Notify(notifyQueueTopic)
	o.triggerScaling(ctx)

	return map[string]any{"review_id": reviewID, "status": string(domain.StatusPending)}, nil
}

func (o *Operations) reviseReview(ctx context.Context, reviewID string, in CreateReviewInput, affectedFiles []domain.AffectedFile) (map[string]any, error) {
	var formerClaimedBy *string

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if review.Status != domain.StatusChangesRequested {
			return brokererrors.InvalidTransition(string(review.Status), string(domain.StatusPending)).
				WithDetail("reason", "revise requires status=changes_requested")
		}

		oldStatus := review.Status
		formerClaimedBy = review.ClaimedBy

		review.Status = domain.StatusPending
		review.CurrentRound++
		review.CounterPatch = nil
		review.CounterPatchAffectedFiles = nil
		review.CounterPatchStatus = nil
		review.ClaimedBy = nil
		review.ClaimedAt = nil
		review.VerdictReason = nil
		review.Intent = in.Intent
		review.Description = in.Description
		review.Diff = in.Diff
		review.AffectedFiles = affectedFiles
		review.SkipDiffValidation = in.SkipDiffValidation

		if err := o.store.UpdateReview(ctx, review); err != nil {
			return err
		}
		return o.store.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventReviewRevised,
			OldStatus: statusPtr(oldStatus),
			NewStatus: statusPtr(domain.StatusPending),
		})
	})
	if err != nil {
		return nil, err
	}

	o.finalizeIfDraining(ctx, formerClaimedBy)
	o.bus.Notify(reviewID)
	o.bus.Notify(notifyQueueTopic)
	o.triggerScaling(ctx)

	return map[string]any{"review_id": reviewID, "status": string(domain.StatusPending), "revised": true}, nil
}

func statusPtr(s domain.ReviewStatus) *string {
	v := string(s)
	return &v
}
