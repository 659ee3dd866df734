package operations

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

var messageableStatuses = map[domain.ReviewStatus]bool{
	domain.StatusClaimed:          true,
	domain.StatusChangesRequested: true,
	domain.StatusApproved:         true,
}

func oppositeRole(r domain.AgentRole) domain.AgentRole {
	if r == domain.RoleProposer {
		return domain.RoleReviewer
	}
	return domain.RoleProposer
}

// AddMessage implements add_message (spec §4.3.7): turn alternation,
// round binding, and the proposer-follow-up reservation rule.
func (o *Operations) AddMessage(ctx context.Context, reviewID string, senderRole domain.AgentRole, body string, metadata map[string]any) (map[string]any, error) {
	var result map[string]any
	var reservationTripped bool

	err := o.store.WithWriteTx(ctx, func(ctx context.Context) error {
		review, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if !messageableStatuses[review.Status] {
			return brokererrors.NotAllowedInState(string(review.Status))
		}

		last, err := o.store.LastMessage(ctx, reviewID)
		if err != nil {
			return err
		}
		if last != nil && last.SenderRole == senderRole {
			return brokererrors.TurnViolation(string(oppositeRole(senderRole)))
		}

		msg := &domain.Message{
			ReviewID:   reviewID,
			SenderRole: senderRole,
			Round:      review.CurrentRound,
			Body:       body,
			Metadata:   metadata,
		}
		if err := o.store.InsertMessage(ctx, msg); err != nil {
			return err
		}

		event := &domain.AuditEvent{
			ReviewID:  &reviewID,
			EventType: domain.EventMessageSent,
			Actor:     rolePtr(senderRole),
		}

		if senderRole == domain.RoleProposer && review.Status == domain.StatusChangesRequested {
			event.OldStatus = statusPtr(review.Status)
			review.Status = domain.StatusPending
			review.ClaimedAt = nil // claimed_by retained as a soft reservation
			event.NewStatus = statusPtr(review.Status)
			if err := o.store.UpdateReview(ctx, review); err != nil {
				return err
			}
			reservationTripped = true
		}

		if err := o.store.RecordEvent(ctx, event); err != nil {
			return err
		}

		result = map[string]any{"message_id": msg.ID, "review_id": reviewID, "round": msg.Round}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.bus.Notify(reviewID)
	if reservationTripped {
		o.bus.Notify(notifyQueueTopic)
		o.triggerScaling(ctx)
	}
	return result, nil
}

func rolePtr(r domain.AgentRole) *string {
	v := string(r)
	return &v
}
