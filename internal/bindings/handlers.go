package bindings

import (
	"context"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/operations"
)

func createReviewHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		in := operations.CreateReviewInput{
			ReviewID:           strPtrField(input, "review_id"),
			Intent:             strField(input, "intent"),
			AgentType:          strField(input, "agent_type"),
			AgentRole:          domain.AgentRole(strField(input, "agent_role")),
			Phase:              strField(input, "phase"),
			Plan:               strPtrField(input, "plan"),
			Task:               strPtrField(input, "task"),
			Project:            strPtrField(input, "project"),
			Description:        strPtrField(input, "description"),
			Diff:               strPtrField(input, "diff"),
			Category:           strPtrField(input, "category"),
			SkipDiffValidation: boolField(input, "skip_diff_validation"),
		}
		return ops.CreateReview(ctx, in)
	}
}

func listReviewsHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		in := operations.ListReviewsInput{
			Status:      statusPtrField(input, "status"),
			Category:    strPtrField(input, "category"),
			Project:     strPtrField(input, "project"),
			Projects:    strSliceField(input, "projects"),
			Wait:        boolField(input, "wait"),
			WaitTimeout: waitTimeoutField(input, "wait_timeout_seconds"),
		}
		return ops.ListReviews(ctx, in)
	}
}

func claimReviewHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		reviewID := strField(input, "review_id")
		reviewerID := strField(input, "reviewer_id")
		if reviewID == "" || reviewerID == "" {
			return nil, brokererrors.InvalidInput("review_id/reviewer_id", "both are required")
		}
		return ops.ClaimReview(ctx, reviewID, reviewerID)
	}
}

func submitVerdictHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		in := operations.SubmitVerdictInput{
			ReviewID:        strField(input, "review_id"),
			Verdict:         domain.Verdict(strField(input, "verdict")),
			Reason:          strPtrField(input, "reason"),
			ReviewerID:      strPtrField(input, "reviewer_id"),
			ClaimGeneration: int64PtrField(input, "claim_generation"),
			CounterPatch:    strPtrField(input, "counter_patch"),
		}
		return ops.SubmitVerdict(ctx, in)
	}
}

func acceptCounterPatchHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.AcceptCounterPatch(ctx, strField(input, "review_id"))
	}
}

func rejectCounterPatchHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.RejectCounterPatch(ctx, strField(input, "review_id"))
	}
}

func addMessageHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.AddMessage(ctx, strField(input, "review_id"), domain.AgentRole(strField(input, "sender_role")),
			strField(input, "body"), metadataField(input, "metadata"))
	}
}

func getDiscussionHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.GetDiscussion(ctx, strField(input, "review_id"), intPtrField(input, "round"))
	}
}

func closeReviewHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.CloseReview(ctx, strField(input, "review_id"), domain.AgentRole(strField(input, "closer_role")))
	}
}

func getReviewStatusHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.GetReviewStatus(ctx, strField(input, "review_id"), boolField(input, "wait"),
			waitTimeoutField(input, "wait_timeout_seconds"))
	}
}

func getProposalHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.GetProposal(ctx, strField(input, "review_id"))
	}
}

func getActivityFeedHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.GetActivityFeed(ctx, statusPtrField(input, "status"), strPtrField(input, "category"),
			strPtrField(input, "project"))
	}
}

func getReviewTimelineHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.GetReviewTimeline(ctx, strField(input, "review_id"))
	}
}

func getAuditLogHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.GetAuditLog(ctx, strPtrField(input, "review_id"))
	}
}

func getReviewStatsHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		return ops.GetReviewStats(ctx)
	}
}

func spawnReviewerHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return ops.SpawnReviewer(ctx, strPtrField(input, "project"))
	}
}

func killReviewerHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		reviewerID := strField(input, "reviewer_id")
		if reviewerID == "" {
			return nil, brokererrors.InvalidInput("reviewer_id", "required")
		}
		return ops.KillReviewer(ctx, reviewerID, strField(input, "reason"))
	}
}

func listReviewersHandler(ops *operations.Operations) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		return ops.ListReviewers(ctx)
	}
}
