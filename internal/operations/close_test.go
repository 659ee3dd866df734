package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

func TestCloseReview_ProposerCanCloseApprovedReview(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperations(t)

	created, err := ops.CreateReview(ctx, CreateReviewInput{
		Intent:    "fix the bug",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	reviewID := created["review_id"].(string)

	_, err = ops.ClaimReview(ctx, reviewID, "reviewer-1")
	require.NoError(t, err)
	_, err = ops.SubmitVerdict(ctx, SubmitVerdictInput{
		ReviewID:   reviewID,
		Verdict:    domain.VerdictApproved,
		ReviewerID: strPtr("reviewer-1"),
	})
	require.NoError(t, err)

	out, err := ops.CloseReview(ctx, reviewID, domain.RoleProposer)
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusClosed), out["status"])

	review, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, review.Status)
}

func TestCloseReview_ReviewerCannotClose(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperations(t)

	created, err := ops.CreateReview(ctx, CreateReviewInput{
		Intent:    "fix the bug",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	reviewID := created["review_id"].(string)

	_, err = ops.CloseReview(ctx, reviewID, domain.RoleReviewer)
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeForbidden, be.Code)
}

func TestCloseReview_RejectsInvalidTransitionFromPending(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperations(t)

	created, err := ops.CreateReview(ctx, CreateReviewInput{
		Intent:    "fix the bug",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	reviewID := created["review_id"].(string)

	_, err = ops.CloseReview(ctx, reviewID, domain.RoleProposer)
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeInvalidTransition, be.Code)
}
