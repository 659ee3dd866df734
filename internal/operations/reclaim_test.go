package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

func TestReclaimReview_ReturnsClaimedReviewToPending(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperations(t)
	reviewID := createClaimedReview(t, ops)

	before, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	genBefore := before.ClaimGeneration

	require.NoError(t, ops.ReclaimReview(ctx, reviewID, "claim timed out"))

	after, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, after.Status)
	require.Nil(t, after.ClaimedBy)
	require.Greater(t, after.ClaimGeneration, genBefore)
}

func TestReclaimReview_RejectsReviewNotInClaimedStatus(t *testing.T) {
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

	err = ops.ReclaimReview(ctx, reviewID, "claim timed out")
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeInvalidTransition, be.Code)
}

func TestDetachReview_ClearsClaimFieldsWithoutChangingStatus(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperations(t)
	reviewID := createClaimedReview(t, ops)

	require.NoError(t, ops.DetachReview(ctx, reviewID))

	after, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClaimed, after.Status)
	require.Nil(t, after.ClaimedBy)
}
