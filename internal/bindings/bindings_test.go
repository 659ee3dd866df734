package bindings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/diffutil"
	"github.com/gsd-tools/review-broker/internal/notify"
	"github.com/gsd-tools/review-broker/internal/operations"
	"github.com/gsd-tools/review-broker/internal/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	st, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ops := operations.New(st, notify.New(), diffutil.NewGitApplyValidator(), nil, "", nil)
	return New(ops)
}

func TestDispatch_UnknownOperationReturnsErrorDoc(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), "not_a_real_operation", nil)
	require.Equal(t, "INVALID_INPUT", out["code"])
	require.Contains(t, out["error"], "unknown operation")
}

func TestDispatch_CreateReviewThenClaimReview(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	created := d.Dispatch(ctx, "create_review", map[string]any{
		"intent":     "add a feature",
		"agent_type": "coder",
		"agent_role": "proposer",
		"phase":      "implement",
	})
	require.Nil(t, created["error"])
	reviewID, ok := created["review_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, reviewID)

	claimed := d.Dispatch(ctx, "claim_review", map[string]any{
		"review_id":   reviewID,
		"reviewer_id": "reviewer-1",
	})
	require.Nil(t, claimed["error"])
	require.Equal(t, "claimed", claimed["status"])
}

func TestDispatch_CreateReviewMissingIntentReturnsErrorDoc(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), "create_review", map[string]any{
		"agent_type": "coder",
		"agent_role": "proposer",
		"phase":      "implement",
	})
	require.Equal(t, "INVALID_INPUT", out["code"])
}

func TestDispatch_ClaimReviewMissingFieldsReturnsErrorDoc(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), "claim_review", map[string]any{
		"review_id": "r-1",
	})
	require.Equal(t, "INVALID_INPUT", out["code"])
}

func TestDispatch_ListReviewers_EmptyPoolReturnsEmptyList(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), "list_reviewers", nil)
	require.Nil(t, out["error"])
}
