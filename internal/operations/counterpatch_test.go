package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/notify"
	"github.com/gsd-tools/review-broker/internal/store"
)

// fakeValidator stubs diffutil.Validator so counter-patch tests don't need
// a real git checkout to shell out against.
type fakeValidator struct {
	ok     bool
	reason string
}

func (f *fakeValidator) Validate(ctx context.Context, diffText, cwd string) (bool, string) {
	return f.ok, f.reason
}

func (f *fakeValidator) ExtractAffectedFiles(diffText string) []domain.AffectedFile {
	return []domain.AffectedFile{{Path: "foo.go", Operation: "modified"}}
}

func newTestOperationsWithValidator(t *testing.T, v *fakeValidator) *Operations {
	t.Helper()
	st, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, notify.New(), v, nil, "", nil)
}

func createClaimedReview(t *testing.T, ops *Operations) string {
	t.Helper()
	created, err := ops.CreateReview(context.Background(), CreateReviewInput{
		Intent:    "fix the bug",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	reviewID := created["review_id"].(string)
	_, err = ops.ClaimReview(context.Background(), reviewID, "reviewer-1")
	require.NoError(t, err)
	return reviewID
}

func TestAcceptCounterPatch_PromotesPatchWhenStillValid(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperationsWithValidator(t, &fakeValidator{ok: true})
	reviewID := createClaimedReview(t, ops)

	patch := "diff --git a/foo.go b/foo.go\n"
	_, err := ops.SubmitVerdict(ctx, SubmitVerdictInput{
		ReviewID:     reviewID,
		Verdict:      domain.VerdictChangesRequested,
		Reason:       strPtr("needs a tweak"),
		ReviewerID:   strPtr("reviewer-1"),
		CounterPatch: &patch,
	})
	require.NoError(t, err)

	out, err := ops.AcceptCounterPatch(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, string(domain.CounterPatchAccepted), out["counter_patch_status"])

	review, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.NotNil(t, review.Diff)
	require.Equal(t, patch, *review.Diff)
	require.Nil(t, review.CounterPatch)
}

func TestAcceptCounterPatch_LeavesStateUntouchedWhenNowInvalid(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperationsWithValidator(t, &fakeValidator{ok: true})
	reviewID := createClaimedReview(t, ops)

	patch := "diff --git a/foo.go b/foo.go\n"
	_, err := ops.SubmitVerdict(ctx, SubmitVerdictInput{
		ReviewID:     reviewID,
		Verdict:      domain.VerdictChangesRequested,
		Reason:       strPtr("needs a tweak"),
		ReviewerID:   strPtr("reviewer-1"),
		CounterPatch: &patch,
	})
	require.NoError(t, err)

	ops.validator = &fakeValidator{ok: false, reason: "no longer applies"}

	_, err = ops.AcceptCounterPatch(ctx, reviewID)
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeStaleCounterPatch, be.Code)

	review, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.NotNil(t, review.CounterPatch)
	require.Equal(t, domain.CounterPatchPending, *review.CounterPatchStatus)
}

func TestAcceptCounterPatch_NoPendingPatchIsInvalidCounterPatch(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperationsWithValidator(t, &fakeValidator{ok: true})
	reviewID := createClaimedReview(t, ops)

	_, err := ops.AcceptCounterPatch(ctx, reviewID)
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeInvalidCounterPatch, be.Code)
}

func TestRejectCounterPatch_ClearsPendingPatch(t *testing.T) {
	ctx := context.Background()
	ops := newTestOperationsWithValidator(t, &fakeValidator{ok: true})
	reviewID := createClaimedReview(t, ops)

	patch := "diff --git a/foo.go b/foo.go\n"
	_, err := ops.SubmitVerdict(ctx, SubmitVerdictInput{
		ReviewID:     reviewID,
		Verdict:      domain.VerdictChangesRequested,
		Reason:       strPtr("needs a tweak"),
		ReviewerID:   strPtr("reviewer-1"),
		CounterPatch: &patch,
	})
	require.NoError(t, err)

	out, err := ops.RejectCounterPatch(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, string(domain.CounterPatchRejected), out["counter_patch_status"])

	review, err := ops.store.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.Nil(t, review.CounterPatch)
	require.Equal(t, domain.CounterPatchRejected, *review.CounterPatchStatus)
}
