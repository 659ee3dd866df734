package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/domain"
)

func TestComputeReviewStats_EmptyStoreReportsZeroTotal(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	stats, err := st.ComputeReviewStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)
	require.Nil(t, stats.ApprovalRatePct)
}

func TestComputeReviewStats_CountsByStatusAndCategory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := sampleReview("a")
	cat := "security"
	a.Category = &cat
	insertReview(t, st, a)

	b := sampleReview("b")
	b.Status = domain.StatusClaimed
	insertReview(t, st, b)

	stats, err := st.ComputeReviewStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.ByStatus["pending"])
	require.Equal(t, 1, stats.ByStatus["claimed"])
	require.Equal(t, 1, stats.ByCategory["security"])
	require.Equal(t, 1, stats.ByCategory["uncategorized"])
}

func TestComputeReviewStats_ApprovalRateFromVerdictEvents(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReview("a")
	insertReview(t, st, r)

	approved := "approved"
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.RecordEvent(ctx, &domain.AuditEvent{
			ReviewID: &r.ID, EventType: domain.EventVerdictSubmitted, NewStatus: &approved,
		})
	}))

	stats, err := st.ComputeReviewStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.ApprovalRatePct)
	require.Equal(t, float64(100), *stats.ApprovalRatePct)
}
