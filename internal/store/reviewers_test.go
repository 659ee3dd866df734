package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/domain"
)

func insertReviewer(t *testing.T, st *Store, r *domain.Reviewer) {
	t.Helper()
	require.NoError(t, st.WithWriteTx(context.Background(), func(ctx context.Context) error {
		return st.InsertReviewer(ctx, r)
	}))
}

func sampleReviewer(id, session string) *domain.Reviewer {
	return &domain.Reviewer{
		ID:           id,
		DisplayName:  id,
		SessionToken: session,
		Status:       domain.ReviewerActive,
	}
}

func TestInsertAndGetReviewer_RoundTrips(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReviewer("rev-1", "session-a")
	insertReviewer(t, st, r)

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, "rev-1", got.ID)
	require.Equal(t, domain.ReviewerActive, got.Status)
	require.False(t, got.SpawnedAt.IsZero())
}

func TestGetReviewer_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetReviewer(context.Background(), "missing")
	require.Error(t, err)
}

func TestListActiveReviewersForSession_FiltersBySessionAndStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	insertReviewer(t, st, sampleReviewer("a", "session-1"))
	insertReviewer(t, st, sampleReviewer("b", "session-2"))
	terminated := sampleReviewer("c", "session-1")
	terminated.Status = domain.ReviewerTerminated
	insertReviewer(t, st, terminated)

	results, err := st.ListActiveReviewersForSession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].ID)
}

func TestListStaleReviewers_ExcludesCurrentSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	insertReviewer(t, st, sampleReviewer("current", "session-1"))
	insertReviewer(t, st, sampleReviewer("stale", "session-0"))

	results, err := st.ListStaleReviewers(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "stale", results[0].ID)
}

func TestListIdleReviewers_FiltersByLastActiveCutoff(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReviewer("rev-1", "session-1")
	insertReviewer(t, st, r)

	future := time.Now().Add(time.Hour)
	idle, err := st.ListIdleReviewers(ctx, future)
	require.NoError(t, err)
	require.Len(t, idle, 1)

	past := time.Now().Add(-time.Hour)
	none, err := st.ListIdleReviewers(ctx, past)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestListExpiredReviewers_FiltersBySpawnedAtCutoff(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReviewer("rev-1", "session-1")
	insertReviewer(t, st, r)

	future := time.Now().Add(time.Hour)
	expired, err := st.ListExpiredReviewers(ctx, future)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	past := time.Now().Add(-time.Hour)
	none, err := st.ListExpiredReviewers(ctx, past)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpdateReviewer_PersistsStatusAndStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReviewer("rev-1", "session-1")
	insertReviewer(t, st, r)

	r.Status = domain.ReviewerTerminated
	r.Approvals = 3
	r.ReviewsCompleted = 5
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.UpdateReviewer(ctx, r)
	}))

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewerTerminated, got.Status)
	require.Equal(t, 3, got.Approvals)
	require.Equal(t, 5, got.ReviewsCompleted)
}

func TestListReviewers_OrdersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	insertReviewer(t, st, sampleReviewer("a", "session-1"))
	// spawned_at has millisecond precision; keep the two rows apart.
	time.Sleep(5 * time.Millisecond)
	insertReviewer(t, st, sampleReviewer("b", "session-1"))

	all, err := st.ListReviewers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].ID)
	require.Equal(t, "a", all[1].ID)
}
