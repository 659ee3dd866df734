package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/domain"
)

func TestRecordEvent_AssignsIDAndCreatedAt(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReview("r-1")
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReview(ctx, r)
	}))

	e := &domain.AuditEvent{ReviewID: &r.ID, EventType: domain.EventReviewCreated}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.RecordEvent(ctx, e)
	}))

	require.NotZero(t, e.ID)
	require.False(t, e.CreatedAt.IsZero())
}

func TestListAuditEvents_ScopedToReview(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	a := sampleReview("a")
	b := sampleReview("b")
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReview(ctx, a)
	}))
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReview(ctx, b)
	}))

	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.RecordEvent(ctx, &domain.AuditEvent{ReviewID: &a.ID, EventType: domain.EventReviewCreated})
	}))
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.RecordEvent(ctx, &domain.AuditEvent{ReviewID: &b.ID, EventType: domain.EventReviewCreated})
	}))

	scoped, err := st.ListAuditEvents(ctx, &a.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, a.ID, *scoped[0].ReviewID)

	all, err := st.ListAuditEvents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestRecordEvent_PersistsMetadata(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := sampleReview("r-1")
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReview(ctx, r)
	}))

	e := &domain.AuditEvent{
		ReviewID:  &r.ID,
		EventType: domain.EventVerdictSubmitted,
		Metadata:  map[string]any{"verdict": "approved"},
	}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.RecordEvent(ctx, e)
	}))

	events, err := st.ListAuditEvents(ctx, &r.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "approved", events[0].Metadata["verdict"])
}
