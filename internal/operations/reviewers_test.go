package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

func TestSpawnReviewer_ForbiddenWhenPoolNotConfigured(t *testing.T) {
	ops := newTestOperations(t)
	_, err := ops.SpawnReviewer(context.Background(), nil)
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeForbidden, be.Code)
}

func TestKillReviewer_ForbiddenWhenPoolNotConfigured(t *testing.T) {
	ops := newTestOperations(t)
	_, err := ops.KillReviewer(context.Background(), "reviewer-1", "manual")
	require.Error(t, err)
	be := brokererrors.As(err)
	require.NotNil(t, be)
	require.Equal(t, brokererrors.CodeForbidden, be.Code)
}

func TestListReviewers_EmptyWhenNoneSpawned(t *testing.T) {
	ops := newTestOperations(t)
	out, err := ops.ListReviewers(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, out["count"])
}
