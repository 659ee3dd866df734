package reaper

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/config"
	"github.com/gsd-tools/review-broker/internal/diffutil"
	"github.com/gsd-tools/review-broker/internal/domain"
	"github.com/gsd-tools/review-broker/internal/logging"
	"github.com/gsd-tools/review-broker/internal/metrics"
	"github.com/gsd-tools/review-broker/internal/notify"
	"github.com/gsd-tools/review-broker/internal/operations"
	"github.com/gsd-tools/review-broker/internal/pool"
	"github.com/gsd-tools/review-broker/internal/store"
)

// newTestReaperWithPool wires a configured (non-spawning) pool so the
// idle/ttl/dead-process passes, which all short-circuit on a nil pool,
// can be exercised against reviewer rows inserted directly.
func newTestReaperWithPool(t *testing.T, idleTimeout, maxTTL time.Duration) (*Reaper, *store.Store, *operations.Operations, *pool.Pool, *notify.Bus) {
	t.Helper()
	st, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := notify.New()
	log := logging.NewDefault()
	cfg := &config.PoolConfig{
		Model:         "gpt-5-codex",
		WorkspacePath: t.TempDir(),
		MaxPoolSize:   2,
	}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := pool.New(cfg, st, bus, log, m, "session-test")
	ops := operations.New(st, bus, diffutil.NewGitApplyValidator(), p, "", log)
	r := New(st, p, ops, log, m, time.Minute, idleTimeout, maxTTL, time.Minute)
	return r, st, ops, p, bus
}

func TestIdleTimeoutPass_DrainsIdleReviewerWithNoOpenReviews(t *testing.T) {
	ctx := context.Background()
	r, st, _, _, _ := newTestReaperWithPool(t, time.Minute, 0)

	reviewer := &domain.Reviewer{ID: "rev-1", DisplayName: "rev-1", SessionToken: "session-test", Status: domain.ReviewerActive}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReviewer(ctx, reviewer)
	}))

	stale := time.Now().Add(-2 * time.Hour)
	reviewer.LastActiveAt = stale
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.UpdateReviewer(ctx, reviewer)
	}))

	require.NoError(t, r.idleTimeoutPass(ctx))

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewerTerminated, got.Status)
}

func TestIdleTimeoutPass_SkipsReviewerWithOpenReviews(t *testing.T) {
	ctx := context.Background()
	r, st, ops, _, _ := newTestReaperWithPool(t, time.Minute, 0)

	reviewer := &domain.Reviewer{ID: "rev-1", DisplayName: "rev-1", SessionToken: "session-test", Status: domain.ReviewerActive}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReviewer(ctx, reviewer)
	}))
	stale := time.Now().Add(-2 * time.Hour)
	reviewer.LastActiveAt = stale
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.UpdateReviewer(ctx, reviewer)
	}))

	created, err := ops.CreateReview(ctx, operations.CreateReviewInput{
		Intent:    "fix it",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	_, err = ops.ClaimReview(ctx, created["review_id"].(string), "rev-1")
	require.NoError(t, err)

	require.NoError(t, r.idleTimeoutPass(ctx))

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewerActive, got.Status)
}

func TestTtlExpiryPass_DrainsReviewerPastMaxTTL(t *testing.T) {
	ctx := context.Background()
	r, st, _, _, _ := newTestReaperWithPool(t, 0, time.Hour)

	reviewer := &domain.Reviewer{ID: "rev-1", DisplayName: "rev-1", SessionToken: "session-test", Status: domain.ReviewerActive}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReviewer(ctx, reviewer)
	}))
	old := time.Now().Add(-2 * time.Hour)
	reviewer.SpawnedAt = old
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.UpdateReviewer(ctx, reviewer)
	}))

	require.NoError(t, r.ttlExpiryPass(ctx))

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewerTerminated, got.Status)
}

func TestDeadProcessPass_ReclaimsClaimedReviewWhenPidIsGone(t *testing.T) {
	ctx := context.Background()
	r, st, ops, _, _ := newTestReaperWithPool(t, 0, 0)

	deadPid := 999999999
	reviewer := &domain.Reviewer{
		ID: "rev-1", DisplayName: "rev-1", SessionToken: "session-test",
		Status: domain.ReviewerActive, Pid: &deadPid,
	}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReviewer(ctx, reviewer)
	}))

	created, err := ops.CreateReview(ctx, operations.CreateReviewInput{
		Intent:    "fix it",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	reviewID := created["review_id"].(string)
	_, err = ops.ClaimReview(ctx, reviewID, "rev-1")
	require.NoError(t, err)

	require.NoError(t, r.deadProcessPass(ctx))

	review, err := st.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, review.Status)

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewerTerminated, got.Status)
}

func TestDeadProcessPass_DetachesPendingSoftReservationAndNotifiesQueue(t *testing.T) {
	ctx := context.Background()
	r, st, ops, _, bus := newTestReaperWithPool(t, 0, 0)

	deadPid := 999999999
	reviewer := &domain.Reviewer{
		ID: "rev-1", DisplayName: "rev-1", SessionToken: "session-test",
		Status: domain.ReviewerActive, Pid: &deadPid,
	}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReviewer(ctx, reviewer)
	}))

	created, err := ops.CreateReview(ctx, operations.CreateReviewInput{
		Intent:    "fix it",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	reviewID := created["review_id"].(string)
	_, err = ops.ClaimReview(ctx, reviewID, "rev-1")
	require.NoError(t, err)

	// Simulate add_message reopening a changes_requested review: status
	// reverts to pending but claimed_by is retained as a soft reservation.
	review, err := st.GetReview(ctx, reviewID)
	require.NoError(t, err)
	review.Status = domain.StatusPending
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.UpdateReview(ctx, review)
	}))

	before := bus.CurrentVersion(domain.QueueTopic)

	require.NoError(t, r.deadProcessPass(ctx))

	got, err := st.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Nil(t, got.ClaimedBy)

	require.Greater(t, bus.CurrentVersion(domain.QueueTopic), before)
}

func TestDeadProcessPass_LeavesLiveUntrackedReviewerAlone(t *testing.T) {
	ctx := context.Background()
	r, st, _, _, _ := newTestReaperWithPool(t, 0, 0)

	selfPid := os.Getpid()
	reviewer := &domain.Reviewer{
		ID: "rev-1", DisplayName: "rev-1", SessionToken: "session-test",
		Status: domain.ReviewerActive, Pid: &selfPid,
	}
	require.NoError(t, st.WithWriteTx(ctx, func(ctx context.Context) error {
		return st.InsertReviewer(ctx, reviewer)
	}))

	require.NoError(t, r.deadProcessPass(ctx))

	got, err := st.GetReviewer(ctx, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewerActive, got.Status)
}
