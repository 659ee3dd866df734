package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsd-tools/review-broker/internal/config"
	"github.com/gsd-tools/review-broker/internal/domain"
	"github.com/gsd-tools/review-broker/internal/operations"
)

// A single test function: metrics.New registers against the process-wide
// default Prometheus registerer, so a second Application in this package
// would panic on duplicate registration.
func TestNew_WiresApplicationEndToEndWithNoPoolConfigured(t *testing.T) {
	ctx := context.Background()
	cfg := &config.BrokerConfig{
		DBPath:    filepath.Join(t.TempDir(), "broker.sqlite3"),
		LogLevel:  "error",
		LogFormat: "text",
	}

	application, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, application.Store)
	require.NotNil(t, application.Operations)
	require.NotNil(t, application.Dispatch)
	require.Nil(t, application.Pool.Config())

	require.NoError(t, application.Start(ctx))

	out, err := application.Operations.CreateReview(ctx, operations.CreateReviewInput{
		Intent:    "fix the bug",
		AgentType: "coder",
		AgentRole: domain.RoleProposer,
		Phase:     "implement",
	})
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusPending), out["status"])

	require.NoError(t, application.Stop(context.Background()))
}
