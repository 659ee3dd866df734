// Package app wires the broker's lifespan scope end to end: store open,
// schema ensure, pool init, startup recovery, and the background reaper
// task, mirroring the teacher's internal/app.Application New/Attach/
// Start/Stop lifecycle (cmd/appserver/main.go), scaled down to this
// broker's single-process, single-store shape.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gsd-tools/review-broker/internal/bindings"
	"github.com/gsd-tools/review-broker/internal/config"
	"github.com/gsd-tools/review-broker/internal/diffutil"
	"github.com/gsd-tools/review-broker/internal/logging"
	"github.com/gsd-tools/review-broker/internal/metrics"
	"github.com/gsd-tools/review-broker/internal/notify"
	"github.com/gsd-tools/review-broker/internal/operations"
	"github.com/gsd-tools/review-broker/internal/pool"
	"github.com/gsd-tools/review-broker/internal/reaper"
	"github.com/gsd-tools/review-broker/internal/store"
)

// Application owns every process-wide collaborator for one broker
// instance and the startup/teardown sequencing between them.
type Application struct {
	Store      *store.Store
	Bus        *notify.Bus
	Pool       *pool.Pool // always set; Pool.Config() is nil when the reviewer pool is not configured
	Operations *operations.Operations
	Dispatch   *bindings.Dispatcher
	Metrics    *metrics.Metrics
	Log        *logging.Logger

	reaper *reaper.Reaper
}

// New opens the store, wires every collaborator, and runs startup recovery
// (spec §4.5.5), but does not yet start the background reaper — call Start
// for that.
func New(ctx context.Context, broker *config.BrokerConfig) (*Application, error) {
	log := logging.New(logging.Config{Level: broker.LogLevel, Format: broker.LogFormat})

	st, err := store.Open(ctx, broker.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	bus := notify.New()
	validator := diffutil.NewGitApplyValidator()

	var poolConfig *config.PoolConfig
	if broker.ConfigPath != "" {
		poolConfig, err = config.LoadPoolConfig(broker.ConfigPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load pool config: %w", err)
		}
	}
	if poolConfig != nil && broker.PromptTemplatePath != "" {
		poolConfig.PromptTemplatePath = broker.PromptTemplatePath
	}

	sessionToken, err := pool.NewSessionToken()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	p := pool.New(poolConfig, st, bus, log, m, sessionToken)

	ops := operations.New(st, bus, validator, p, broker.RepoRoot, log)
	dispatch := bindings.New(ops)

	claimTimeout := time.Duration(0)
	idleTimeout := time.Duration(0)
	maxTTL := time.Duration(0)
	interval := 30 * time.Second
	if poolConfig != nil {
		claimTimeout = time.Duration(poolConfig.ClaimTimeoutSeconds) * time.Second
		idleTimeout = time.Duration(poolConfig.IdleTimeoutSeconds) * time.Second
		maxTTL = time.Duration(poolConfig.MaxTTLSeconds) * time.Second
		interval = time.Duration(poolConfig.BackgroundCheckIntervalSeconds) * time.Second
	}
	rp := reaper.New(st, p, ops, log, m, claimTimeout, idleTimeout, maxTTL, interval)

	app := &Application{
		Store: st, Bus: bus, Pool: p, Operations: ops, Dispatch: dispatch,
		Metrics: m, Log: log, reaper: rp,
	}

	if err := rp.RunStartupRecovery(ctx); err != nil {
		log.WithField("error", err.Error()).Warn("startup recovery encountered an error")
	}

	return app, nil
}

// Start begins the background reaper task.
func (a *Application) Start(ctx context.Context) error {
	return a.reaper.Start(ctx)
}

// Stop cancels the background task, shuts down pooled subprocesses,
// checkpoints the WAL, and closes the store, in that order so nothing
// writes to a closing database.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.reaper.Stop(ctx); err != nil && a.Log != nil {
		a.Log.WithField("error", err.Error()).Warn("reaper stop encountered an error")
	}
	if a.Pool != nil {
		if err := a.Pool.ShutdownAll(ctx); err != nil && a.Log != nil {
			a.Log.WithField("error", err.Error()).Warn("pool shutdown encountered an error")
		}
	}
	return a.Store.Close()
}
