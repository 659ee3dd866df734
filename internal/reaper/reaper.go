// Package reaper runs the broker's periodic background passes (spec
// §4.5.4) and the one-shot startup recovery (§4.5.5), grounded on the
// teacher's internal/app/services/automation.Scheduler lifecycle
// (mu/cancel/wg/running Start/Stop) but driven by robfig/cron instead of a
// bare ticker, since the interval is operator-configured rather than
// fixed.
package reaper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/gsd-tools/review-broker/internal/logging"
	"github.com/gsd-tools/review-broker/internal/metrics"
	"github.com/gsd-tools/review-broker/internal/operations"
	"github.com/gsd-tools/review-broker/internal/pool"
	"github.com/gsd-tools/review-broker/internal/store"
)

// Reaper owns the cron-scheduled background passes. One instance per
// lifespan scope; nil Pool disables every pool-touching pass (reactive
// scaling, idle/ttl drain, dead-process sweep) while claim_timeout still
// runs, since stuck human claims can happen with no pool configured.
type Reaper struct {
	store   *store.Store
	pool    *pool.Pool
	ops     *operations.Operations
	log     *logging.Logger
	metrics *metrics.Metrics

	claimTimeout time.Duration
	idleTimeout  time.Duration
	maxTTL       time.Duration
	interval     time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// New constructs a Reaper. claimTimeout/idleTimeout/maxTTL/interval come
// straight from PoolConfig; when p is nil, idleTimeout/maxTTL are ignored
// (their passes are skipped) but claimTimeout still applies.
func New(st *store.Store, p *pool.Pool, ops *operations.Operations, log *logging.Logger, m *metrics.Metrics,
	claimTimeout, idleTimeout, maxTTL, interval time.Duration) *Reaper {
	return &Reaper{
		store:        st,
		pool:         p,
		ops:          ops,
		log:          log,
		metrics:      m,
		claimTimeout: claimTimeout,
		idleTimeout:  idleTimeout,
		maxTTL:       maxTTL,
		interval:     interval,
	}
}

// Start schedules the periodic pass every interval and returns once the
// cron scheduler has been started.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	id, err := c.AddFunc(spec, func() { r.RunPass(context.Background()) })
	if err != nil {
		return fmt.Errorf("schedule reaper pass: %w", err)
	}
	c.Start()

	r.cron = c
	r.entryID = id
	r.running = true
	if r.log != nil {
		r.log.WithField("interval", r.interval.String()).Info("reaper started")
	}
	return nil
}

// Stop cancels the cron scheduler and waits for any in-flight pass to
// finish.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.running = false
	r.cron = nil
	r.mu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.log != nil {
		r.log.Info("reaper stopped")
	}
	return nil
}

// RunPass runs every reaper named in spec §4.5.4 in order, aggregating
// independent failures with go-multierror so one failing reaper never
// masks another's (spec §7, §4.5.4's closing line).
func (r *Reaper) RunPass(ctx context.Context) error {
	passes := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"reactive_scale", r.reactiveScale},
		{"idle_timeout", r.idleTimeoutPass},
		{"ttl_expiry", r.ttlExpiryPass},
		{"claim_timeout", r.claimTimeoutPass},
		{"dead_process", r.deadProcessPass},
	}

	var errs *multierror.Error
	for _, p := range passes {
		start := time.Now()
		err := r.runOne(ctx, p.name, p.fn)
		if r.metrics != nil {
			r.metrics.ReaperPassDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if r.metrics != nil {
				r.metrics.ReaperPassErrorsTotal.WithLabelValues(p.name).Inc()
			}
			if r.log != nil {
				r.log.WithField("reaper", p.name).WithField("error", err.Error()).Warn("reaper pass failed")
			}
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return errs.ErrorOrNil()
}

// runOne recovers a panicking pass into an error so it can't take down the
// cron goroutine or mask the remaining passes.
func (r *Reaper) runOne(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
