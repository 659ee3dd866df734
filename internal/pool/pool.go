// Package pool implements the reviewer worker pool: spawn/drain/terminate
// lifecycle, statistics, and the in-memory process registry that reapers
// reconcile against the Reviewer store rows. Grounded on
// original_source/pool.py.
package pool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gsd-tools/review-broker/internal/config"
	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/logging"
	"github.com/gsd-tools/review-broker/internal/metrics"
	"github.com/gsd-tools/review-broker/internal/notify"
	"github.com/gsd-tools/review-broker/internal/spawnbuild"
	"github.com/gsd-tools/review-broker/internal/store"
)

// ArgvBuilder and PromptLoader are injected so tests can substitute a fake
// subprocess without touching spawnbuild's real platform/codex logic.
type ArgvBuilder func(cfg *config.PoolConfig, reviewerID string) []string
type PromptLoader func(templatePath, reviewerID string) (string, error)

// Pool is the in-memory registry of spawned subprocess workers plus the
// draining set, per spec §3's ownership note: "The Pool owns the in-memory
// map of live subprocess handles and the _draining set."
type Pool struct {
	cfg          *config.PoolConfig
	store        *store.Store
	bus          *notify.Bus
	log          *logging.Logger
	metrics      *metrics.Metrics
	sessionToken string

	buildArgv    ArgvBuilder
	loadPrompt   PromptLoader

	limiter *rate.Limiter

	mu           sync.Mutex
	processes    map[string]*trackedProcess
	draining     map[string]bool
	projectOf    map[string]*string
	displayCount int64
}

type trackedProcess struct {
	cmd        *exec.Cmd
	reviewerID string
	startedAt  time.Time
	done       chan struct{}
	exitCode   *int
}

// Config returns the pool's configuration (nil if the pool is disabled),
// used by reapers and bindings to decide whether pool operations apply.
func (p *Pool) Config() *config.PoolConfig { return p.cfg }

// SessionToken returns this broker instance's random session suffix, used
// by startup recovery and the dead-process reaper to distinguish this
// process's reviewers from a prior run's orphans.
func (p *Pool) SessionToken() string { return p.sessionToken }

// New constructs a Pool. cfg nil means the pool is disabled; callers
// should skip spawning and scaling entirely in that case (the Operations
// layer still functions for direct claim_review by human reviewers).
func New(cfg *config.PoolConfig, st *store.Store, bus *notify.Bus, log *logging.Logger, m *metrics.Metrics, sessionToken string) *Pool {
	p := &Pool{
		cfg:          cfg,
		store:        st,
		bus:          bus,
		log:          log,
		metrics:      m,
		sessionToken: sessionToken,
		buildArgv:    spawnbuild.BuildArgv,
		loadPrompt:   spawnbuild.LoadPromptTemplate,
		processes:    make(map[string]*trackedProcess),
		draining:     make(map[string]bool),
		projectOf:    make(map[string]*string),
	}
	if cfg != nil && cfg.SpawnCooldownSeconds > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(1.0/cfg.SpawnCooldownSeconds), 1)
	}
	return p
}

// ActiveCount returns the number of tracked, non-draining, non-exited
// subprocesses.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for id, proc := range p.processes {
		if p.draining[id] {
			continue
		}
		if proc.exitCode != nil {
			continue
		}
		count++
	}
	return count
}

// IsDraining reports whether reviewerID is in the draining set.
func (p *Pool) IsDraining(reviewerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining[reviewerID]
}

// IsProcessLive reports whether reviewerID has a tracked, still-running
// subprocess under the current session.
func (p *Pool) IsProcessLive(reviewerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.processes[reviewerID]
	return ok && proc.exitCode == nil
}

func (p *Pool) nextDisplayName() string {
	n := atomic.AddInt64(&p.displayCount, 1)
	return fmt.Sprintf("reviewer-%d", n)
}

func randomSessionSuffix() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewSessionToken produces the per-broker-instance random suffix used to
// distinguish "my" reviewers from a prior run's orphans, per spec §9.
func NewSessionToken() (string, error) {
	return randomSessionSuffix()
}

// SpawnReviewer implements spec §4.5.1. ignoreCooldown bypasses the
// spawn-cooldown rate limiter entirely (used by reactive scaling, per
// spec §4.5.2), but never bypasses the pool cap.
func (p *Pool) SpawnReviewer(ctx context.Context, project *string, ignoreCooldown bool) (*domain.Reviewer, error) {
	if p.cfg == nil {
		return nil, brokererrors.New(brokererrors.CodePoolCapReached, "reviewer pool is not configured", 409)
	}

	if !ignoreCooldown && p.limiter != nil && !p.limiter.Allow() {
		return nil, brokererrors.CooldownActive(p.cfg.SpawnCooldownSeconds)
	}
	if p.ActiveCount() >= p.cfg.MaxPoolSize {
		return nil, brokererrors.PoolCapReached(p.cfg.MaxPoolSize)
	}

	displayName := p.nextDisplayName()
	reviewerID := fmt.Sprintf("%s-%s", displayName, p.sessionToken)

	templatePath, err := resolvePrompt(p.cfg)
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.CodeInternalStoreError, "resolve prompt template", 500, err)
	}
	prompt, err := p.loadPrompt(templatePath, reviewerID)
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.CodeInternalStoreError, "load prompt template", 500, err)
	}
	argv := p.buildArgv(p.cfg, reviewerID)

	cmd := exec.CommandContext(context.Background(), argv[0], argv[1:]...)
	cmd.Dir = p.cfg.WorkspacePath
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.CodeInternalStoreError, "open stdin pipe", 500, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, brokererrors.Wrap(brokererrors.CodeInternalStoreError, "spawn reviewer subprocess", 500, err)
	}
	if _, err := stdin.Write([]byte(prompt)); err != nil {
		p.killQuietly(cmd)
		return nil, brokererrors.Wrap(brokererrors.CodeInternalStoreError, "write reviewer prompt", 500, err)
	}
	_ = stdin.Close()

	pid := cmd.Process.Pid
	tracked := &trackedProcess{cmd: cmd, reviewerID: reviewerID, startedAt: time.Now(), done: make(chan struct{})}
	p.mu.Lock()
	p.processes[reviewerID] = tracked
	p.projectOf[reviewerID] = project
	p.mu.Unlock()
	go p.watch(tracked)

	reviewer := &domain.Reviewer{
		ID:           reviewerID,
		DisplayName:  displayName,
		SessionToken: p.sessionToken,
		Status:       domain.ReviewerActive,
		Pid:          &pid,
	}

	err = p.store.WithWriteTx(ctx, func(ctx context.Context) error {
		if err := p.store.InsertReviewer(ctx, reviewer); err != nil {
			return err
		}
		meta := map[string]any{"pid": pid}
		if project != nil {
			meta["project"] = *project
		}
		return p.store.RecordEvent(ctx, &domain.AuditEvent{
			EventType: domain.EventReviewerSpawned,
			Actor:     &reviewerID,
			Metadata:  meta,
		})
	})
	if err != nil {
		// On DB failure, terminate the just-spawned process so nothing is
		// orphaned, per spec §4.5.1 step 6.
		p.killQuietly(cmd)
		p.mu.Lock()
		delete(p.processes, reviewerID)
		delete(p.projectOf, reviewerID)
		p.mu.Unlock()
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.ReviewersSpawnedTotal.Inc()
	}
	if p.log != nil {
		p.log.WithReviewer(reviewerID).Info("spawned reviewer")
	}
	return reviewer, nil
}

func resolvePrompt(cfg *config.PoolConfig) (string, error) {
	return spawnbuild.ResolvePromptTemplatePath("", cfg.PromptTemplatePath, cfg.WorkspacePath)
}

func (p *Pool) killQuietly(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// watch waits for the tracked subprocess to exit and records its exit
// code, which the dead-process reaper later observes.
func (p *Pool) watch(tracked *trackedProcess) {
	err := tracked.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	tracked.exitCode = &code
	p.mu.Unlock()
	close(tracked.done)
}

// ExitedReviewerIDs returns reviewer ids whose tracked subprocess has
// exited, for the dead-process reaper.
func (p *Pool) ExitedReviewerIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, proc := range p.processes {
		if proc.exitCode != nil {
			out = append(out, id)
		}
	}
	return out
}

// ExitCode returns the recorded exit code for a tracked, exited reviewer,
// or nil if it hasn't exited (or isn't tracked).
func (p *Pool) ExitCode(reviewerID string) *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.processes[reviewerID]
	if !ok {
		return nil
	}
	return proc.exitCode
}

// DrainReviewer implements spec §4.5.3's drain_reviewer: mark draining,
// record the event, and terminate immediately if no open reviews remain.
func (p *Pool) DrainReviewer(ctx context.Context, reviewerID, reason string) error {
	p.mu.Lock()
	p.draining[reviewerID] = true
	p.mu.Unlock()

	err := p.store.WithWriteTx(ctx, func(ctx context.Context) error {
		reviewer, err := p.store.GetReviewer(ctx, reviewerID)
		if err != nil {
			return err
		}
		reviewer.Status = domain.ReviewerDraining
		if err := p.store.UpdateReviewer(ctx, reviewer); err != nil {
			return err
		}
		return p.store.RecordEvent(ctx, &domain.AuditEvent{
			EventType: domain.EventReviewerDrainStart,
			Actor:     &reviewerID,
			Metadata:  map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return err
	}

	open, err := p.store.CountOpenReviewsForReviewer(ctx, reviewerID)
	if err != nil {
		return err
	}
	if open == 0 {
		return p.TerminateReviewer(ctx, reviewerID)
	}
	return nil
}

// TerminateReviewer implements spec §4.5.3's terminate_reviewer: polite
// terminate, 10s grace, then kill; drop from in-memory tracking; persist
// terminated status.
func (p *Pool) TerminateReviewer(ctx context.Context, reviewerID string) error {
	p.mu.Lock()
	tracked, isTracked := p.processes[reviewerID]
	p.mu.Unlock()

	if isTracked && tracked.exitCode == nil {
		terminateProcess(tracked.cmd)
		select {
		case <-tracked.done:
		case <-time.After(10 * time.Second):
			p.killQuietly(tracked.cmd)
			<-tracked.done
		}
	}

	var exitCode *int
	if isTracked {
		exitCode = tracked.exitCode
	}

	p.mu.Lock()
	delete(p.processes, reviewerID)
	delete(p.draining, reviewerID)
	delete(p.projectOf, reviewerID)
	p.mu.Unlock()

	return p.store.WithWriteTx(ctx, func(ctx context.Context) error {
		reviewer, err := p.store.GetReviewer(ctx, reviewerID)
		if err != nil {
			return err
		}
		now := time.Now()
		reviewer.Status = domain.ReviewerTerminated
		reviewer.TerminatedAt = &now
		reviewer.ExitCode = exitCode
		if err := p.store.UpdateReviewer(ctx, reviewer); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.ReviewersTerminatedTotal.WithLabelValues("drain").Inc()
		}
		return p.store.RecordEvent(ctx, &domain.AuditEvent{
			EventType: domain.EventReviewerTerminated,
			Actor:     &reviewerID,
			Metadata: map[string]any{
				"exit_code":         exitCode,
				"reviews_completed": reviewer.ReviewsCompleted,
			},
		})
	})
}

// ShutdownAll terminates every tracked reviewer, used at lifespan
// teardown.
func (p *Pool) ShutdownAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.processes))
	for id := range p.processes {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := p.TerminateReviewer(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpdateReviewerStats increments reviews_completed/approvals/rejections
// and accumulates total_review_seconds measured from claimedAt to now,
// per spec §4.3.4. Must run inside the caller's write transaction (it does
// not open its own).
func UpdateReviewerStats(ctx context.Context, st *store.Store, reviewerID string, verdict domain.Verdict, claimedAt *time.Time) error {
	reviewer, err := st.GetReviewer(ctx, reviewerID)
	if err != nil {
		return err
	}
	reviewer.ReviewsCompleted++
	reviewer.LastActiveAt = time.Now()
	if claimedAt != nil {
		reviewer.TotalReviewSeconds += time.Since(*claimedAt).Seconds()
	}
	switch verdict {
	case domain.VerdictApproved:
		reviewer.Approvals++
	case domain.VerdictChangesRequested:
		reviewer.Rejections++
	}
	return st.UpdateReviewer(ctx, reviewer)
}

func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(terminateSignal())
}
