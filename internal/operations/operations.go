// Package operations is the broker's core business logic: the review
// lifecycle operations and observability queries of spec component 4,
// wired against the store, the notification bus, the diff validator, and
// the reviewer pool. Grounded on original_source/operations.py, with the
// success/error "document" contract preserved as map[string]any so a thin
// bindings layer can marshal it for any transport without re-shaping it.
package operations

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gsd-tools/review-broker/internal/diffutil"
	"github.com/gsd-tools/review-broker/internal/domain"
	"github.com/gsd-tools/review-broker/internal/logging"
	"github.com/gsd-tools/review-broker/internal/notify"
	"github.com/gsd-tools/review-broker/internal/pool"
	"github.com/gsd-tools/review-broker/internal/store"
)

// DefaultWaitTimeout is the long-poll default named in spec §4.4.
const DefaultWaitTimeout = 25 * time.Second

// notifyQueueTopic re-exports notify.QueueTopic under the local name this
// package's call sites use.
const notifyQueueTopic = notify.QueueTopic

// Operations wires every review lifecycle operation and observability
// query against the broker's process-wide collaborators. One instance is
// constructed per lifespan scope and passed explicitly to bindings, never
// referenced as a global.
type Operations struct {
	store     *store.Store
	bus       *notify.Bus
	validator diffutil.Validator
	pool      *pool.Pool // nil when the reviewer pool is not configured
	repoRoot  string
	log       *logging.Logger
	newID     func() string
}

// New constructs an Operations instance. pool may be nil (the pool is
// optional; claim/verdict/messages still work for human reviewers).
func New(st *store.Store, bus *notify.Bus, validator diffutil.Validator, p *pool.Pool, repoRoot string, log *logging.Logger) *Operations {
	return &Operations{
		store:     st,
		bus:       bus,
		validator: validator,
		pool:      p,
		repoRoot:  repoRoot,
		log:       log,
		newID:     func() string { return uuid.NewString() },
	}
}

// triggerScaling runs one best-effort reactive scaling pass; failures are
// logged, never propagated, per spec §7 ("a failure in one reaper never
// impacts... the foreground path").
func (o *Operations) triggerScaling(ctx context.Context) {
	if o.pool == nil {
		return
	}
	if err := o.pool.ReactiveScale(ctx); err != nil && o.log != nil {
		o.log.WithField("error", err.Error()).Warn("reactive scaling pass failed")
	}
}

// finalizeIfDraining terminates reviewerID if it is draining and has no
// other open reviews, per spec §4.3.4/§4.3.6/§4.3.8's "finalize
// termination" call-outs. A no-op if reviewerID is nil, unknown, or the
// pool is disabled.
func (o *Operations) finalizeIfDraining(ctx context.Context, reviewerID *string) {
	if o.pool == nil || reviewerID == nil {
		return
	}
	reviewer, err := o.store.GetReviewer(ctx, *reviewerID)
	if err != nil || reviewer.Status != domain.ReviewerDraining {
		return
	}
	open, err := o.store.CountOpenReviewsForReviewer(ctx, *reviewerID)
	if err != nil || open > 0 {
		return
	}
	if err := o.pool.TerminateReviewer(ctx, *reviewerID); err != nil && o.log != nil {
		o.log.WithReviewer(*reviewerID).WithField("error", err.Error()).Warn("failed to finalize draining reviewer termination")
	}
}

func nonWhitespace(s *string) bool {
	if s == nil {
		return false
	}
	for _, r := range *s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

func affectedFilesDoc(files []domain.AffectedFile) []map[string]any {
	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]any{
			"path": f.Path, "operation": f.Operation, "added": f.Added, "removed": f.Removed,
		})
	}
	return out
}

func isoOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
