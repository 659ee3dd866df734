// Package bindings is the thin transport-agnostic dispatch layer named in
// spec §6.1: a name-keyed map from operation name to handler, each
// accepting and returning the same attribute-value document shape so any
// transport (stdio, HTTP, RPC) can sit on top without reshaping anything.
// Grounded on the teacher's services/*/marble "service" wiring, which
// registers named callables against a central dispatcher rather than
// exposing protocol-specific handler signatures.
package bindings

import (
	"context"

	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/operations"
)

// Handler is one operation's transport-agnostic entry point.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// Dispatcher is the name-keyed table of every operation in spec §6.1.
type Dispatcher struct {
	handlers map[string]Handler
}

// New builds the dispatcher against one Operations instance.
func New(ops *operations.Operations) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler, 18)}
	d.handlers["create_review"] = createReviewHandler(ops)
	d.handlers["list_reviews"] = listReviewsHandler(ops)
	d.handlers["claim_review"] = claimReviewHandler(ops)
	d.handlers["submit_verdict"] = submitVerdictHandler(ops)
	d.handlers["accept_counter_patch"] = acceptCounterPatchHandler(ops)
	d.handlers["reject_counter_patch"] = rejectCounterPatchHandler(ops)
	d.handlers["add_message"] = addMessageHandler(ops)
	d.handlers["get_discussion"] = getDiscussionHandler(ops)
	d.handlers["close_review"] = closeReviewHandler(ops)
	d.handlers["get_review_status"] = getReviewStatusHandler(ops)
	d.handlers["get_proposal"] = getProposalHandler(ops)
	d.handlers["get_activity_feed"] = getActivityFeedHandler(ops)
	d.handlers["get_review_timeline"] = getReviewTimelineHandler(ops)
	d.handlers["get_audit_log"] = getAuditLogHandler(ops)
	d.handlers["get_review_stats"] = getReviewStatsHandler(ops)
	d.handlers["spawn_reviewer"] = spawnReviewerHandler(ops)
	d.handlers["kill_reviewer"] = killReviewerHandler(ops)
	d.handlers["list_reviewers"] = listReviewersHandler(ops)
	return d
}

// Names lists every registered operation, for transports that need to
// advertise a schema (e.g. an MCP tool list).
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch invokes the named operation, converting any error into the
// error document shape {error, code, ...details} spec §6.1 promises: never
// a transport-level exception, always a document.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) map[string]any {
	handler, ok := d.handlers[name]
	if !ok {
		return errorDoc(brokererrors.InvalidInput("operation", "unknown operation \""+name+"\""))
	}
	out, err := handler(ctx, input)
	if err != nil {
		return errorDoc(err)
	}
	return out
}

func errorDoc(err error) map[string]any {
	be := brokererrors.As(err)
	if be == nil {
		return map[string]any{"error": err.Error()}
	}
	doc := map[string]any{"error": be.Message, "code": string(be.Code)}
	for k, v := range be.Details {
		doc[k] = v
	}
	return doc
}
