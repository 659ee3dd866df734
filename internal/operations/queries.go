package operations

import (
	"context"
	"strings"
	"time"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
	"github.com/gsd-tools/review-broker/internal/store"
)

// ListReviewsInput is list_reviews' combined filter/wait input.
type ListReviewsInput struct {
	Status      *domain.ReviewStatus
	Category    *string
	Project     *string
	Projects    []string
	Wait        bool
	WaitTimeout time.Duration
}

func resolveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultWaitTimeout
	}
	return d
}

func (o *Operations) resolveProjectFilter(project *string, projects []string) ([]string, error) {
	if project != nil && len(projects) > 0 {
		return nil, brokererrors.InvalidInput("project", "project and projects[] cannot both be supplied")
	}
	if project != nil {
		return []string{*project}, nil
	}
	return projects, nil
}

// ListReviews implements list_reviews (spec §4.4), including the
// wait=true long-poll restricted to status=pending.
func (o *Operations) ListReviews(ctx context.Context, in ListReviewsInput) (map[string]any, error) {
	if in.Wait && (in.Status == nil || *in.Status != domain.StatusPending) {
		return nil, brokererrors.InvalidInput("wait", "wait=true requires status=pending")
	}
	projects, err := o.resolveProjectFilter(in.Project, in.Projects)
	if err != nil {
		return nil, err
	}

	filter := store.ListReviewsFilter{Status: in.Status, Category: in.Category, Projects: projects}
	reviews, err := o.store.ListReviews(ctx, filter)
	if err != nil {
		return nil, err
	}

	if in.Wait && len(reviews) == 0 {
		version := o.bus.CurrentVersion(notifyQueueTopic)
		if o.bus.WaitForChange(ctx, notifyQueueTopic, resolveTimeout(in.WaitTimeout), version) {
			reviews, err = o.store.ListReviews(ctx, filter)
			if err != nil {
				return nil, err
			}
		}
	}

	return map[string]any{"reviews": reviewSummaries(reviews)}, nil
}

func reviewSummaries(reviews []*domain.Review) []map[string]any {
	out := make([]map[string]any, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, map[string]any{
			"id": r.ID, "status": string(r.Status), "intent": r.Intent, "agent_type": r.AgentType,
			"phase": r.Phase, "priority": string(r.Priority), "project": strOrNil(r.Project),
			"category": strOrNil(r.Category), "created_at": isoOrNil(&r.CreatedAt),
		})
	}
	return out
}

// GetReviewStatus implements get_review_status (spec §4.4), with optional
// long-poll on the review's own topic.
func (o *Operations) GetReviewStatus(ctx context.Context, reviewID string, wait bool, waitTimeout time.Duration) (map[string]any, error) {
	if wait {
		version := o.bus.CurrentVersion(reviewID)
		o.bus.WaitForChange(ctx, reviewID, resolveTimeout(waitTimeout), version)
	}

	review, err := o.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id": review.ID, "status": string(review.Status), "priority": string(review.Priority),
		"current_round": review.CurrentRound, "claimed_by": strOrNil(review.ClaimedBy),
		"claim_generation": review.ClaimGeneration, "category": strOrNil(review.Category),
		"updated_at": isoOrNil(&review.UpdatedAt),
	}, nil
}

// GetProposal implements get_proposal (spec §4.4): the only query that
// exposes the raw diff.
func (o *Operations) GetProposal(ctx context.Context, reviewID string) (map[string]any, error) {
	review, err := o.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		"id": review.ID, "intent": review.Intent, "description": strOrNil(review.Description),
		"diff": strOrNil(review.Diff), "affected_files": affectedFilesDoc(review.AffectedFiles),
	}
	if review.CounterPatch != nil {
		doc["counter_patch"] = *review.CounterPatch
		doc["counter_patch_affected_files"] = affectedFilesDoc(review.CounterPatchAffectedFiles)
	}
	if review.CounterPatchStatus != nil {
		doc["counter_patch_status"] = string(*review.CounterPatchStatus)
	}
	return doc, nil
}

// GetDiscussion implements get_discussion (spec §4.4).
func (o *Operations) GetDiscussion(ctx context.Context, reviewID string, round *int) (map[string]any, error) {
	messages, err := o.store.ListMessages(ctx, reviewID, round)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		docs = append(docs, map[string]any{
			"id": m.ID, "review_id": m.ReviewID, "sender_role": string(m.SenderRole),
			"round": m.Round, "body": m.Body, "metadata": m.Metadata, "created_at": isoOrNil(&m.CreatedAt),
		})
	}
	return map[string]any{"messages": docs, "count": len(docs)}, nil
}

const activityPreviewLimit = 120

func truncatePreview(body string) string {
	if len(body) <= activityPreviewLimit {
		return body
	}
	return body[:activityPreviewLimit]
}

// GetActivityFeed implements get_activity_feed (spec §4.4), ordered
// updated_at desc with a message-count/preview summary per review.
func (o *Operations) GetActivityFeed(ctx context.Context, status *domain.ReviewStatus, category, project *string) (map[string]any, error) {
	projects, err := o.resolveProjectFilter(project, nil)
	if err != nil {
		return nil, err
	}
	reviews, err := o.store.ListActivityFeed(ctx, store.ListReviewsFilter{Status: status, Category: category, Projects: projects})
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]any, 0, len(reviews))
	for _, r := range reviews {
		count, lastAt, lastBody, err := o.store.MessageSummary(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		doc := map[string]any{
			"id": r.ID, "status": string(r.Status), "intent": r.Intent, "project": strOrNil(r.Project),
			"category": strOrNil(r.Category), "updated_at": isoOrNil(&r.UpdatedAt),
			"message_count": count, "last_message_at": isoOrNil(lastAt),
			"last_message_preview": strings.TrimSpace(truncatePreview(lastBody)),
		}
		docs = append(docs, doc)
	}
	return map[string]any{"reviews": docs, "count": len(docs)}, nil
}

// GetReviewTimeline implements get_review_timeline (spec §4.4).
func (o *Operations) GetReviewTimeline(ctx context.Context, reviewID string) (map[string]any, error) {
	review, err := o.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	events, err := o.store.ListAuditEvents(ctx, &reviewID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"review_id": reviewID, "intent": review.Intent, "current_status": string(review.Status),
		"category": strOrNil(review.Category), "events": auditEventDocs(events), "event_count": len(events),
	}, nil
}

// GetAuditLog implements get_audit_log (spec §4.4): global when reviewID
// is nil.
func (o *Operations) GetAuditLog(ctx context.Context, reviewID *string) (map[string]any, error) {
	events, err := o.store.ListAuditEvents(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": auditEventDocs(events), "count": len(events)}, nil
}

func auditEventDocs(events []*domain.AuditEvent) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id": e.ID, "review_id": strOrNil(e.ReviewID), "event_type": string(e.EventType),
			"actor": strOrNil(e.Actor), "old_status": strOrNil(e.OldStatus), "new_status": strOrNil(e.NewStatus),
			"metadata": e.Metadata, "created_at": isoOrNil(&e.CreatedAt),
		})
	}
	return out
}

// GetReviewStats implements get_review_stats (spec §4.4).
func (o *Operations) GetReviewStats(ctx context.Context) (map[string]any, error) {
	stats, err := o.store.ComputeReviewStats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total": stats.Total, "by_status": stats.ByStatus, "by_category": stats.ByCategory,
		"approval_rate_pct": floatOrNil(stats.ApprovalRatePct),
		"avg_time_to_verdict_seconds": floatOrNil(stats.AvgTimeToVerdictSeconds),
		"avg_review_duration_seconds": floatOrNil(stats.AvgReviewDurationSeconds),
		"avg_time_in_state_seconds":   floatMapOrNil(stats.AvgTimeInStateSeconds),
	}, nil
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatMapOrNil(m map[string]*float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = floatOrNil(v)
	}
	return out
}
