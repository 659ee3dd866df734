package store

import (
	"context"
	"database/sql"

	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// ReviewStats is the get_review_stats aggregate shape from spec §4.4.
type ReviewStats struct {
	Total                      int
	ByStatus                   map[string]int
	ByCategory                 map[string]int // "uncategorized" bucket included
	ApprovalRatePct            *float64
	AvgTimeToVerdictSeconds    *float64
	AvgReviewDurationSeconds   *float64
	AvgTimeInStateSeconds      map[string]*float64 // pending, claimed, approved, changes_requested
}

// ComputeReviewStats aggregates across the reviews and audit_events
// tables. This is a read; it does not take the write token.
func (s *Store) ComputeReviewStats(ctx context.Context) (*ReviewStats, error) {
	stats := &ReviewStats{
		ByStatus:              make(map[string]int),
		ByCategory:            make(map[string]int),
		AvgTimeInStateSeconds: make(map[string]*float64),
	}

	q := s.querier(ctx)

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`).Scan(&stats.Total); err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_total", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM reviews GROUP BY status`)
	if err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_by_status", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, brokererrors.InternalStoreError("review_stats_by_status", err)
		}
		stats.ByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_by_status", err)
	}

	catRows, err := q.QueryContext(ctx, `SELECT COALESCE(category, 'uncategorized'), COUNT(*) FROM reviews GROUP BY COALESCE(category, 'uncategorized')`)
	if err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_by_category", err)
	}
	for catRows.Next() {
		var category string
		var count int
		if err := catRows.Scan(&category, &count); err != nil {
			catRows.Close()
			return nil, brokererrors.InternalStoreError("review_stats_by_category", err)
		}
		stats.ByCategory[category] = count
	}
	catRows.Close()
	if err := catRows.Err(); err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_by_category", err)
	}

	verdictsTotal := 0
	var approvedCount int
	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events WHERE event_type = 'verdict_submitted'`).Scan(&verdictsTotal); err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_verdicts", err)
	}
	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events WHERE event_type = 'verdict_submitted' AND new_status = 'approved'`).Scan(&approvedCount); err != nil {
		return nil, brokererrors.InternalStoreError("review_stats_verdicts", err)
	}
	if verdictsTotal > 0 {
		pct := float64(approvedCount) / float64(verdictsTotal) * 100
		stats.ApprovalRatePct = &pct
	}

	stats.AvgTimeToVerdictSeconds = avgSecondsBetweenEvents(ctx, q, "review_claimed", "verdict_submitted")
	stats.AvgReviewDurationSeconds = avgSecondsBetweenEvents(ctx, q, "review_created", "review_closed")

	for _, state := range []string{"pending", "claimed", "approved", "changes_requested"} {
		stats.AvgTimeInStateSeconds[state] = avgTimeEnteringAndLeavingState(ctx, q, state)
	}

	return stats, nil
}

// avgSecondsBetweenEvents averages, per review, the elapsed seconds between
// its first occurrence of fromEvent and its first subsequent occurrence of
// toEvent. Reviews missing either event are excluded. Implemented with
// SQLite's julianday() since database/sql has no portable interval type.
func avgSecondsBetweenEvents(ctx context.Context, q Querier, fromEvent, toEvent string) *float64 {
	row := q.QueryRowContext(ctx, `
		SELECT AVG((julianday(t.created_at) - julianday(f.created_at)) * 86400.0)
		FROM (SELECT review_id, MIN(created_at) AS created_at FROM audit_events WHERE event_type = ? GROUP BY review_id) f
		JOIN (SELECT review_id, MIN(created_at) AS created_at FROM audit_events WHERE event_type = ? GROUP BY review_id) t
		ON f.review_id = t.review_id AND t.created_at >= f.created_at`, fromEvent, toEvent)

	var avg sql.NullFloat64
	if err := row.Scan(&avg); err != nil || !avg.Valid {
		return nil
	}
	return &avg.Float64
}

// avgTimeEnteringAndLeavingState approximates average dwell time in a status by
// pairing each review's entry into that status (its new_status on any
// audit event) with its next audit event timestamp.
func avgTimeEnteringAndLeavingState(ctx context.Context, q Querier, state string) *float64 {
	row := q.QueryRowContext(ctx, `
		SELECT AVG((julianday(nxt.created_at) - julianday(e.created_at)) * 86400.0)
		FROM audit_events e
		JOIN audit_events nxt ON nxt.review_id = e.review_id AND nxt.id > e.id
		WHERE e.new_status = ?
		AND nxt.id = (SELECT MIN(id) FROM audit_events WHERE review_id = e.review_id AND id > e.id)`, state)

	var avg sql.NullFloat64
	if err := row.Scan(&avg); err != nil || !avg.Valid {
		return nil
	}
	return &avg.Float64
}
