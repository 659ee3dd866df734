package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// InsertReviewer persists a freshly spawned worker's shadow row. Must run
// inside WithWriteTx.
func (s *Store) InsertReviewer(ctx context.Context, r *domain.Reviewer) error {
	now := nowISO()
	r.SpawnedAt = parseISO(now)
	r.LastActiveAt = r.SpawnedAt

	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO reviewers (id, display_name, session_token, status, pid, spawned_at, last_active_at,
			terminated_at, reviews_completed, approvals, rejections, total_review_seconds, exit_code)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.DisplayName, r.SessionToken, r.Status, nullInt(r.Pid), now, now,
		nil, r.ReviewsCompleted, r.Approvals, r.Rejections, r.TotalReviewSeconds, nullInt(r.ExitCode))
	if err != nil {
		return brokererrors.InternalStoreError("insert_reviewer", err)
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func ptrInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

const reviewerSelectColumns = `SELECT
	id, display_name, session_token, status, pid, spawned_at, last_active_at, terminated_at,
	reviews_completed, approvals, rejections, total_review_seconds, exit_code`

func scanReviewer(row rowScanner) (*domain.Reviewer, error) {
	var (
		r                        domain.Reviewer
		pid, exitCode            sql.NullInt64
		spawnedAt, lastActive    string
		terminatedAt             sql.NullString
	)
	if err := row.Scan(&r.ID, &r.DisplayName, &r.SessionToken, &r.Status, &pid, &spawnedAt, &lastActive,
		&terminatedAt, &r.ReviewsCompleted, &r.Approvals, &r.Rejections, &r.TotalReviewSeconds, &exitCode); err != nil {
		return nil, err
	}
	r.Pid = ptrInt(pid)
	r.SpawnedAt = parseISO(spawnedAt)
	r.LastActiveAt = parseISO(lastActive)
	r.TerminatedAt = ptrTime(terminatedAt)
	r.ExitCode = ptrInt(exitCode)
	return &r, nil
}

// GetReviewer fetches a reviewer by id.
func (s *Store) GetReviewer(ctx context.Context, id string) (*domain.Reviewer, error) {
	row := s.querier(ctx).QueryRowContext(ctx, reviewerSelectColumns+` FROM reviewers WHERE id = ?`, id)
	r, err := scanReviewer(row)
	if err == sql.ErrNoRows {
		return nil, brokererrors.NotFound("reviewer", id)
	}
	if err != nil {
		return nil, brokererrors.InternalStoreError("get_reviewer", err)
	}
	return r, nil
}

// ListReviewers returns every reviewer row, most recently spawned first.
func (s *Store) ListReviewers(ctx context.Context) ([]*domain.Reviewer, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, reviewerSelectColumns+` FROM reviewers ORDER BY spawned_at DESC`)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_reviewers", err)
	}
	defer rows.Close()

	var out []*domain.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_reviewers", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListActiveReviewersForSession returns active/draining reviewers whose
// session_token matches the current broker instance, used for active-count
// bookkeeping and reactive scaling.
func (s *Store) ListActiveReviewersForSession(ctx context.Context, sessionToken string) ([]*domain.Reviewer, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, reviewerSelectColumns+`
		FROM reviewers WHERE session_token = ? AND status IN ('active','draining')`, sessionToken)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_active_reviewers_for_session", err)
	}
	defer rows.Close()

	var out []*domain.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_active_reviewers_for_session", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStaleReviewers returns rows with status in {active,draining} whose
// session_token differs from the current session, per spec §4.5.5 step 1.
func (s *Store) ListStaleReviewers(ctx context.Context, currentSession string) ([]*domain.Reviewer, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, reviewerSelectColumns+`
		FROM reviewers WHERE status IN ('active','draining') AND session_token != ?`, currentSession)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_stale_reviewers", err)
	}
	defer rows.Close()

	var out []*domain.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_stale_reviewers", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListIdleReviewers returns active reviewers whose last_active_at predates
// the cutoff, per spec §4.5.4 rule 2 (caller filters "no open reviews").
func (s *Store) ListIdleReviewers(ctx context.Context, cutoff time.Time) ([]*domain.Reviewer, error) {
	cutoffStr := nullTime(&cutoff).String
	rows, err := s.querier(ctx).QueryContext(ctx, reviewerSelectColumns+`
		FROM reviewers WHERE status = 'active' AND last_active_at < ?`, cutoffStr)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_idle_reviewers", err)
	}
	defer rows.Close()

	var out []*domain.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_idle_reviewers", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExpiredReviewers returns active reviewers whose spawned_at predates
// the cutoff, per spec §4.5.4 rule 3.
func (s *Store) ListExpiredReviewers(ctx context.Context, cutoff time.Time) ([]*domain.Reviewer, error) {
	cutoffStr := nullTime(&cutoff).String
	rows, err := s.querier(ctx).QueryContext(ctx, reviewerSelectColumns+`
		FROM reviewers WHERE status = 'active' AND spawned_at < ?`, cutoffStr)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_expired_reviewers", err)
	}
	defer rows.Close()

	var out []*domain.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_expired_reviewers", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReviewer persists the full reviewer row back.
func (s *Store) UpdateReviewer(ctx context.Context, r *domain.Reviewer) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE reviewers SET status=?, pid=?, last_active_at=?, terminated_at=?,
			reviews_completed=?, approvals=?, rejections=?, total_review_seconds=?, exit_code=?
		WHERE id=?`,
		r.Status, nullInt(r.Pid), nullTime(&r.LastActiveAt).String, nullTime(r.TerminatedAt),
		r.ReviewsCompleted, r.Approvals, r.Rejections, r.TotalReviewSeconds, nullInt(r.ExitCode), r.ID)
	if err != nil {
		return brokererrors.InternalStoreError("update_reviewer", err)
	}
	return nil
}
