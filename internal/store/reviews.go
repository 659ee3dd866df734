package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// nowISO returns the current instant formatted per spec §4.4: ISO-8601
// with millisecond precision and a Z suffix.
func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func parseISO(s string) time.Time {
	t, _ := time.Parse("2006-01-02T15:04:05.000Z", s)
	return t
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func encodeAffectedFiles(files []domain.AffectedFile) sql.NullString {
	if files == nil {
		return sql.NullString{}
	}
	b, _ := json.Marshal(files)
	return sql.NullString{String: string(b), Valid: true}
}

func decodeAffectedFiles(ns sql.NullString) []domain.AffectedFile {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var files []domain.AffectedFile
	if err := json.Unmarshal([]byte(ns.String), &files); err != nil {
		return nil
	}
	return files
}

// InsertReview inserts a fresh review row. Must be called inside
// WithWriteTx.
func (s *Store) InsertReview(ctx context.Context, r *domain.Review) error {
	q := s.querier(ctx)
	now := nowISO()
	r.CreatedAt = parseISO(now)
	r.UpdatedAt = r.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO reviews (
			id, status, intent, description, diff, affected_files, agent_type, agent_role, phase,
			plan, task, project, priority, category, current_round, counter_patch,
			counter_patch_affected_files, counter_patch_status, claimed_by, claim_generation,
			claimed_at, skip_diff_validation, verdict_reason, parent_id, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Status, r.Intent, nullString(r.Description), nullString(r.Diff), encodeAffectedFiles(r.AffectedFiles),
		r.AgentType, r.AgentRole, r.Phase, nullString(r.Plan), nullString(r.Task), nullString(r.Project),
		r.Priority, nullString(r.Category), r.CurrentRound, nullString(r.CounterPatch),
		encodeAffectedFiles(r.CounterPatchAffectedFiles), counterPatchStatusValue(r.CounterPatchStatus),
		nullString(r.ClaimedBy), r.ClaimGeneration, nullTime(r.ClaimedAt), r.SkipDiffValidation,
		nullString(r.VerdictReason), nullString(r.ParentID), now, now,
	)
	if err != nil {
		return brokererrors.InternalStoreError("insert_review", err)
	}
	return nil
}

func counterPatchStatusValue(cp *domain.CounterPatchStatus) sql.NullString {
	if cp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*cp), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format("2006-01-02T15:04:05.000Z"), Valid: true}
}

func ptrTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseISO(ns.String)
	return &t
}

// GetReview fetches a review by id, or returns a NotFound BrokerError.
func (s *Store) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	row := s.querier(ctx).QueryRowContext(ctx, reviewSelectColumns+` FROM reviews WHERE id = ?`, id)
	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, brokererrors.NotFound("review", id)
	}
	if err != nil {
		return nil, brokererrors.InternalStoreError("get_review", err)
	}
	return r, nil
}

const reviewSelectColumns = `SELECT
	id, status, intent, description, diff, affected_files, agent_type, agent_role, phase,
	plan, task, project, priority, category, current_round, counter_patch,
	counter_patch_affected_files, counter_patch_status, claimed_by, claim_generation,
	claimed_at, skip_diff_validation, verdict_reason, parent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*domain.Review, error) {
	var (
		r                         domain.Review
		description, diff         sql.NullString
		affectedFiles             sql.NullString
		plan, task, project       sql.NullString
		category                  sql.NullString
		counterPatch              sql.NullString
		counterPatchAffectedFiles sql.NullString
		counterPatchStatus        sql.NullString
		claimedBy                 sql.NullString
		claimedAt                 sql.NullString
		verdictReason             sql.NullString
		parentID                  sql.NullString
		createdAt, updatedAt      string
	)
	if err := row.Scan(
		&r.ID, &r.Status, &r.Intent, &description, &diff, &affectedFiles, &r.AgentType, &r.AgentRole, &r.Phase,
		&plan, &task, &project, &r.Priority, &category, &r.CurrentRound, &counterPatch,
		&counterPatchAffectedFiles, &counterPatchStatus, &claimedBy, &r.ClaimGeneration,
		&claimedAt, &r.SkipDiffValidation, &verdictReason, &parentID, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	r.Description = ptrString(description)
	r.Diff = ptrString(diff)
	r.AffectedFiles = decodeAffectedFiles(affectedFiles)
	r.Plan = ptrString(plan)
	r.Task = ptrString(task)
	r.Project = ptrString(project)
	r.Category = ptrString(category)
	r.CounterPatch = ptrString(counterPatch)
	r.CounterPatchAffectedFiles = decodeAffectedFiles(counterPatchAffectedFiles)
	if counterPatchStatus.Valid {
		v := domain.CounterPatchStatus(counterPatchStatus.String)
		r.CounterPatchStatus = &v
	}
	r.ClaimedBy = ptrString(claimedBy)
	r.ClaimedAt = ptrTime(claimedAt)
	r.VerdictReason = ptrString(verdictReason)
	r.ParentID = ptrString(parentID)
	r.CreatedAt = parseISO(createdAt)
	r.UpdatedAt = parseISO(updatedAt)
	return &r, nil
}

// UpdateReview persists the full row back (the Operations layer always
// reads-modifies-writes inside one write transaction, so a blanket UPDATE
// is simpler and no less correct than per-field patches).
func (s *Store) UpdateReview(ctx context.Context, r *domain.Review) error {
	q := s.querier(ctx)
	updatedAt := nowISO()
	r.UpdatedAt = parseISO(updatedAt)

	_, err := q.ExecContext(ctx, `
		UPDATE reviews SET
			status=?, intent=?, description=?, diff=?, affected_files=?, agent_type=?, agent_role=?, phase=?,
			plan=?, task=?, project=?, priority=?, category=?, current_round=?, counter_patch=?,
			counter_patch_affected_files=?, counter_patch_status=?, claimed_by=?, claim_generation=?,
			claimed_at=?, skip_diff_validation=?, verdict_reason=?, parent_id=?, updated_at=?
		WHERE id=?`,
		r.Status, r.Intent, nullString(r.Description), nullString(r.Diff), encodeAffectedFiles(r.AffectedFiles),
		r.AgentType, r.AgentRole, r.Phase, nullString(r.Plan), nullString(r.Task), nullString(r.Project),
		r.Priority, nullString(r.Category), r.CurrentRound, nullString(r.CounterPatch),
		encodeAffectedFiles(r.CounterPatchAffectedFiles), counterPatchStatusValue(r.CounterPatchStatus),
		nullString(r.ClaimedBy), r.ClaimGeneration, nullTime(r.ClaimedAt), r.SkipDiffValidation,
		nullString(r.VerdictReason), nullString(r.ParentID), updatedAt, r.ID,
	)
	if err != nil {
		return brokererrors.InternalStoreError("update_review", err)
	}
	return nil
}

// ListReviewsFilter narrows list_reviews and get_activity_feed.
type ListReviewsFilter struct {
	Status   *domain.ReviewStatus
	Category *string
	Projects []string // nil/empty = no project filter
}

// ListReviews returns reviews ordered by priority (critical, normal, low)
// then created_at ascending, per spec §4.4 and testable property 7.
func (s *Store) ListReviews(ctx context.Context, f ListReviewsFilter) ([]*domain.Review, error) {
	query := reviewSelectColumns + ` FROM reviews WHERE 1=1`
	var args []any

	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, *f.Status)
	}
	if f.Category != nil {
		query += ` AND category = ?`
		args = append(args, *f.Category)
	}
	if len(f.Projects) > 0 {
		query += ` AND project IN (` + placeholders(len(f.Projects)) + `)`
		for _, p := range f.Projects {
			args = append(args, p)
		}
	}
	query += ` ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'normal' THEN 1 WHEN 'low' THEN 2 ELSE 3 END ASC, created_at ASC`

	return s.queryReviews(ctx, query, args...)
}

// ListActivityFeed returns reviews ordered updated_at desc, id desc (a
// deterministic tie-break approximated here by rowid desc since reviews
// use string ids).
func (s *Store) ListActivityFeed(ctx context.Context, f ListReviewsFilter) ([]*domain.Review, error) {
	query := reviewSelectColumns + `, rowid FROM reviews WHERE 1=1`
	var args []any
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, *f.Status)
	}
	if f.Category != nil {
		query += ` AND category = ?`
		args = append(args, *f.Category)
	}
	if len(f.Projects) > 0 {
		query += ` AND project IN (` + placeholders(len(f.Projects)) + `)`
		for _, p := range f.Projects {
			args = append(args, p)
		}
	}
	query += ` ORDER BY updated_at DESC, rowid DESC`

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_activity_feed", err)
	}
	defer rows.Close()

	var out []*domain.Review
	for rows.Next() {
		var rowid int64
		r, err := scanReview(&trailingColumnRow{Rows: rows, trailing: []any{&rowid}})
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_activity_feed", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// trailingColumnRow lets scanReview's fixed column list be reused against a
// query that appends extra trailing columns (here, rowid, for a stable
// updated_at DESC tie-break).
type trailingColumnRow struct {
	*sql.Rows
	trailing []any
}

func (r *trailingColumnRow) Scan(dest ...any) error {
	return r.Rows.Scan(append(dest, r.trailing...)...)
}

func (s *Store) queryReviews(ctx context.Context, query string, args ...any) ([]*domain.Review, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_reviews", err)
	}
	defer rows.Close()

	var out []*domain.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_reviews", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

// CountOpenReviewsForReviewer counts claimed reviews owned by
// reviewerID that are still open (status in claimed/in_review), used by
// drain_reviewer and the dead-process reaper.
func (s *Store) CountOpenReviewsForReviewer(ctx context.Context, reviewerID string) (int, error) {
	var count int
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reviews WHERE claimed_by = ? AND status IN ('claimed','in_review')`,
		reviewerID).Scan(&count)
	if err != nil {
		return 0, brokererrors.InternalStoreError("count_open_reviews_for_reviewer", err)
	}
	return count, nil
}

// ListClaimedReviewsForReviewer returns every review still attached to
// reviewerID, used by the dead-process reaper: claimed/in_review rows to
// reclaim, plus pending rows that retain claimed_by as a soft reservation
// (spec §4.5.4 rule 5) so those get detached and their QUEUE_TOPIC
// notification fires too.
func (s *Store) ListClaimedReviewsForReviewer(ctx context.Context, reviewerID string) ([]*domain.Review, error) {
	return s.queryReviews(ctx, reviewSelectColumns+` FROM reviews WHERE claimed_by = ? AND status IN ('claimed','in_review','pending')`, reviewerID)
}

// ListTimedOutClaims returns claimed reviews whose effective claim instant
// predates the cutoff, per spec §4.5.4 rule 4
// (COALESCE(claimed_at, updated_at, created_at)).
func (s *Store) ListTimedOutClaims(ctx context.Context, cutoff time.Time) ([]*domain.Review, error) {
	cutoffStr := nullTime(&cutoff).String
	return s.queryReviews(ctx, reviewSelectColumns+`
		FROM reviews
		WHERE status = 'claimed'
		  AND COALESCE(claimed_at, updated_at, created_at) < ?`, cutoffStr)
}
