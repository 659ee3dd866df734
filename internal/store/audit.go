// Grounded on original_source/audit.py's record_event: a plain INSERT that
// always runs inside a caller-managed transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// RecordEvent appends one audit_events row. Must run inside WithWriteTx:
// callers manage the surrounding transaction so that an audit record and
// its triggering mutation commit or roll back atomically.
func (s *Store) RecordEvent(ctx context.Context, e *domain.AuditEvent) error {
	metaJSON, err := encodeMetadata(e.Metadata)
	if err != nil {
		return brokererrors.InternalStoreError("record_event", err)
	}
	created := nowISO()
	e.CreatedAt = parseISO(created)

	res, execErr := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO audit_events (review_id, event_type, actor, old_status, new_status, metadata, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		nullString(e.ReviewID), e.EventType, nullString(e.Actor), nullString(e.OldStatus), nullString(e.NewStatus),
		metaJSON, created)
	if execErr != nil {
		return brokererrors.InternalStoreError("record_event", execErr)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return brokererrors.InternalStoreError("record_event", err)
	}
	e.ID = id
	return nil
}

// ListAuditEvents returns events ordered by id ascending, optionally
// scoped to one review (nil reviewID means the global log).
func (s *Store) ListAuditEvents(ctx context.Context, reviewID *string) ([]*domain.AuditEvent, error) {
	query := `SELECT id, review_id, event_type, actor, old_status, new_status, metadata, created_at FROM audit_events`
	var args []any
	if reviewID != nil {
		query += ` WHERE review_id = ?`
		args = append(args, *reviewID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_audit_events", err)
	}
	defer rows.Close()

	var out []*domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_audit_events", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAuditEvent(row rowScanner) (*domain.AuditEvent, error) {
	var (
		e                                 domain.AuditEvent
		reviewID, actor, oldSt, newSt, md sql.NullString
		created                           string
	)
	if err := row.Scan(&e.ID, &reviewID, &e.EventType, &actor, &oldSt, &newSt, &md, &created); err != nil {
		return nil, err
	}
	e.ReviewID = ptrString(reviewID)
	e.Actor = ptrString(actor)
	e.OldStatus = ptrString(oldSt)
	e.NewStatus = ptrString(newSt)
	e.CreatedAt = parseISO(created)
	if md.Valid && md.String != "" {
		_ = json.Unmarshal([]byte(md.String), &e.Metadata)
	}
	return &e, nil
}
