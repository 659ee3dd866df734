package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// LastMessage returns the most recently inserted message for a review, or
// nil if none exist yet. Used to enforce turn alternation.
func (s *Store) LastMessage(ctx context.Context, reviewID string) (*domain.Message, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT id, review_id, sender_role, round, body, metadata, created_at
		FROM messages WHERE review_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, reviewID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, brokererrors.InternalStoreError("last_message", err)
	}
	return m, nil
}

// InsertMessage appends a message row. Must run inside WithWriteTx.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	metaJSON, err := encodeMetadata(m.Metadata)
	if err != nil {
		return brokererrors.InternalStoreError("insert_message", err)
	}
	created := nowISO()
	m.CreatedAt = parseISO(created)

	res, execErr := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO messages (review_id, sender_role, round, body, metadata, created_at)
		VALUES (?,?,?,?,?,?)`, m.ReviewID, m.SenderRole, m.Round, m.Body, metaJSON, created)
	if execErr != nil {
		return brokererrors.InternalStoreError("insert_message", execErr)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return brokererrors.InternalStoreError("insert_message", err)
	}
	m.ID = id
	return nil
}

// ListMessages returns a review's messages in stable insertion order
// (created_at ASC, id ASC per spec §4.4), optionally filtered to one round.
func (s *Store) ListMessages(ctx context.Context, reviewID string, round *int) ([]*domain.Message, error) {
	query := `SELECT id, review_id, sender_role, round, body, metadata, created_at
		FROM messages WHERE review_id = ?`
	args := []any{reviewID}
	if round != nil {
		query += ` AND round = ?`
		args = append(args, *round)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, brokererrors.InternalStoreError("list_messages", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, brokererrors.InternalStoreError("list_messages", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m        domain.Message
		metadata sql.NullString
		created  string
	)
	if err := row.Scan(&m.ID, &m.ReviewID, &m.SenderRole, &m.Round, &m.Body, &metadata, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = parseISO(created)
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
	}
	return &m, nil
}

// MessageSummary returns the message count and a preview of the most
// recent message for a review, used by get_activity_feed.
func (s *Store) MessageSummary(ctx context.Context, reviewID string) (count int, lastAt *time.Time, lastBody string, err error) {
	if err = s.querier(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE review_id = ?`, reviewID).Scan(&count); err != nil {
		return 0, nil, "", brokererrors.InternalStoreError("message_summary", err)
	}
	if count == 0 {
		return 0, nil, "", nil
	}

	var created string
	if err = s.querier(ctx).QueryRowContext(ctx, `
		SELECT body, created_at FROM messages WHERE review_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, reviewID).Scan(&lastBody, &created); err != nil {
		return 0, nil, "", brokererrors.InternalStoreError("message_summary", err)
	}
	t := parseISO(created)
	return count, &t, lastBody, nil
}

func encodeMetadata(meta map[string]any) (sql.NullString, error) {
	if meta == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
