package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// schemaSQL creates the two root tables, grounded on
// original_source/db.py's SCHEMA_SQL.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK (status IN ('pending','claimed','in_review','approved','changes_requested','closed')),
	intent TEXT NOT NULL,
	description TEXT,
	diff TEXT,
	affected_files TEXT,
	agent_type TEXT NOT NULL,
	agent_role TEXT NOT NULL CHECK (agent_role IN ('proposer','reviewer')),
	phase TEXT NOT NULL,
	plan TEXT,
	task TEXT,
	project TEXT,
	priority TEXT NOT NULL CHECK (priority IN ('critical','normal','low')),
	category TEXT,
	current_round INTEGER NOT NULL DEFAULT 1,
	counter_patch TEXT,
	counter_patch_affected_files TEXT,
	counter_patch_status TEXT CHECK (counter_patch_status IN ('pending','accepted','rejected') OR counter_patch_status IS NULL),
	claimed_by TEXT,
	claim_generation INTEGER NOT NULL DEFAULT 0,
	claimed_at TEXT,
	skip_diff_validation INTEGER NOT NULL DEFAULT 0,
	verdict_reason TEXT,
	parent_id TEXT REFERENCES reviews(id),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
CREATE INDEX IF NOT EXISTS idx_reviews_project ON reviews(project);
CREATE INDEX IF NOT EXISTS idx_reviews_updated_at ON reviews(updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	review_id TEXT NOT NULL REFERENCES reviews(id),
	sender_role TEXT NOT NULL CHECK (sender_role IN ('proposer','reviewer')),
	round INTEGER NOT NULL,
	body TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_review_id ON messages(review_id, created_at, id);
`

// schemaMigrations is a linear, forward-only list applied in order after
// schemaSQL, grounded on original_source/db.py's SCHEMA_MIGRATIONS. Column
// additions are idempotent: "duplicate column name" errors are swallowed.
var schemaMigrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		review_id TEXT REFERENCES reviews(id),
		event_type TEXT NOT NULL,
		actor TEXT,
		old_status TEXT,
		new_status TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_review_id ON audit_events(review_id, id)`,
	`CREATE TABLE IF NOT EXISTS reviewers (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		session_token TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active','draining','terminated')),
		pid INTEGER,
		spawned_at TEXT NOT NULL,
		last_active_at TEXT NOT NULL,
		terminated_at TEXT,
		reviews_completed INTEGER NOT NULL DEFAULT 0,
		approvals INTEGER NOT NULL DEFAULT 0,
		rejections INTEGER NOT NULL DEFAULT 0,
		total_review_seconds REAL NOT NULL DEFAULT 0,
		exit_code INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewers_session_token ON reviewers(session_token)`,
	`ALTER TABLE reviewers ADD COLUMN exit_code INTEGER`,
}

// ensureSchema creates the root tables, then applies every migration in
// order, swallowing "duplicate column name" failures so repeated startups
// against an already-migrated file are no-ops. Any other migration failure
// is returned as an InternalStoreError.
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return brokererrors.InternalStoreError("ensure_schema", err)
	}

	for i, stmt := range schemaMigrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return brokererrors.InternalStoreError(fmt.Sprintf("migration_%d", i), err)
		}
	}

	return s.migrateAuditEventsReviewIDNullable(ctx)
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateAuditEventsReviewIDNullable detects a legacy audit_events table
// whose review_id column is NOT NULL (by inspecting PRAGMA table_info, as
// neither SQLite nor database/sql expose column nullability any other
// way) and rebuilds it with review_id nullable, preserving every row and
// index. Grounded on original_source/db.py's
// _migrate_audit_events_review_id_nullable, and spec §9's Open Question
// about this exact migration.
func (s *Store) migrateAuditEventsReviewIDNullable(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(audit_events)`)
	if err != nil {
		return brokererrors.InternalStoreError("inspect_audit_events", err)
	}
	defer rows.Close()

	needsRebuild := false
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return brokererrors.InternalStoreError("inspect_audit_events", err)
		}
		if name == "review_id" && notNull == 1 {
			needsRebuild = true
		}
	}
	if err := rows.Err(); err != nil {
		return brokererrors.InternalStoreError("inspect_audit_events", err)
	}
	if !needsRebuild {
		return nil
	}

	return s.WithWriteTx(ctx, func(ctx context.Context) error {
		q := s.querier(ctx)
		stmts := []string{
			`CREATE TABLE audit_events_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				review_id TEXT REFERENCES reviews(id),
				event_type TEXT NOT NULL,
				actor TEXT,
				old_status TEXT,
				new_status TEXT,
				metadata TEXT,
				created_at TEXT NOT NULL
			)`,
			`INSERT INTO audit_events_new (id, review_id, event_type, actor, old_status, new_status, metadata, created_at)
			 SELECT id, review_id, event_type, actor, old_status, new_status, metadata, created_at FROM audit_events`,
			`DROP TABLE audit_events`,
			`ALTER TABLE audit_events_new RENAME TO audit_events`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_review_id ON audit_events(review_id, id)`,
		}
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return brokererrors.InternalStoreError("migrate_audit_events_review_id_nullable", err)
			}
		}
		return nil
	})
}
