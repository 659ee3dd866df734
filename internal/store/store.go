// Package store is the broker's embedded relational store: SQLite with
// WAL, a single writer serialized behind a process-wide write token, and
// the review/message/audit_event/reviewer tables. Grounded on the
// teacher's pkg/storage/postgres.BaseStore for the Querier/TxFromContext
// idiom (rewritten here for SQLite's `?` placeholders instead of
// PostgreSQL's `$N`) and on original_source/db.py for the WAL pragmas,
// schema, and migration list.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

// Store owns the single *sql.DB connection and the write token that
// serializes every BEGIN IMMEDIATE transaction. Exactly one Store exists
// per broker process, per spec §4.1 and §9 ("global state... created
// inside a lifespan scope").
type Store struct {
	db         *sql.DB
	writeToken sync.Mutex
}

// Open opens (creating if absent) the SQLite file at path, applies the
// WAL/busy-timeout/foreign-key pragmas from spec §4.1, and ensures schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one connection: reads and the write transaction share it

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a private (non-shared) in-memory database, used by
// tests.
func OpenInMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close checkpoints the WAL (TRUNCATE mode, per spec §9) and closes the
// connection.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

type txKey struct{}

// TxFromContext extracts the active transaction, if any, from ctx.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

func contextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Querier is whatever database/sql handle is appropriate for ctx: the
// active transaction, or the raw db for plain reads.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) querier(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// WithWriteTx runs fn inside a BEGIN IMMEDIATE ... COMMIT block, holding
// the process-wide write token for its entire duration. This is the one
// and only path mutating rows may take, per spec §4.1/§5: "Exactly one
// writer at a time is enforced by a process-wide mutex... taken around
// every BEGIN IMMEDIATE ... COMMIT block; readers do not take the token."
//
// On any error returned by fn (or by commit), the transaction is rolled
// back quietly before the error propagates, per spec §7.
func (s *Store) WithWriteTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.writeToken.Lock()
	defer s.writeToken.Unlock()

	// The DSN carries _txlock=immediate (mattn/go-sqlite3's hook for
	// choosing the BEGIN mode), so this BeginTx issues BEGIN IMMEDIATE at
	// the driver level rather than SQLite's default BEGIN DEFERRED.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return brokererrors.InternalStoreError("begin_immediate", err)
	}

	txCtx := contextWithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return brokererrors.InternalStoreError("commit", err)
	}
	return nil
}

// Reads never take the write token; they run against the shared *sql.DB
// handle directly (or an ambient tx, for call sites composing a read
// inside an ongoing write transaction).
