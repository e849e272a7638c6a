// Package store provides the on-device sample store.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// that keeps every captured sample together with its local sync state, and
// the per-device, per-day counters the allocator draws sample numbers from.
// It works without any network access.
//
// Tables:
//   - samples: one row per captured sample, keyed by the client-generated id
//   - day_counters: (device_id, day) -> last sample number handed out
//   - sync_lease: at most one row, the sync engine currently allowed to run
//
// A unique index on (device_id, capture_day, sample_number) backs the
// allocator's guarantee at the storage level.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when no sample has the requested id.
	ErrNotFound = errors.New("sample not found")
	// ErrNotPending is returned when deleting a sample that has already
	// been attempted or synced.
	ErrNotPending = errors.New("can only delete pending samples")
	// ErrRevisionChanged is returned by MarkSynced and MarkFailed when the
	// sample was edited after the sync engine read it. The edit stays
	// pending.
	ErrRevisionChanged = errors.New("sample edited during sync")
	// ErrSyncLeaseHeld is returned when another sync engine holds the lease.
	ErrSyncLeaseHeld = errors.New("sync lease held by another process")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the store at path.
//
// Connection pragmas (WAL, busy timeout, foreign keys) are passed in the
// DSN so that every pooled connection gets them. Transactions begin
// IMMEDIATE so a writer never has to upgrade a read lock.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "synchronous(normal)")
	params.Set("_txlock", "immediate")
	connStr := "file:" + path + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		retailer TEXT NOT NULL,
		customer TEXT NOT NULL DEFAULT '',
		supplier TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		pack_code TEXT NOT NULL DEFAULT '',

		-- decimals kept as text so they round-trip exactly
		size_kg TEXT,
		price_gbp TEXT,
		bird_temp_c TEXT,
		van_temp_c TEXT,

		use_by_date TEXT,
		sample_number INTEGER NOT NULL,
		created_at_local TEXT NOT NULL,
		created_at_utc TEXT NOT NULL DEFAULT '',
		capture_day TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		driver_id TEXT NOT NULL DEFAULT '',
		received_at_utc TEXT,

		sync_state TEXT NOT NULL DEFAULT 'pending',
		sync_error TEXT NOT NULL DEFAULT '',
		failure_kind TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TEXT,
		revision INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS day_counters (
		device_id TEXT NOT NULL,
		day TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (device_id, day)
	);

	CREATE TABLE IF NOT EXISTS sync_lease (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		holder TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := db.migrateSamples(ctx); err != nil {
		return err
	}

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_samples_state ON samples(sync_state);
	CREATE INDEX IF NOT EXISTS idx_samples_created_utc ON samples(created_at_utc);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_samples_number
	    ON samples(device_id, capture_day, sample_number);
	`
	if _, err := db.conn.ExecContext(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// migrateSamples brings a samples table from an older release up to date:
// it adds missing columns and backfills created_at_utc.
func (db *DB) migrateSamples(ctx context.Context) error {
	columns := []struct{ name, ddl string }{
		{"created_at_utc", `ALTER TABLE samples ADD COLUMN created_at_utc TEXT NOT NULL DEFAULT ''`},
		{"revision", `ALTER TABLE samples ADD COLUMN revision INTEGER NOT NULL DEFAULT 0`},
	}
	for _, col := range columns {
		var n int
		err := db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info('samples') WHERE name = ?`, col.name).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect samples table: %w", err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT id, created_at_local FROM samples WHERE created_at_utc = ''`)
	if err != nil {
		return fmt.Errorf("failed to read capture times: %w", err)
	}
	backfill := make(map[string]string)
	for rows.Next() {
		var id, local string
		if err := rows.Scan(&id, &local); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan capture time: %w", err)
		}
		t, err := parseCreatedAt(local)
		if err != nil {
			rows.Close()
			return fmt.Errorf("sample %s has corrupt created_at_local %q: %w", id, local, err)
		}
		backfill[id] = utcKey(t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating capture times: %w", err)
	}

	for id, key := range backfill {
		if _, err := db.conn.ExecContext(ctx,
			`UPDATE samples SET created_at_utc = ? WHERE id = ?`, key, id); err != nil {
			return fmt.Errorf("failed to backfill sample %s: %w", id, err)
		}
	}
	return nil
}

// Tx is a store transaction. It exposes the subset of store operations
// that must commit together with a sample number allocation.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing if fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
