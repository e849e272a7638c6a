package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireSyncLease takes or renews the store-wide sync lease for holder.
// Another holder's lease blocks until it expires; ErrSyncLeaseHeld is
// returned meanwhile. The read and the write share one IMMEDIATE
// transaction, so two processes on the same file never both succeed.
func (db *DB) AcquireSyncLease(ctx context.Context, holder string, ttl time.Duration) error {
	now := db.now()
	return db.WithTx(ctx, func(tx *Tx) error {
		var current, expires string
		err := tx.tx.QueryRowContext(ctx,
			`SELECT holder, expires_at FROM sync_lease WHERE id = 1`).Scan(&current, &expires)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read sync lease: %w", err)
		case current != holder:
			until, perr := time.Parse(time.RFC3339Nano, expires)
			if perr == nil && now.Before(until) {
				return ErrSyncLeaseHeld
			}
		}

		_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO sync_lease (id, holder, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		`, holder, now.Add(ttl).UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to write sync lease: %w", err)
		}
		return nil
	})
}

// ReleaseSyncLease drops the lease if holder still owns it.
func (db *DB) ReleaseSyncLease(ctx context.Context, holder string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM sync_lease WHERE id = 1 AND holder = ?`, holder); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}
