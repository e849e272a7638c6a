package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microsearch/drivercapture/internal/sample"
)

const sampleColumns = `id, description, retailer, customer, supplier, code, pack_code,
	size_kg, price_gbp, bird_temp_c, van_temp_c, use_by_date,
	sample_number, created_at_local, device_id, driver_id, received_at_utc,
	sync_state, sync_error, failure_kind, attempts, last_attempt_at, revision`

// Increment atomically bumps the counter for (deviceID, day) and returns
// the new value. A day without a counter row starts at 1.
func (db *DB) Increment(ctx context.Context, deviceID, day string) (int, error) {
	return increment(ctx, db.conn, deviceID, day)
}

// Increment is the transactional variant of DB.Increment.
func (tx *Tx) Increment(ctx context.Context, deviceID, day string) (int, error) {
	return increment(ctx, tx.tx, deviceID, day)
}

func increment(ctx context.Context, q querier, deviceID, day string) (int, error) {
	query := `
	INSERT INTO day_counters (device_id, day, value) VALUES (?, ?, 1)
	ON CONFLICT(device_id, day) DO UPDATE SET value = value + 1
	RETURNING value
	`
	var value int
	if err := q.QueryRowContext(ctx, query, deviceID, day).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to increment day counter %s/%s: %w", deviceID, day, err)
	}
	return value, nil
}

// SeedCounter raises the counter for (deviceID, day) to at least value.
// It never lowers a counter.
func (db *DB) SeedCounter(ctx context.Context, deviceID, day string, value int) error {
	query := `
	INSERT INTO day_counters (device_id, day, value) VALUES (?, ?, ?)
	ON CONFLICT(device_id, day) DO UPDATE SET value = MAX(value, excluded.value)
	`
	if _, err := db.conn.ExecContext(ctx, query, deviceID, day, value); err != nil {
		return fmt.Errorf("failed to seed day counter %s/%s: %w", deviceID, day, err)
	}
	return nil
}

// CounterValue returns the last number handed out for (deviceID, day), or
// 0 if none has been.
func (db *DB) CounterValue(ctx context.Context, deviceID, day string) (int, error) {
	var value int
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM day_counters WHERE device_id = ? AND day = ?`, deviceID, day).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read day counter: %w", err)
	}
	return value, nil
}

// AppendSample stores a new pending sample.
func (db *DB) AppendSample(ctx context.Context, s *sample.Sample) error {
	return appendSample(ctx, db.conn, s)
}

// AppendSample is the transactional variant of DB.AppendSample.
func (tx *Tx) AppendSample(ctx context.Context, s *sample.Sample) error {
	return appendSample(ctx, tx.tx, s)
}

func appendSample(ctx context.Context, q querier, s *sample.Sample) error {
	if s.SyncState == "" {
		s.SyncState = sample.StatePending
	}
	if s.SyncState != sample.StatePending {
		return fmt.Errorf("new sample %s must be pending (got %s)", s.ID, s.SyncState)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}
	return insertSample(ctx, q, s, false)
}

// ImportSample stores a sample as-is, keeping its sync state. Existing ids
// are left untouched; the return value reports whether a row was written.
func (db *DB) ImportSample(ctx context.Context, s *sample.Sample) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, fmt.Errorf("invalid sample: %w", err)
	}
	if err := insertSample(ctx, db.conn, s, true); err != nil {
		if errors.Is(err, errDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var errDuplicate = errors.New("duplicate sample id")

func insertSample(ctx context.Context, q querier, s *sample.Sample, ignoreDup bool) error {
	query := `INSERT INTO samples (` + sampleColumns + `, capture_day, created_at_utc)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ignoreDup {
		query += ` ON CONFLICT(id) DO NOTHING`
	}

	res, err := q.ExecContext(ctx, query,
		s.ID,
		s.Description,
		s.Retailer,
		s.Customer,
		s.Supplier,
		s.Code,
		s.PackCode,
		s.SizeKg,
		s.PriceGBP,
		s.BirdTempC,
		s.VanTempC,
		dateToNullString(s.UseByDate),
		s.SampleNumber,
		s.CreatedAtLocal.Format(sample.OffsetTimeLayout),
		s.DeviceID,
		s.DriverID,
		timeToNullString(s.ReceivedAtUTC),
		string(s.SyncState),
		s.SyncError,
		string(s.FailureKind),
		s.Attempts,
		timeToNullString(s.LastAttemptAt),
		s.Revision,
		s.Day(),
		utcKey(s.CreatedAtLocal),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample %s: %w", s.ID, err)
	}
	if ignoreDup {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errDuplicate
		}
	}
	return nil
}

// GetSample retrieves a single sample by id. Returns ErrNotFound if absent.
func (db *DB) GetSample(ctx context.Context, id string) (*sample.Sample, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, id)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListFilter configures ListSamples.
type ListFilter struct {
	// States restricts to the given states (empty = all).
	States []sample.SyncState
	// OldestFirst orders by capture time ascending; the default is newest first.
	OldestFirst bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results.
	Offset int
}

// ListSamples retrieves samples matching filter.
func (db *DB) ListSamples(ctx context.Context, filter ListFilter) ([]*sample.Sample, error) {
	var conditions []string
	var args []any

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, st := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "sync_state IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + sampleColumns + ` FROM samples`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if filter.OldestFirst {
		query += " ORDER BY created_at_utc ASC, sample_number ASC, id ASC"
	} else {
		query += " ORDER BY created_at_utc DESC, sample_number DESC, id DESC"
	}

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var samples []*sample.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}
	return samples, nil
}

// ListSyncable returns every pending or failed sample, oldest capture first.
func (db *DB) ListSyncable(ctx context.Context) ([]*sample.Sample, error) {
	return db.ListSamples(ctx, ListFilter{
		States:      []sample.SyncState{sample.StatePending, sample.StateFailed},
		OldestFirst: true,
	})
}

// MarkSynced records a successful remote write of the given revision.
//
// If the sample was edited since that revision was read, it stays pending
// so the edit is sent on the next pass; the attempt and the server receipt
// time are still recorded, and ErrRevisionChanged is returned.
func (db *DB) MarkSynced(ctx context.Context, id string, revision int, receivedAt *time.Time, attemptedAt time.Time) error {
	query := `
	UPDATE samples SET
		sync_state = ?,
		sync_error = '',
		failure_kind = '',
		received_at_utc = COALESCE(?, received_at_utc),
		attempts = attempts + 1,
		last_attempt_at = ?
	WHERE id = ? AND revision = ?
	`
	err := db.updateOne(ctx, id, query,
		string(sample.StateSynced),
		timeToNullString(receivedAt),
		attemptedAt.UTC().Format(time.RFC3339Nano),
		id,
		revision,
	)
	if errors.Is(err, ErrNotFound) {
		return db.recordStaleAttempt(ctx, id, receivedAt, attemptedAt)
	}
	return err
}

// MarkFailed records a failed remote write of the given revision. The
// sample stays eligible for the next sync pass. A sample edited since that
// revision was read stays pending and ErrRevisionChanged is returned.
func (db *DB) MarkFailed(ctx context.Context, id string, revision int, reason string, kind sample.FailureKind, attemptedAt time.Time) error {
	query := `
	UPDATE samples SET
		sync_state = ?,
		sync_error = ?,
		failure_kind = ?,
		attempts = attempts + 1,
		last_attempt_at = ?
	WHERE id = ? AND revision = ?
	`
	err := db.updateOne(ctx, id, query,
		string(sample.StateFailed),
		reason,
		string(kind),
		attemptedAt.UTC().Format(time.RFC3339Nano),
		id,
		revision,
	)
	if errors.Is(err, ErrNotFound) {
		return db.recordStaleAttempt(ctx, id, nil, attemptedAt)
	}
	return err
}

// recordStaleAttempt keeps the attempt bookkeeping of a write whose
// revision was superseded, without touching the sync state. The attempt
// count matters: a sample that may exist remotely must not be deletable.
func (db *DB) recordStaleAttempt(ctx context.Context, id string, receivedAt *time.Time, attemptedAt time.Time) error {
	query := `
	UPDATE samples SET
		received_at_utc = COALESCE(?, received_at_utc),
		attempts = attempts + 1,
		last_attempt_at = ?
	WHERE id = ?
	`
	if err := db.updateOne(ctx, id, query,
		timeToNullString(receivedAt),
		attemptedAt.UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return err
	}
	return ErrRevisionChanged
}

// UpdateSample overwrites the editable fields of a stored sample and puts
// it back in the pending queue so the edit reaches the remote store. The
// id, sample number, capture time and device are never changed. The
// revision is bumped and written back to s.
func (db *DB) UpdateSample(ctx context.Context, s *sample.Sample) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}

	query := `
	UPDATE samples SET
		description = ?, retailer = ?, customer = ?, supplier = ?,
		code = ?, pack_code = ?, size_kg = ?, price_gbp = ?,
		bird_temp_c = ?, van_temp_c = ?, use_by_date = ?, driver_id = ?,
		sync_state = ?, sync_error = '', failure_kind = '',
		revision = revision + 1
	WHERE id = ?
	RETURNING revision
	`
	var revision int
	err := db.conn.QueryRowContext(ctx, query,
		s.Description, s.Retailer, s.Customer, s.Supplier,
		s.Code, s.PackCode, s.SizeKg, s.PriceGBP,
		s.BirdTempC, s.VanTempC, dateToNullString(s.UseByDate), s.DriverID,
		string(sample.StatePending),
		s.ID,
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update sample %s: %w", s.ID, err)
	}
	s.SyncState = sample.StatePending
	s.SyncError = ""
	s.FailureKind = sample.FailureNone
	s.Revision = revision
	return nil
}

// DeleteSample removes a sample that has never been attempted.
func (db *DB) DeleteSample(ctx context.Context, id string) error {
	var state string
	var attempts int
	err := db.conn.QueryRowContext(ctx,
		`SELECT sync_state, attempts FROM samples WHERE id = ?`, id).Scan(&state, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up sample %s: %w", id, err)
	}
	if sample.SyncState(state) != sample.StatePending || attempts > 0 {
		return ErrNotPending
	}

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM samples WHERE id = ? AND sync_state = ? AND attempts = 0`,
		id, string(sample.StatePending)); err != nil {
		return fmt.Errorf("failed to delete sample %s: %w", id, err)
	}
	return nil
}

// Counts returns the number of samples per sync state. Every known state
// is present in the result.
func (db *DB) Counts(ctx context.Context) (map[sample.SyncState]int, error) {
	counts := map[sample.SyncState]int{
		sample.StatePending: 0,
		sample.StateSynced:  0,
		sample.StateFailed:  0,
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM samples GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[sample.SyncState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

func (db *DB) updateOne(ctx context.Context, id, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sample %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update sample %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (*sample.Sample, error) {
	var s sample.Sample
	var useBy, receivedAt, lastAttempt sql.NullString
	var createdAt, state, kind string

	err := row.Scan(
		&s.ID,
		&s.Description,
		&s.Retailer,
		&s.Customer,
		&s.Supplier,
		&s.Code,
		&s.PackCode,
		&s.SizeKg,
		&s.PriceGBP,
		&s.BirdTempC,
		&s.VanTempC,
		&useBy,
		&s.SampleNumber,
		&createdAt,
		&s.DeviceID,
		&s.DriverID,
		&receivedAt,
		&state,
		&s.SyncError,
		&kind,
		&s.Attempts,
		&lastAttempt,
		&s.Revision,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sample: %w", err)
	}

	t, err := parseCreatedAt(createdAt)
	if err != nil {
		return nil, fmt.Errorf("sample %s has corrupt created_at_local %q: %w", s.ID, createdAt, err)
	}
	s.CreatedAtLocal = t
	s.SyncState = sample.SyncState(state)
	s.FailureKind = sample.FailureKind(kind)
	s.UseByDate = nullStringToDate(useBy)
	s.ReceivedAtUTC = nullStringToTime(receivedAt)
	s.LastAttemptAt = nullStringToTime(lastAttempt)

	return &s, nil
}

// parseCreatedAt reads created_at_local. Rows written by older releases
// carry no offset and are taken as local time.
func parseCreatedAt(v string) (time.Time, error) {
	if t, err := time.Parse(sample.OffsetTimeLayout, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(sample.LocalTimeLayout, v, time.Local)
}

// utcKey is the fixed-width sort key of a capture instant.
func utcKey(t time.Time) string {
	return t.UTC().Format(sample.LocalTimeLayout)
}

// timeToNullString converts a time pointer to a nullable UTC string.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func dateToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(sample.DateLayout), Valid: true}
}

func nullStringToDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.ParseInLocation(sample.DateLayout, ns.String, time.Local)
	if err != nil {
		return nil
	}
	return &t
}
