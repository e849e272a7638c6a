// Package remote writes samples to the central database.
//
// Every write is an upsert keyed on the sample id: a missing row is
// inserted, an existing row is overwritten with the local copy. The server
// stamps received_at_utc on insert and never changes it afterwards, so
// resending a sample any number of times leaves exactly one row.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/microsearch/drivercapture/internal/sample"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by Get when the remote has no row for the id.
var ErrNotFound = errors.New("sample not found in remote store")

// Config holds the connection parameters of the remote store.
type Config struct {
	// Driver is one of mysql, sqlite or libsql.
	Driver string

	// DSN overrides the individual fields below when set. For sqlite it is
	// a file path, for libsql a libsql:// or https:// URL.
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Database string

	// AuthToken authenticates against a libsql server.
	AuthToken string

	// Timeout bounds reads and writes on a connection (mysql only; other
	// drivers rely on the per-call context).
	Timeout time.Duration
	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration
}

// Store is a connection pool to the remote samples table.
type Store struct {
	conn    *sql.DB
	dialect dialect
	target  string
}

// Open connects to the remote store described by cfg. The connection is
// lazy: Open succeeds while the server is unreachable, and the first Ping
// or Upsert reports the failure.
func Open(cfg Config) (*Store, error) {
	var (
		conn   *sql.DB
		d      dialect
		target string
		err    error
	)

	switch cfg.Driver {
	case DriverMySQL:
		var dsn string
		dsn, target, err = mysqlDSN(cfg)
		if err != nil {
			return nil, err
		}
		conn, err = sql.Open("mysql", dsn)
		d = mysqlDialect
	case DriverSQLite:
		path := cfg.DSN
		if path == "" {
			path = cfg.Database
		}
		if path == "" {
			return nil, fmt.Errorf("sqlite remote requires a database path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create remote directory: %w", err)
		}
		target = path
		conn, err = sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
		d = sqliteDialect
	case DriverLibSQL:
		target = redactURL(cfg.DSN)
		conn, err = openLibSQL(cfg)
		d = sqliteDialect
		d.name = DriverLibSQL
	default:
		return nil, fmt.Errorf("unknown remote driver %q (want mysql, sqlite or libsql)", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s remote: %w", cfg.Driver, err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(time.Minute)

	return &Store{conn: conn, dialect: d, target: target}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Driver returns the dialect name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Target describes the connection without credentials, for logs.
func (s *Store) Target() string {
	return s.target
}

// Ping checks that the remote answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("failed to reach %s remote at %s: %w", s.dialect.name, s.target, err)
	}
	return nil
}

// EnsureSchema creates the samples table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create remote schema: %w", err)
		}
	}
	return nil
}

// Upsert writes smp keyed on its id and returns the row's received_at_utc.
// The write and the read-back share a transaction.
func (s *Store) Upsert(ctx context.Context, smp *sample.Sample) (time.Time, error) {
	if smp.ID == "" {
		return time.Time{}, fmt.Errorf("sample has no id")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin remote transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.upsert, upsertArgs(smp)...); err != nil {
		return time.Time{}, fmt.Errorf("failed to upsert sample %s: %w", smp.ID, err)
	}

	var raw any
	if err := tx.QueryRowContext(ctx,
		`SELECT received_at_utc FROM samples WHERE id = ?`, smp.ID).Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("failed to read back sample %s: %w", smp.ID, err)
	}
	received, err := parseTime(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("sample %s has unreadable received_at_utc: %w", smp.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit sample %s: %w", smp.ID, err)
	}
	return received.UTC(), nil
}

// Get reads a sample back from the remote store. Local-only fields (sync
// state, attempts) are left zero.
func (s *Store) Get(ctx context.Context, id string) (*sample.Sample, error) {
	query := `SELECT ` + strings.Join(remoteColumns, ", ") + `, received_at_utc FROM samples WHERE id = ?`

	var (
		smp                                sample.Sample
		customer, supplier, code, packCode sql.NullString
		deviceID, driverID                 sql.NullString
		useBy, createdAt, receivedAt       any
	)
	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&smp.ID, &smp.Description, &smp.Retailer,
		&customer, &supplier, &code, &packCode,
		&smp.SizeKg, &smp.PriceGBP, &smp.BirdTempC, &smp.VanTempC,
		&useBy, &smp.SampleNumber, &createdAt,
		&deviceID, &driverID, &receivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read remote sample %s: %w", id, err)
	}

	smp.Customer = customer.String
	smp.Supplier = supplier.String
	smp.Code = code.String
	smp.PackCode = packCode.String
	smp.DeviceID = deviceID.String
	smp.DriverID = driverID.String

	if smp.CreatedAtLocal, err = parseTime(createdAt, time.Local); err != nil {
		return nil, fmt.Errorf("remote sample %s has unreadable created_at_local: %w", id, err)
	}
	if useBy != nil {
		d, err := parseTime(useBy, time.Local)
		if err != nil {
			return nil, fmt.Errorf("remote sample %s has unreadable use_by_date: %w", id, err)
		}
		d = sample.TruncateDate(d)
		smp.UseByDate = &d
	}
	r, err := parseTime(receivedAt, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("remote sample %s has unreadable received_at_utc: %w", id, err)
	}
	r = r.UTC()
	smp.ReceivedAtUTC = &r

	return &smp, nil
}

// Count returns the number of rows in the remote samples table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count remote samples: %w", err)
	}
	return n, nil
}

func upsertArgs(s *sample.Sample) []any {
	var useBy any
	if s.UseByDate != nil {
		useBy = s.UseByDate.Format(sample.DateLayout)
	}
	return []any{
		s.ID,
		s.Description,
		s.Retailer,
		nullIfEmpty(s.Customer),
		nullIfEmpty(s.Supplier),
		nullIfEmpty(s.Code),
		nullIfEmpty(s.PackCode),
		s.SizeKg,
		s.PriceGBP,
		s.BirdTempC,
		s.VanTempC,
		useBy,
		s.SampleNumber,
		s.CreatedAtLocal.Format(sample.LocalTimeLayout),
		nullIfEmpty(s.DeviceID),
		nullIfEmpty(s.DriverID),
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z",
	sample.LocalTimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	sample.DateLayout,
}

// parseTime converts a scanned time column. Drivers hand back time.Time
// (mysql with parseTime) or text (sqlite, libsql). Text without a zone is
// read in loc. A time.Time without a meaningful zone carries wall-clock
// values and is moved to loc unchanged.
func parseTime(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if loc != time.UTC {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
		}
		return t, nil
	case []byte:
		return parseTimeString(string(t), loc)
	case string:
		return parseTimeString(t, loc)
	case nil:
		return time.Time{}, fmt.Errorf("missing value")
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}
}

func parseTimeString(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
