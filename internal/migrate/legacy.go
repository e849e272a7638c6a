// Package migrate moves samples between the on-device store and other
// formats: the previous capture app's SQLite file, and JSONL exports.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
)

// Legacy sync_status values.
const (
	legacyPending = "pending"
	legacySynced  = "synced"
	legacyError   = "error"
)

// legacyTimeLayouts are the created_at_local formats the previous app wrote.
var legacyTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
}

// LegacyOptions configures ImportLegacy.
type LegacyOptions struct {
	// Path of the previous app's samples.db
	Path string
	// DeviceID is used for rows that have none
	DeviceID string
	// DryRun reads and converts without writing
	DryRun bool
	// Backup copies the legacy file aside before importing
	Backup bool
}

// LegacyResult contains statistics about the import
type LegacyResult struct {
	Read          int
	Imported      int
	AlreadyThere  int
	BackupCreated string
	// Counters maps device/day to the highest sample number seen
	Counters map[string]int
	Errors   []string
}

// legacyRow is one row of the previous app's samples table.
type legacyRow struct {
	id, description                       string
	retailer, customer, supplier, code    sql.NullString
	packCode, useBy, createdAt            sql.NullString
	deviceID, driverID, status, errorMsg  sql.NullString
	sizeKg, priceGBP, birdTempC, vanTempC sql.NullString
	sampleNumber                          sql.NullInt64
}

// ImportLegacy copies samples from the previous app's database into db.
//
// Ids, sample numbers and capture times are kept. Rows already present
// (by id) are left alone. Day counters are raised to the highest imported
// number so new captures continue after it. Rows that fail validation are
// reported in the result and skipped.
func ImportLegacy(ctx context.Context, db *store.DB, opts LegacyOptions) (*LegacyResult, error) {
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("legacy database does not exist: %w", err)
	}

	result := &LegacyResult{Counters: make(map[string]int)}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Path + ".backup." + time.Now().Format("20060102-150405")
		if err := copyFile(opts.Path, backupPath); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	rows, err := readLegacy(ctx, opts.Path)
	if err != nil {
		return nil, err
	}

	type counterKey struct{ device, day string }
	maxNumbers := make(map[counterKey]int)

	for _, row := range rows {
		result.Read++

		s, err := row.toSample(opts.DeviceID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sample %s: %v", row.id, err))
			continue
		}
		if err := s.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sample %s: %v", row.id, err))
			continue
		}

		key := counterKey{s.DeviceID, s.Day()}
		if s.SampleNumber > maxNumbers[key] {
			maxNumbers[key] = s.SampleNumber
		}

		if opts.DryRun {
			result.Imported++
			continue
		}

		inserted, err := db.ImportSample(ctx, s)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sample %s: %v", row.id, err))
			continue
		}
		if inserted {
			result.Imported++
		} else {
			result.AlreadyThere++
		}
	}

	for key, n := range maxNumbers {
		result.Counters[key.device+"/"+key.day] = n
		if opts.DryRun {
			continue
		}
		if err := db.SeedCounter(ctx, key.device, key.day, n); err != nil {
			return result, err
		}
	}

	return result, nil
}

func readLegacy(ctx context.Context, path string) ([]legacyRow, error) {
	params := url.Values{}
	params.Set("mode", "ro")
	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer conn.Close()

	// REAL columns are cast to text so the decimals keep the digits the
	// previous app displayed.
	query := `
	SELECT id, description, retailer, customer, supplier, code, pack_code,
		CAST(size_kg AS TEXT), CAST(price_gbp AS TEXT),
		CAST(bird_temp_c AS TEXT), CAST(van_temp_c AS TEXT),
		use_by_date, sample_number, created_at_local,
		device_id, driver_id, sync_status, error_msg
	FROM samples
	ORDER BY created_at_local, sample_number
	`
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy samples: %w", err)
	}
	defer rows.Close()

	var out []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(
			&r.id, &r.description, &r.retailer, &r.customer, &r.supplier, &r.code, &r.packCode,
			&r.sizeKg, &r.priceGBP, &r.birdTempC, &r.vanTempC,
			&r.useBy, &r.sampleNumber, &r.createdAt,
			&r.deviceID, &r.driverID, &r.status, &r.errorMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan legacy sample: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy samples: %w", err)
	}
	return out, nil
}

func (r legacyRow) toSample(deviceID string) (*sample.Sample, error) {
	s := &sample.Sample{
		ID:          r.id,
		Description: r.description,
		Retailer:    r.retailer.String,
		Customer:    r.customer.String,
		Supplier:    r.supplier.String,
		Code:        r.code.String,
		PackCode:    r.packCode.String,
		DeviceID:    r.deviceID.String,
		DriverID:    r.driverID.String,
	}
	if s.DeviceID == "" {
		s.DeviceID = deviceID
	}
	if r.sampleNumber.Valid {
		s.SampleNumber = int(r.sampleNumber.Int64)
	}

	created, err := parseLegacyTime(r.createdAt.String)
	if err != nil {
		return nil, err
	}
	s.CreatedAtLocal = created

	if v := strings.TrimSpace(r.useBy.String); v != "" {
		d, err := sample.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("use_by_date: %w", err)
		}
		s.UseByDate = &d
	}

	for _, f := range []struct {
		name string
		src  sql.NullString
		dst  *decimal.NullDecimal
	}{
		{"size_kg", r.sizeKg, &s.SizeKg},
		{"price_gbp", r.priceGBP, &s.PriceGBP},
		{"bird_temp_c", r.birdTempC, &s.BirdTempC},
		{"van_temp_c", r.vanTempC, &s.VanTempC},
	} {
		d, err := sample.ParseDecimal(f.src.String)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}

	switch strings.ToLower(strings.TrimSpace(r.status.String)) {
	case legacySynced:
		s.SyncState = sample.StateSynced
	case legacyError:
		s.SyncState = sample.StateFailed
		s.FailureKind = sample.FailureTransient
		s.SyncError = r.errorMsg.String
		s.Attempts = 1
	case legacyPending, "":
		s.SyncState = sample.StatePending
	default:
		return nil, fmt.Errorf("unknown sync_status %q", r.status.String)
	}

	s.SetDefaults()
	return s, nil
}

func parseLegacyTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised created_at_local %q", v)
}

func copyFile(src, dst string) error {
	// #nosec G304 - controlled path from CLI
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
