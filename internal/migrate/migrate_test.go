package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
)

const legacySchema = `
CREATE TABLE samples (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	size_kg REAL,
	use_by_date TEXT,
	pack_code TEXT,
	bird_temp_c REAL,
	customer TEXT,
	retailer TEXT,
	supplier TEXT,
	code TEXT,
	sample_number INTEGER,
	price_gbp REAL,
	van_temp_c REAL,
	created_at_local TEXT,
	device_id TEXT,
	driver_id TEXT,
	sync_status TEXT,
	error_msg TEXT
)`

const (
	idPending = "6f1c2a4e-8a3b-4c55-9d0e-1a2b3c4d5e01"
	idSynced  = "6f1c2a4e-8a3b-4c55-9d0e-1a2b3c4d5e02"
	idError   = "6f1c2a4e-8a3b-4c55-9d0e-1a2b3c4d5e03"
	idTooHot  = "6f1c2a4e-8a3b-4c55-9d0e-1a2b3c4d5e04"
)

// writeLegacyDB creates a database in the previous app's format.
func writeLegacyDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "legacy.db")
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("failed to create legacy db: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(legacySchema); err != nil {
		t.Fatalf("failed to create legacy schema: %v", err)
	}

	insert := `INSERT INTO samples (id, description, size_kg, use_by_date, pack_code,
		bird_temp_c, customer, retailer, supplier, code, sample_number, price_gbp,
		van_temp_c, created_at_local, device_id, driver_id, sync_status, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	rows := [][]any{
		{idPending, "Whole bird", 2.5, "2026-03-20", "P1", 4.2, "Acme", "Tesco", "Flixton", "GB S011", 1, 12.99, 3.0, "2026-03-14 08:15:00", nil, "driver-7", "pending", nil},
		{idSynced, "Crown", nil, nil, nil, nil, nil, "Asda", nil, nil, 2, nil, nil, "2026-03-14 09:00:00", nil, "driver-7", "synced", nil},
		{idError, "Thighs", 1.25, nil, nil, -5.0, nil, "Aldi", "Flixton", "GB S011", 3, 0.0, 20.0, "2026-03-14 10:30:00", "van-2", "driver-7", "error", "Can't connect to MySQL server"},
		{idTooHot, "Wings", nil, nil, nil, 30.0, nil, "Lidl", nil, nil, 4, nil, nil, "2026-03-14 11:00:00", nil, "driver-7", "pending", nil},
	}
	for _, r := range rows {
		if _, err := conn.Exec(insert, r...); err != nil {
			t.Fatalf("failed to insert legacy row: %v", err)
		}
	}
	return path
}

func openStore(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestImportLegacy(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	legacy := writeLegacyDB(t)

	result, err := ImportLegacy(ctx, db, LegacyOptions{Path: legacy, DeviceID: "tablet-01"})
	if err != nil {
		t.Fatalf("ImportLegacy() error = %v", err)
	}

	if result.Read != 4 || result.Imported != 3 || len(result.Errors) != 1 {
		t.Fatalf("result = read %d imported %d errors %v, want 4/3/1", result.Read, result.Imported, result.Errors)
	}
	if !strings.Contains(result.Errors[0], idTooHot) {
		t.Errorf("error %q should name the rejected sample", result.Errors[0])
	}

	pending, err := db.GetSample(ctx, idPending)
	if err != nil {
		t.Fatalf("GetSample(pending) error = %v", err)
	}
	if pending.SyncState != sample.StatePending || pending.SampleNumber != 1 || pending.DeviceID != "tablet-01" {
		t.Errorf("pending sample = state %s number %d device %q", pending.SyncState, pending.SampleNumber, pending.DeviceID)
	}
	if pending.SizeKg.Decimal.String() != "2.5" || pending.PriceGBP.Decimal.String() != "12.99" {
		t.Errorf("decimals = size %s price %s, want 2.5 and 12.99", pending.SizeKg.Decimal, pending.PriceGBP.Decimal)
	}
	wantCreated := time.Date(2026, 3, 14, 8, 15, 0, 0, time.Local)
	if !pending.CreatedAtLocal.Equal(wantCreated) {
		t.Errorf("CreatedAtLocal = %v, want %v", pending.CreatedAtLocal, wantCreated)
	}
	if pending.UseByDate == nil || pending.UseByDate.Format(sample.DateLayout) != "2026-03-20" {
		t.Errorf("UseByDate = %v, want 2026-03-20", pending.UseByDate)
	}

	synced, err := db.GetSample(ctx, idSynced)
	if err != nil {
		t.Fatalf("GetSample(synced) error = %v", err)
	}
	if synced.SyncState != sample.StateSynced {
		t.Errorf("synced sample state = %s", synced.SyncState)
	}
	if synced.Supplier != sample.DefaultSupplier || synced.Code != sample.DefaultCode {
		t.Errorf("defaults not applied: supplier %q code %q", synced.Supplier, synced.Code)
	}

	failed, err := db.GetSample(ctx, idError)
	if err != nil {
		t.Fatalf("GetSample(error) error = %v", err)
	}
	if failed.SyncState != sample.StateFailed || failed.FailureKind != sample.FailureTransient {
		t.Errorf("error sample = state %s kind %s, want failed/transient", failed.SyncState, failed.FailureKind)
	}
	if failed.SyncError != "Can't connect to MySQL server" {
		t.Errorf("SyncError = %q", failed.SyncError)
	}
	if failed.DeviceID != "van-2" {
		t.Errorf("DeviceID = %q, want the legacy value van-2", failed.DeviceID)
	}

	// The next capture on this device continues after the imported numbers.
	n, err := db.Increment(ctx, "tablet-01", "2026-03-14")
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != 3 {
		t.Errorf("next number = %d, want 3", n)
	}
	want := map[string]int{"tablet-01/2026-03-14": 2, "van-2/2026-03-14": 3}
	if diff := cmp.Diff(want, result.Counters); diff != "" {
		t.Errorf("Counters mismatch (-want +got):\n%s", diff)
	}
}

func TestImportLegacy_Rerun(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	legacy := writeLegacyDB(t)

	if _, err := ImportLegacy(ctx, db, LegacyOptions{Path: legacy, DeviceID: "tablet-01"}); err != nil {
		t.Fatalf("first ImportLegacy() error = %v", err)
	}
	result, err := ImportLegacy(ctx, db, LegacyOptions{Path: legacy, DeviceID: "tablet-01"})
	if err != nil {
		t.Fatalf("second ImportLegacy() error = %v", err)
	}
	if result.Imported != 0 || result.AlreadyThere != 3 {
		t.Errorf("rerun = imported %d already there %d, want 0/3", result.Imported, result.AlreadyThere)
	}
}

func TestImportLegacy_DryRun(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	legacy := writeLegacyDB(t)

	result, err := ImportLegacy(ctx, db, LegacyOptions{Path: legacy, DeviceID: "tablet-01", DryRun: true, Backup: true})
	if err != nil {
		t.Fatalf("ImportLegacy() error = %v", err)
	}
	if result.Imported != 3 {
		t.Errorf("Imported = %d, want 3", result.Imported)
	}
	if result.BackupCreated != "" {
		t.Errorf("dry run created a backup at %s", result.BackupCreated)
	}

	counts, err := db.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	for state, n := range counts {
		if n != 0 {
			t.Errorf("dry run wrote %d %s samples", n, state)
		}
	}
	if v, err := db.CounterValue(ctx, "tablet-01", "2026-03-14"); err != nil || v != 0 {
		t.Errorf("CounterValue() = %d, %v; want 0 after dry run", v, err)
	}
}

func TestImportLegacy_Backup(t *testing.T) {
	db := openStore(t)
	legacy := writeLegacyDB(t)

	result, err := ImportLegacy(context.Background(), db, LegacyOptions{Path: legacy, DeviceID: "tablet-01", Backup: true})
	if err != nil {
		t.Fatalf("ImportLegacy() error = %v", err)
	}
	if result.BackupCreated == "" {
		t.Fatal("BackupCreated is empty")
	}

	orig, err := os.ReadFile(legacy)
	if err != nil {
		t.Fatalf("ReadFile(legacy) error = %v", err)
	}
	backup, err := os.ReadFile(result.BackupCreated)
	if err != nil {
		t.Fatalf("ReadFile(backup) error = %v", err)
	}
	if !bytes.Equal(orig, backup) {
		t.Error("backup differs from the legacy database")
	}
}

func TestImportLegacy_MissingFile(t *testing.T) {
	db := openStore(t)
	if _, err := ImportLegacy(context.Background(), db, LegacyOptions{Path: "/nonexistent/samples.db"}); err == nil {
		t.Error("expected error for nonexistent legacy database")
	}
}

func TestParseLegacyTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2026-03-14 08:15:00", want: time.Date(2026, 3, 14, 8, 15, 0, 0, time.Local)},
		{in: "2026-03-14T08:15:00.250000", want: time.Date(2026, 3, 14, 8, 15, 0, 250000000, time.Local)},
		{in: "", wantErr: true},
		{in: "14/03/2026", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLegacyTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLegacyTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseLegacyTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)

	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	useBy := time.Date(2026, 3, 21, 0, 0, 0, 0, time.Local)
	samples := []*sample.Sample{
		{
			ID: sample.NewID(), Description: "Whole bird", Retailer: "Tesco",
			SizeKg: sample.Decimal("9999.999"), PriceGBP: sample.Decimal("0.00"),
			BirdTempC: sample.Decimal("-5.0"), VanTempC: sample.Decimal("20.0"),
			UseByDate: &useBy, SampleNumber: 1, CreatedAtLocal: created,
			DeviceID: "tablet-01", DriverID: "driver-7",
		},
		{
			ID: sample.NewID(), Description: "Crown", Retailer: "Asda",
			SampleNumber: 2, CreatedAtLocal: created.Add(time.Minute),
			DeviceID: "tablet-01",
		},
	}
	for _, s := range samples {
		s.SetDefaults()
		if err := src.AppendSample(ctx, s); err != nil {
			t.Fatalf("AppendSample() error = %v", err)
		}
	}

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, src, &buf, store.ListFilter{OldestFirst: true})
	if err != nil {
		t.Fatalf("ExportJSONL() error = %v", err)
	}
	if n != 2 || strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("ExportJSONL() wrote %d samples in %d lines, want 2", n, strings.Count(buf.String(), "\n"))
	}

	path := filepath.Join(t.TempDir(), "export.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	dst := openStore(t)
	imported, skipped, err := ImportJSONL(ctx, dst, path)
	if err != nil {
		t.Fatalf("ImportJSONL() error = %v", err)
	}
	if imported != 2 || skipped != 0 {
		t.Errorf("ImportJSONL() = %d imported, %d skipped; want 2, 0", imported, skipped)
	}

	for _, want := range samples {
		got, err := dst.GetSample(ctx, want.ID)
		if err != nil {
			t.Fatalf("GetSample(%s) error = %v", want.ID, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("sample %d mismatch (-want +got):\n%s", want.SampleNumber, diff)
		}
	}

	if v, err := dst.CounterValue(ctx, "tablet-01", "2026-03-14"); err != nil || v != 2 {
		t.Errorf("CounterValue() = %d, %v; want 2", v, err)
	}

	imported, skipped, err = ImportJSONL(ctx, dst, path)
	if err != nil {
		t.Fatalf("second ImportJSONL() error = %v", err)
	}
	if imported != 0 || skipped != 2 {
		t.Errorf("second ImportJSONL() = %d imported, %d skipped; want 0, 2", imported, skipped)
	}
}

func TestFromJSONL_InvalidFile(t *testing.T) {
	if _, err := FromJSONL("/nonexistent/path.jsonl"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFromJSONL_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"x\"}\nnot json\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := FromJSONL(path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("FromJSONL() error = %v, want a line 2 error", err)
	}
}
