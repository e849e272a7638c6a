package capture

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/microsearch/drivercapture/internal/allocator"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
)

// fakeClock is a settable clock for deterministic capture days.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func setupService(t *testing.T) (*Service, *store.DB, *fakeClock) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)}
	svc, err := New(db, allocator.New(db), Config{
		DeviceID: "tablet-01",
		DriverID: "driver-7",
		Now:      clock.Now,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return svc, db, clock
}

func validDraft() Draft {
	return Draft{Description: "Whole bird", Retailer: "Tesco"}
}

func TestNew_RequiresDevice(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := New(db, allocator.New(db), Config{}); err == nil {
		t.Error("New() without device id expected error")
	}
}

func TestCapture_Defaults(t *testing.T) {
	svc, db, clock := setupService(t)
	ctx := context.Background()

	s, err := svc.Capture(ctx, Draft{
		Description: "  Whole bird ",
		Retailer:    "Tesco",
		BirdTempC:   "3.5",
		PriceGBP:    "12.40",
	})
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}

	if s.SampleNumber != 1 {
		t.Errorf("SampleNumber = %d, want 1", s.SampleNumber)
	}
	if s.Supplier != sample.DefaultSupplier || s.Code != sample.DefaultCode {
		t.Errorf("defaults = %q/%q, want %q/%q", s.Supplier, s.Code, sample.DefaultSupplier, sample.DefaultCode)
	}
	if s.Description != "Whole bird" {
		t.Errorf("Description = %q, want trimmed", s.Description)
	}
	if !s.CreatedAtLocal.Equal(clock.Now()) {
		t.Errorf("CreatedAtLocal = %v, want %v", s.CreatedAtLocal, clock.Now())
	}
	if s.DeviceID != "tablet-01" || s.DriverID != "driver-7" {
		t.Errorf("context = %s/%s", s.DeviceID, s.DriverID)
	}

	stored, err := db.GetSample(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSample() failed: %v", err)
	}
	if stored.SyncState != sample.StatePending {
		t.Errorf("SyncState = %s, want pending", stored.SyncState)
	}
	if stored.BirdTempC.Decimal.String() != "3.5" {
		t.Errorf("BirdTempC = %s, want 3.5", stored.BirdTempC.Decimal)
	}
}

func TestCapture_NumbersPerDay(t *testing.T) {
	svc, _, clock := setupService(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		s, err := svc.Capture(ctx, validDraft())
		if err != nil {
			t.Fatalf("Capture() failed: %v", err)
		}
		if s.SampleNumber != want {
			t.Errorf("SampleNumber = %d, want %d", s.SampleNumber, want)
		}
		clock.Set(clock.Now().Add(time.Minute))
	}

	clock.Set(time.Date(2026, 3, 15, 0, 0, 1, 0, time.Local))
	s, err := svc.Capture(ctx, validDraft())
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if s.SampleNumber != 1 {
		t.Errorf("first sample of next day = %d, want 1", s.SampleNumber)
	}
}

func TestCapture_ConcurrentUnique(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	const n = 20
	numbers := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := svc.Capture(ctx, validDraft())
			if err != nil {
				t.Errorf("Capture() failed: %v", err)
				return
			}
			numbers <- s.SampleNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for num := range numbers {
		if seen[num] {
			t.Errorf("sample number %d assigned twice", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct numbers, want %d", len(seen), n)
	}
}

func TestCapture_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		draft   Draft
		wantMsg string
	}{
		{"missing retailer", Draft{Description: "Wings"}, "retailer is required"},
		{"missing description", Draft{Retailer: "Tesco"}, "description is required"},
		{"bird too warm", Draft{Description: "Wings", Retailer: "Tesco", BirdTempC: "20.1"}, "bird temperature"},
		{"van too cold", Draft{Description: "Wings", Retailer: "Tesco", VanTempC: "-5.1"}, "van temperature"},
		{"negative price", Draft{Description: "Wings", Retailer: "Tesco", PriceGBP: "-0.01"}, "price must be >= 0"},
		{"size not a number", Draft{Description: "Wings", Retailer: "Tesco", SizeKg: "heavy"}, "size must be a number"},
		{"use-by in past", Draft{Description: "Wings", Retailer: "Tesco", UseByDate: "2026-03-13"}, "cannot be in the past"},
		{"use-by too far", Draft{Description: "Wings", Retailer: "Tesco", UseByDate: "2026-06-30"}, "more than 60 days"},
		{"use-by gibberish", Draft{Description: "Wings", Retailer: "Tesco", UseByDate: "whenever"}, "not understood"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, _ := setupService(t)
			ctx := context.Background()

			_, err := svc.Capture(ctx, tt.draft)
			if !sample.IsValidationError(err) {
				t.Fatalf("Capture() error = %v, want validation error", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Capture() error = %q, want mention of %q", err, tt.wantMsg)
			}

			// A rejected draft leaves nothing behind and burns no number.
			counts, err := db.Counts(ctx)
			if err != nil {
				t.Fatalf("Counts() failed: %v", err)
			}
			if counts[sample.StatePending] != 0 {
				t.Errorf("pending = %d after rejected capture", counts[sample.StatePending])
			}
			s, err := svc.Capture(ctx, validDraft())
			if err != nil {
				t.Fatalf("Capture() failed: %v", err)
			}
			if s.SampleNumber != 1 {
				t.Errorf("next SampleNumber = %d, want 1", s.SampleNumber)
			}
		})
	}
}

func TestCapture_ReportsAllProblems(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Capture(context.Background(), Draft{SizeKg: "x", VanTempC: "30"})
	var ve *sample.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Capture() error = %v, want *ValidationError", err)
	}
	if len(ve.Problems) < 4 {
		t.Errorf("Problems = %v, want size, description, retailer and van temperature", ve.Problems)
	}
}

func TestUpdate_RequeuesAndKeepsIdentity(t *testing.T) {
	svc, db, clock := setupService(t)
	ctx := context.Background()

	orig, err := svc.Capture(ctx, validDraft())
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if err := db.MarkSynced(ctx, orig.ID, 0, nil, clock.Now()); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	clock.Set(clock.Now().Add(26 * time.Hour))
	updated, err := svc.Update(ctx, orig.ID, Draft{Description: "Thighs", Retailer: "Aldi", SizeKg: "2.5"})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if updated.ID != orig.ID || updated.SampleNumber != orig.SampleNumber || !updated.CreatedAtLocal.Equal(orig.CreatedAtLocal) {
		t.Errorf("identity changed: %+v", updated)
	}
	if updated.Description != "Thighs" || updated.Retailer != "Aldi" {
		t.Errorf("fields not updated: %q/%q", updated.Description, updated.Retailer)
	}
	if updated.SyncState != sample.StatePending {
		t.Errorf("SyncState = %s, want pending", updated.SyncState)
	}
}

func TestDraftFrom_RoundTripsThroughUpdate(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	d := Draft{
		Description: "Whole bird",
		Retailer:    "Tesco",
		Customer:    "Northern Foods",
		PackCode:    "P-17",
		SizeKg:      "2.500",
		PriceGBP:    "12.99",
		BirdTempC:   "-5.0",
		VanTempC:    "3.5",
		UseByDate:   "2026-03-20",
	}
	orig, err := svc.Capture(ctx, d)
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}

	got := DraftFrom(orig)
	if got.UseByDate != "2026-03-20" || got.SizeKg != "2.5" || got.BirdTempC != "-5" {
		t.Errorf("DraftFrom() = %+v", got)
	}
	if got.Supplier != sample.DefaultSupplier || got.Code != sample.DefaultCode {
		t.Errorf("DraftFrom() supplier/code = %q/%q, want the applied defaults", got.Supplier, got.Code)
	}

	again, err := svc.Update(ctx, orig.ID, got)
	if err != nil {
		t.Fatalf("Update(DraftFrom()) failed: %v", err)
	}
	if !again.SizeKg.Decimal.Equal(orig.SizeKg.Decimal) || !again.PriceGBP.Decimal.Equal(orig.PriceGBP.Decimal) {
		t.Errorf("decimals changed: %v/%v -> %v/%v", orig.SizeKg, orig.PriceGBP, again.SizeKg, again.PriceGBP)
	}
	if !sameDate(orig.UseByDate, again.UseByDate) {
		t.Errorf("use-by changed: %v -> %v", orig.UseByDate, again.UseByDate)
	}
}

func TestUpdate_KeepsUnchangedExpiredUseBy(t *testing.T) {
	svc, _, clock := setupService(t)
	ctx := context.Background()

	d := validDraft()
	d.UseByDate = "2026-03-15"
	orig, err := svc.Capture(ctx, d)
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}

	// A week later the use-by date is in the past, but it is not being changed.
	clock.Set(clock.Now().AddDate(0, 0, 7))
	d.Customer = "Northern Foods"
	if _, err := svc.Update(ctx, orig.ID, d); err != nil {
		t.Errorf("Update() with unchanged use-by failed: %v", err)
	}

	d.UseByDate = "2026-03-16"
	if _, err := svc.Update(ctx, orig.ID, d); !sample.IsValidationError(err) {
		t.Errorf("Update() to a past use-by error = %v, want validation error", err)
	}
}

func TestDelete(t *testing.T) {
	svc, db, clock := setupService(t)
	ctx := context.Background()

	s, err := svc.Capture(ctx, validDraft())
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if err := svc.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := db.GetSample(ctx, s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSample() after delete error = %v, want ErrNotFound", err)
	}

	synced, err := svc.Capture(ctx, validDraft())
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if err := db.MarkSynced(ctx, synced.ID, 0, nil, clock.Now()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, synced.ID); !errors.Is(err, store.ErrNotPending) {
		t.Errorf("Delete(synced) error = %v, want ErrNotPending", err)
	}
}

func TestParseUseBy(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)

	tests := []struct {
		in   string
		want string
	}{
		{"2026-03-20", "2026-03-20"},
		{" 2026-03-20 ", "2026-03-20"},
		{"20/03/2026", "2026-03-20"},
		{"tomorrow", "2026-03-15"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUseBy(tt.in, now)
			if err != nil {
				t.Fatalf("ParseUseBy(%q) failed: %v", tt.in, err)
			}
			if got.Format(sample.DateLayout) != tt.want {
				t.Errorf("ParseUseBy(%q) = %s, want %s", tt.in, got.Format(sample.DateLayout), tt.want)
			}
			if got.Hour() != 0 || got.Minute() != 0 {
				t.Errorf("ParseUseBy(%q) kept a clock time: %v", tt.in, got)
			}
		})
	}

	if _, err := ParseUseBy("no idea", now); err == nil {
		t.Error("ParseUseBy(\"no idea\") expected error")
	}
}
