package allocator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/microsearch/drivercapture/internal/store"
)

func newTestAllocator(t *testing.T) (*Allocator, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return New(db), db
}

func TestNext_SequentialWithinDay(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 6, 0, 0, 0, time.Local)

	const n = 25
	for want := 1; want <= n; want++ {
		// Later captures on the same day map to the same counter.
		got, err := a.Next(ctx, day.Add(time.Duration(want)*time.Minute), "tablet-01")
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

func TestNext_RestartsOnNewDay(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()

	lateEvening := time.Date(2026, 3, 14, 23, 59, 59, 0, time.Local)
	for i := 0; i < 3; i++ {
		if _, err := a.Next(ctx, lateEvening, "tablet-01"); err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
	}

	got, err := a.Next(ctx, lateEvening.Add(2*time.Second), "tablet-01")
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if got != 1 {
		t.Errorf("Next() on the following day = %d, want 1", got)
	}

	// Going back to the earlier day continues where it left off.
	got, err = a.Next(ctx, lateEvening, "tablet-01")
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if got != 4 {
		t.Errorf("Next() on the earlier day = %d, want 4", got)
	}
}

func TestNext_DevicesAreIndependent(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)

	for _, device := range []string{"tablet-01", "tablet-02"} {
		got, err := a.Next(ctx, day, device)
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if got != 1 {
			t.Errorf("Next(%s) = %d, want 1", device, got)
		}
	}
}

func TestNext_ConcurrentCapturesNeverCollide(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)

	const n = 50
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.Next(ctx, day, "tablet-01")
			if err != nil {
				t.Errorf("Next() failed: %v", err)
				return
			}
			mu.Lock()
			seen[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("got %d distinct numbers, want %d", len(seen), n)
	}
	for num, count := range seen {
		if count > 1 {
			t.Errorf("number %d handed out %d times", num, count)
		}
		if num < 1 || num > n {
			t.Errorf("number %d outside 1..%d", num, n)
		}
	}
}

func TestNextIn_RollbackReleasesNumber(t *testing.T) {
	a, db := newTestAllocator(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	abort := errors.New("capture aborted")

	err := db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := a.NextIn(ctx, tx, day, "tablet-01")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("NextIn() = %d, want 1", n)
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("WithTx() error = %v, want %v", err, abort)
	}

	got, err := a.Next(ctx, day, "tablet-01")
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if got != 1 {
		t.Errorf("Next() after rollback = %d, want 1", got)
	}
}

type failingCounter struct{ err error }

func (f failingCounter) Increment(context.Context, string, string) (int, error) {
	return 0, f.err
}

func TestNext_Errors(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	diskFull := errors.New("disk full")

	tests := []struct {
		name     string
		counter  Counter
		day      time.Time
		deviceID string
		wantErr  error
	}{
		{name: "missing device", counter: failingCounter{}, day: day, deviceID: ""},
		{name: "missing day", counter: failingCounter{}, day: time.Time{}, deviceID: "tablet-01"},
		{name: "counter failure", counter: failingCounter{err: diskFull}, day: day, deviceID: "tablet-01", wantErr: diskFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.counter).Next(ctx, tt.day, tt.deviceID)
			if err == nil {
				t.Fatal("Next() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Next() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
