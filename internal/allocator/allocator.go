// Package allocator hands out per-day sample numbers.
//
// Numbers are scoped to (device, local calendar day): the first sample a
// device captures on a day gets 1, the next 2, and so on. The day comes from
// the sample's own capture time, so a sample keeps its number no matter when
// it is synced. Allocation never talks to the remote store.
package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microsearch/drivercapture/internal/sample"
)

// Counter is a durable per-device per-day counter. Increment must read,
// bump and persist the counter in one atomic step and return the new value.
type Counter interface {
	Increment(ctx context.Context, deviceID, day string) (int, error)
}

// Allocator owns the day counters of one local store.
type Allocator struct {
	mu       sync.Mutex
	counters Counter
}

// New returns an allocator backed by counters.
func New(counters Counter) *Allocator {
	return &Allocator{counters: counters}
}

// Next returns the next sample number for deviceID on the local day of day.
func (a *Allocator) Next(ctx context.Context, day time.Time, deviceID string) (int, error) {
	return a.NextIn(ctx, a.counters, day, deviceID)
}

// NextIn allocates against c instead of the allocator's own counter. The
// capture flow passes its store transaction here so the number and the
// sample it belongs to commit or roll back together.
func (a *Allocator) NextIn(ctx context.Context, c Counter, day time.Time, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, fmt.Errorf("device id is required")
	}
	if day.IsZero() {
		return 0, fmt.Errorf("capture time is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := sample.DayKey(day)
	n, err := c.Increment(ctx, deviceID, key)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sample number for %s on %s: %w", deviceID, key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("counter for %s on %s returned %d", deviceID, key, n)
	}
	return n, nil
}
