// Package loadtest drives concurrent captures against a store to check
// sample numbering under contention and to measure capture latency.
//
// Several workers share one device and capture as fast as they can. When
// they are done, every device/day must hold the numbers 1..N exactly once.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/microsearch/drivercapture/internal/allocator"
	"github.com/microsearch/drivercapture/internal/capture"
	"github.com/microsearch/drivercapture/internal/store"
)

// Options configures a run.
type Options struct {
	// Dir holds the throwaway store.
	Dir string
	// Workers is the number of concurrent capture loops.
	Workers int
	// CapturesPerWorker is how many samples each worker captures.
	CapturesPerWorker int
	// DeviceID defaults to "loadtest".
	DeviceID string
}

// LatencyStats captures performance metrics from a run.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	Captures  int
	Errors    int
	Durations []time.Duration
}

// Result is the outcome of a run.
type Result struct {
	Stats   *LatencyStats
	Elapsed time.Duration
	// Numbering lists numbering defects; empty means 1..N without gaps
	// or duplicates.
	Numbering []string
}

// Run captures Workers*CapturesPerWorker samples concurrently into a new
// store under opts.Dir.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Workers <= 0 || opts.CapturesPerWorker <= 0 {
		return nil, fmt.Errorf("workers and captures per worker must be positive")
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "loadtest"
	}

	db, err := store.Open(filepath.Join(opts.Dir, "loadtest.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	svc, err := capture.New(db, allocator.New(db), capture.Config{
		DeviceID: opts.DeviceID,
		DriverID: "loadtest",
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, opts.Workers)
	errorsChan := make(chan error, opts.Workers*opts.CapturesPerWorker)

	start := time.Now()
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, opts.CapturesPerWorker)
			for j := 0; j < opts.CapturesPerWorker; j++ {
				if ctx.Err() != nil {
					break
				}
				d := capture.Draft{
					Description: fmt.Sprintf("Load sample %d/%d", worker, j),
					Retailer:    "Load",
					BirdTempC:   "3.5",
				}

				t0 := time.Now()
				_, err := svc.Capture(ctx, d)
				durations = append(durations, time.Since(t0))
				if err != nil {
					errorsChan <- fmt.Errorf("worker %d capture %d failed: %w", worker, j, err)
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)
	close(resultsChan)
	close(errorsChan)

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	errCount := 0
	for range errorsChan {
		errCount++
	}

	stats := computeLatencyStats(all)
	stats.Errors = errCount

	defects, err := checkNumbering(ctx, db)
	if err != nil {
		return nil, err
	}

	return &Result{Stats: stats, Elapsed: elapsed, Numbering: defects}, nil
}

// checkNumbering verifies that each device/day holds 1..N exactly once.
func checkNumbering(ctx context.Context, db *store.DB) ([]string, error) {
	samples, err := db.ListSamples(ctx, store.ListFilter{OldestFirst: true})
	if err != nil {
		return nil, err
	}

	byDay := make(map[string][]int)
	for _, s := range samples {
		key := s.DeviceID + "/" + s.Day()
		byDay[key] = append(byDay[key], s.SampleNumber)
	}

	var defects []string
	for key, numbers := range byDay {
		sort.Ints(numbers)
		for i, n := range numbers {
			if n != i+1 {
				defects = append(defects, fmt.Sprintf("%s: position %d holds #%d", key, i+1, n))
				break
			}
		}
	}
	sort.Strings(defects)
	return defects, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Captures:  len(durations),
		Durations: sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Captures:      %d\n", s.Captures)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
