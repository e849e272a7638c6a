package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun_NumbersStayContiguous(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	result, err := Run(context.Background(), Options{
		Dir:               t.TempDir(),
		Workers:           8,
		CapturesPerWorker: 10,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", result.Stats.Errors)
	}
	if result.Stats.Captures != 80 {
		t.Errorf("Captures = %d, want 80", result.Stats.Captures)
	}
	if len(result.Numbering) != 0 {
		t.Errorf("numbering defects: %v", result.Numbering)
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	if _, err := Run(context.Background(), Options{Dir: t.TempDir()}); err == nil {
		t.Error("Run() with zero workers expected error")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v, want 1ms/100ms", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf)
	if !strings.Contains(buf.String(), "Captures:      100") {
		t.Errorf("PrintStats() output missing capture count:\n%s", buf.String())
	}
}

func TestComputeLatencyStats_Empty(t *testing.T) {
	if stats := computeLatencyStats(nil); stats.Captures != 0 {
		t.Errorf("Captures = %d, want 0", stats.Captures)
	}
}
