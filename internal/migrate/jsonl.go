package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
)

// ExportJSONL writes the samples matching filter to w, one JSON object per
// line, and returns how many were written.
func ExportJSONL(ctx context.Context, db *store.DB, w io.Writer, filter store.ListFilter) (int, error) {
	samples, err := db.ListSamples(ctx, filter)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, s := range samples {
		if err := enc.Encode(s); err != nil {
			return i, fmt.Errorf("failed to encode sample %s: %w", s.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(samples), fmt.Errorf("failed to write export: %w", err)
	}
	return len(samples), nil
}

// FromJSONL reads samples from a JSONL file.
func FromJSONL(path string) ([]*sample.Sample, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var samples []*sample.Sample
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var s sample.Sample
		if err := decoder.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		s.SetDefaults()
		samples = append(samples, &s)
	}

	return samples, nil
}

// ImportJSONL loads an export back into db. Samples already present are
// skipped, and day counters are raised past the imported numbers.
func ImportJSONL(ctx context.Context, db *store.DB, path string) (imported, skipped int, err error) {
	samples, err := FromJSONL(path)
	if err != nil {
		return 0, 0, err
	}

	type counterKey struct{ device, day string }
	maxNumbers := make(map[counterKey]int)

	for _, s := range samples {
		inserted, err := db.ImportSample(ctx, s)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to import sample %s: %w", s.ID, err)
		}
		if !inserted {
			skipped++
			continue
		}
		imported++

		key := counterKey{s.DeviceID, s.Day()}
		if s.SampleNumber > maxNumbers[key] {
			maxNumbers[key] = s.SampleNumber
		}
	}

	for key, n := range maxNumbers {
		if err := db.SeedCounter(ctx, key.device, key.day, n); err != nil {
			return imported, skipped, err
		}
	}
	return imported, skipped, nil
}
