package sync

import (
	"fmt"
	"time"

	"github.com/microsearch/drivercapture/internal/netgate"
	"github.com/microsearch/drivercapture/internal/sample"
)

// Outcome is the per-record result of a pass.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeSkipped Outcome = "skipped_not_eligible"
	OutcomeFailed  Outcome = "failed"
)

// Result describes what a pass did with one record.
type Result struct {
	ID            string             `json:"id" yaml:"id"`
	SampleNumber  int                `json:"sample_number" yaml:"sample_number"`
	Day           string             `json:"day" yaml:"day"`
	Outcome       Outcome            `json:"outcome" yaml:"outcome"`
	Reason        string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Kind          sample.FailureKind `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	ReceivedAtUTC *time.Time         `json:"received_at_utc,omitempty" yaml:"received_at_utc,omitempty"`
}

// Report is the outcome of one pass, in the order records were handled.
type Report struct {
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Decision   netgate.Decision `json:"decision" yaml:"decision"`
	Results    []Result         `json:"results" yaml:"results"`
}

// Count returns how many results have outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Synced is shorthand for Count(OutcomeSynced).
func (r *Report) Synced() int { return r.Count(OutcomeSynced) }

// Failed is shorthand for Count(OutcomeFailed).
func (r *Report) Failed() int { return r.Count(OutcomeFailed) }

// Skipped is shorthand for Count(OutcomeSkipped).
func (r *Report) Skipped() int { return r.Count(OutcomeSkipped) }

// Duration is how long the pass took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is a one-line description for logs and the CLI.
func (r *Report) Summary() string {
	if len(r.Results) == 0 {
		return "nothing to sync"
	}
	return fmt.Sprintf("synced=%d failed=%d skipped=%d", r.Synced(), r.Failed(), r.Skipped())
}
