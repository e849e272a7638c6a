package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/microsearch/drivercapture/internal/netgate"
	"github.com/microsearch/drivercapture/internal/remote"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
)

// ErrSyncInProgress is returned when a pass is requested while another one
// is still running on the same engine, or on another engine sharing the
// same store.
var ErrSyncInProgress = errors.New("sync already in progress")

// LocalStore is the part of the on-device store the engine needs.
//
// MarkSynced and MarkFailed apply to the revision the engine read. When the
// sample was edited in the meantime they return store.ErrRevisionChanged
// and leave it pending.
type LocalStore interface {
	// ListSyncable returns pending and failed samples, oldest capture first.
	ListSyncable(ctx context.Context) ([]*sample.Sample, error)
	MarkSynced(ctx context.Context, id string, revision int, receivedAt *time.Time, attemptedAt time.Time) error
	MarkFailed(ctx context.Context, id string, revision int, reason string, kind sample.FailureKind, attemptedAt time.Time) error
}

// Leaser is implemented by stores that can serialize sync passes across
// processes. AcquireSyncLease returns store.ErrSyncLeaseHeld while another
// holder's lease is live; calling it again renews the caller's own lease.
type Leaser interface {
	AcquireSyncLease(ctx context.Context, holder string, ttl time.Duration) error
	ReleaseSyncLease(ctx context.Context, holder string) error
}

// Remote performs the idempotent write keyed on the sample id and returns
// the server's received_at_utc.
type Remote interface {
	Upsert(ctx context.Context, s *sample.Sample) (time.Time, error)
}

// Gate answers whether syncing is currently permitted.
type Gate interface {
	Check(ctx context.Context) netgate.Decision
}

// Config holds engine settings.
type Config struct {
	// RecordTimeout bounds each remote write.
	RecordTimeout time.Duration

	// LeaseTTL is how long the cross-process sync lease lasts without
	// renewal. It is renewed before every record and is never shorter than
	// twice RecordTimeout.
	LeaseTTL time.Duration

	// Classify sorts remote errors. Defaults to remote.Classify.
	Classify func(error) sample.FailureKind

	// OnReport, if set, receives every finished report, including
	// reports of passes that ended early.
	OnReport func(*Report)

	// Now is the clock used for attempt timestamps.
	Now func() time.Time

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RecordTimeout: 15 * time.Second,
		LeaseTTL:      time.Minute,
		Classify:      remote.Classify,
		Now:           time.Now,
		Logger:        log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Engine runs sync passes. The zero value is not usable; call New.
type Engine struct {
	local  LocalStore
	remote Remote
	gate   Gate
	config *Config

	// holder identifies this engine in the store's sync lease.
	holder  string
	running atomic.Bool
}

// New creates an engine. A nil config uses DefaultConfig; unset fields of
// a partial config are filled from it. The caller's config is not modified.
func New(local LocalStore, rem Remote, gate Gate, config *Config) *Engine {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	} else {
		c := *config
		config = &c
	}
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = defaults.RecordTimeout
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.LeaseTTL < 2*config.RecordTimeout {
		config.LeaseTTL = 2 * config.RecordTimeout
	}
	if config.Classify == nil {
		config.Classify = defaults.Classify
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Engine{
		local:  local,
		remote: rem,
		gate:   gate,
		config: config,
		holder: sample.NewID(),
	}
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SyncPending runs one pass over all pending and failed samples.
//
// The returned error is non-nil only when the local store fails or ctx is
// cancelled; the report then covers the records handled so far. Remote
// failures are per-record results, not errors.
func (e *Engine) SyncPending(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)

	leaser, _ := e.local.(Leaser)
	if leaser != nil {
		if err := e.renewLease(ctx, leaser); err != nil {
			return nil, err
		}
		defer func() {
			if err := leaser.ReleaseSyncLease(context.WithoutCancel(ctx), e.holder); err != nil {
				e.config.Logger.Printf("WARNING: %v", err)
			}
		}()
	}

	report := &Report{StartedAt: e.config.Now()}
	defer func() {
		report.FinishedAt = e.config.Now()
		if e.config.OnReport != nil {
			e.config.OnReport(report)
		}
	}()

	decision := e.gate.Check(ctx)
	report.Decision = decision

	records, err := e.local.ListSyncable(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list pending samples: %w", err)
	}
	if len(records) == 0 {
		return report, nil
	}

	if !decision.Allowed {
		e.config.Logger.Printf("Sync not allowed (%s): %d samples waiting", decision.Reason, len(records))
		e.skipAll(report, records, decision.Reason)
		return report, nil
	}

	e.config.Logger.Printf("Syncing %d samples over %s", len(records), decision.Reason)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			e.config.Logger.Printf("Sync interrupted: %d samples left pending", len(records)-i)
			return report, err
		}

		if i > 0 && leaser != nil {
			if err := e.renewLease(ctx, leaser); err != nil {
				e.config.Logger.Printf("Lost sync lease: %d samples left pending", len(records)-i)
				return report, err
			}
		}

		// Connectivity may drop mid-batch.
		if i > 0 {
			if d := e.gate.Check(ctx); !d.Allowed {
				report.Decision = d
				e.config.Logger.Printf("Lost eligibility (%s): %d samples left pending", d.Reason, len(records)-i)
				e.skipAll(report, records[i:], d.Reason)
				return report, nil
			}
		}

		result, err := e.syncOne(ctx, rec)
		report.Results = append(report.Results, result)
		if err != nil {
			return report, err
		}
	}

	e.config.Logger.Printf("Sync complete: %s", report.Summary())
	return report, nil
}

// syncOne upserts one record and records the outcome locally. Local writes
// ignore cancellation of ctx so the outcome of a write that already
// happened is never lost.
func (e *Engine) syncOne(ctx context.Context, rec *sample.Sample) (Result, error) {
	result := Result{ID: rec.ID, SampleNumber: rec.SampleNumber, Day: rec.Day()}
	localCtx := context.WithoutCancel(ctx)

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.RecordTimeout)
	received, err := e.remote.Upsert(attemptCtx, rec)
	cancel()
	attemptedAt := e.config.Now()

	if err == nil {
		received = received.UTC()
		markErr := e.local.MarkSynced(localCtx, rec.ID, rec.Revision, &received, attemptedAt)
		if errors.Is(markErr, store.ErrRevisionChanged) {
			// The remote holds the previous revision; the edit goes next pass.
			result.Outcome = OutcomeFailed
			result.Kind = sample.FailureTransient
			result.Reason = "edited during sync, sent again next pass"
			result.ReceivedAtUTC = &received
			e.config.Logger.Printf("Sample %s (#%d) edited during sync; left pending", rec.ID, rec.SampleNumber)
			return result, nil
		}
		if markErr != nil {
			return result, fmt.Errorf("failed to mark sample %s synced: %w", rec.ID, markErr)
		}
		result.Outcome = OutcomeSynced
		result.ReceivedAtUTC = &received
		return result, nil
	}

	result.Outcome = OutcomeFailed
	result.Kind = e.config.Classify(err)
	result.Reason = err.Error()

	interrupted := ctx.Err()
	switch {
	case interrupted != nil:
		result.Kind = sample.FailureTransient
		result.Reason = fmt.Sprintf("sync interrupted: %v", interrupted)
	case errors.Is(err, context.DeadlineExceeded):
		result.Kind = sample.FailureTransient
		result.Reason = fmt.Sprintf("remote write timed out after %s", e.config.RecordTimeout)
	}

	markErr := e.local.MarkFailed(localCtx, rec.ID, rec.Revision, result.Reason, result.Kind, attemptedAt)
	if markErr != nil && !errors.Is(markErr, store.ErrRevisionChanged) {
		return result, fmt.Errorf("failed to mark sample %s failed: %w", rec.ID, markErr)
	}
	e.config.Logger.Printf("WARNING: Failed to sync sample %s (#%d, %s): %s",
		rec.ID, rec.SampleNumber, result.Kind, result.Reason)

	if interrupted != nil {
		return result, interrupted
	}
	return result, nil
}

// renewLease takes or extends the store's sync lease. A lease held by
// another engine maps to ErrSyncInProgress.
func (e *Engine) renewLease(ctx context.Context, leaser Leaser) error {
	err := leaser.AcquireSyncLease(context.WithoutCancel(ctx), e.holder, e.config.LeaseTTL)
	if errors.Is(err, store.ErrSyncLeaseHeld) {
		return ErrSyncInProgress
	}
	if err != nil {
		return fmt.Errorf("failed to take sync lease: %w", err)
	}
	return nil
}

func (e *Engine) skipAll(report *Report, records []*sample.Sample, reason string) {
	for _, rec := range records {
		report.Results = append(report.Results, Result{
			ID:           rec.ID,
			SampleNumber: rec.SampleNumber,
			Day:          rec.Day(),
			Outcome:      OutcomeSkipped,
			Reason:       reason,
		})
	}
}
