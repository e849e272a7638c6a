// Package daemon runs sync passes in the background.
//
// The daemon:
//  1. Runs a pass at start-up
//  2. Runs a pass on every tick of a cron schedule
//  3. Runs a pass shortly after the network status file changes
//  4. Never runs two passes at once; requests made during a pass are
//     coalesced into one follow-up pass
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	capsync "github.com/microsearch/drivercapture/internal/sync"
)

// Syncer runs one sync pass.
type Syncer interface {
	SyncPending(ctx context.Context) (*capsync.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a cron spec ("*/5 * * * *") or descriptor ("@every 1m").
	// Empty disables timed passes.
	Schedule string

	// StatusFile, if set, is watched; a change triggers a pass.
	StatusFile string

	// DebounceInterval is how long the status file must be quiet before
	// a pass is triggered. This batches rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         "@every 1m",
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats summarises daemon activity.
type Stats struct {
	Passes     int             `json:"passes"`
	LastRun    time.Time       `json:"last_run"`
	LastReport *capsync.Report `json:"last_report,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// Daemon schedules sync passes.
type Daemon struct {
	syncer Syncer
	config *Config

	cron    *cron.Cron
	watcher *StatusWatcher

	triggers chan string

	lastChange   time.Time
	lastChangeMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a daemon with default configuration.
func New(syncer Syncer) (*Daemon, error) {
	return NewWithConfig(syncer, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	d := &Daemon{
		syncer:   syncer,
		config:   config,
		cron:     cron.New(),
		triggers: make(chan string, 1),
	}

	if config.Schedule != "" {
		if _, err := d.cron.AddFunc(config.Schedule, func() { d.Trigger("schedule") }); err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", config.Schedule, err)
		}
	}

	if config.StatusFile != "" {
		w, err := NewStatusWatcher(config.StatusFile)
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Queue an initial pass
//  2. Start the cron schedule
//  3. Start watching the status file
//  4. Run queued passes one at a time
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch network status: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.watcher.Path())
		d.wg.Add(2)
		go d.watchStatusEvents()
		go d.processStatusChanges()
	}

	d.wg.Add(1)
	go d.runPasses()

	d.Trigger("startup")
	d.cron.Start()
	if d.config.Schedule != "" {
		d.config.Logger.Printf("Sync schedule: %s", d.config.Schedule)
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A pass in progress is cancelled;
// the engine records the in-flight sample as failed.
func (d *Daemon) Stop() error {
	d.once.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		<-d.cron.Stop().Done()
		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Trigger requests a pass. Requests made while one is already queued are
// merged into it. Never blocks.
func (d *Daemon) Trigger(reason string) {
	select {
	case d.triggers <- reason:
	default:
	}
}

// Stats returns a snapshot of daemon activity.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// runPasses executes queued passes sequentially.
func (d *Daemon) runPasses() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case reason := <-d.triggers:
			d.runPass(reason)
		}
	}
}

func (d *Daemon) runPass(reason string) {
	report, err := d.syncer.SyncPending(d.ctx)

	d.statsMu.Lock()
	d.stats.Passes++
	d.stats.LastRun = time.Now()
	if report != nil {
		d.stats.LastReport = report
	}
	d.stats.LastError = ""
	if err != nil {
		d.stats.LastError = err.Error()
	}
	d.statsMu.Unlock()

	switch {
	case errors.Is(err, capsync.ErrSyncInProgress):
		d.config.Logger.Printf("Pass (%s) skipped: another pass is running", reason)
	case errors.Is(err, context.Canceled) && d.ctx.Err() != nil:
		d.config.Logger.Printf("Pass (%s) interrupted by shutdown", reason)
	case err != nil:
		d.config.Logger.Printf("Pass (%s) failed: %v", reason, err)
	case report != nil && len(report.Results) > 0:
		d.config.Logger.Printf("Pass (%s): %s", reason, report.Summary())
	}
}

// watchStatusEvents records the time of the latest status file change.
func (d *Daemon) watchStatusEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Network status %s: %s", ev.Op, ev.Path)
			d.lastChangeMu.Lock()
			d.lastChange = time.Now()
			d.lastChangeMu.Unlock()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processStatusChanges triggers a pass once the status file has been
// quiet for the debounce interval.
func (d *Daemon) processStatusChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.lastChangeMu.Lock()
			due := !d.lastChange.IsZero() && time.Since(d.lastChange) >= d.config.DebounceInterval
			if due {
				d.lastChange = time.Time{}
			}
			d.lastChangeMu.Unlock()

			if due {
				d.Trigger("network change")
			}
		}
	}
}
