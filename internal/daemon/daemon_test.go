package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	capsync "github.com/microsearch/drivercapture/internal/sync"
)

// fakeSyncer counts passes and signals each one on calls.
type fakeSyncer struct {
	passes atomic.Int32
	calls  chan struct{}
	err    error
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{calls: make(chan struct{}, 64)}
}

func (f *fakeSyncer) SyncPending(ctx context.Context) (*capsync.Report, error) {
	f.passes.Add(1)
	select {
	case f.calls <- struct{}{}:
	default:
	}
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now()
	return &capsync.Report{StartedAt: now, FinishedAt: now}, nil
}

func (f *fakeSyncer) waitPass(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(within):
		t.Fatalf("no sync pass within %v (passes so far: %d)", within, f.passes.Load())
	}
}

func quietConfig() *Config {
	return &Config{
		DebounceInterval: 50 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// startDaemon runs d in the background and stops it on cleanup.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(context.Background()) }()

	t.Cleanup(func() {
		if err := d.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Start() did not return after Stop()")
		}
	})
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		syncer  Syncer
		config  *Config
		wantErr bool
	}{
		{name: "valid", syncer: newFakeSyncer(), config: quietConfig()},
		{name: "nil config uses defaults", syncer: newFakeSyncer()},
		{name: "nil syncer", syncer: nil, config: quietConfig(), wantErr: true},
		{
			name:    "invalid schedule",
			syncer:  newFakeSyncer(),
			config:  &Config{Schedule: "every now and then", Logger: log.New(io.Discard, "", 0)},
			wantErr: true,
		},
		{
			name:   "descriptor schedule",
			syncer: newFakeSyncer(),
			config: &Config{Schedule: "@every 30s", Logger: log.New(io.Discard, "", 0)},
		},
		{
			name:   "five field schedule",
			syncer: newFakeSyncer(),
			config: &Config{Schedule: "*/5 * * * *", Logger: log.New(io.Discard, "", 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWithConfig(tt.syncer, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				_ = d.Stop()
			}
		})
	}
}

func TestDaemon_InitialPass(t *testing.T) {
	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	startDaemon(t, d)

	syncer.waitPass(t, 2*time.Second)

	// Stats are recorded after the pass returns.
	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Passes < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stats := d.Stats()
	if stats.Passes < 1 {
		t.Fatalf("Stats().Passes = %d, want >= 1", stats.Passes)
	}
	if stats.LastReport == nil {
		t.Error("Stats().LastReport is nil after a pass")
	}
}

func TestDaemon_Trigger(t *testing.T) {
	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	startDaemon(t, d)
	syncer.waitPass(t, 2*time.Second)

	d.Trigger("manual")
	syncer.waitPass(t, 2*time.Second)
}

func TestDaemon_TriggerNeverBlocks(t *testing.T) {
	d, err := NewWithConfig(newFakeSyncer(), quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer d.Stop()

	// Not started: nothing drains the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Trigger("burst")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger() blocked")
	}
}

func TestDaemon_Schedule(t *testing.T) {
	syncer := newFakeSyncer()
	config := quietConfig()
	config.Schedule = "@every 1s"
	d, err := NewWithConfig(syncer, config)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	startDaemon(t, d)

	syncer.waitPass(t, 2*time.Second) // startup
	syncer.waitPass(t, 3*time.Second) // first tick
}

func TestDaemon_StatusFileChangeTriggersPass(t *testing.T) {
	statusFile := filepath.Join(t.TempDir(), "network.json")

	syncer := newFakeSyncer()
	config := quietConfig()
	config.StatusFile = statusFile
	d, err := NewWithConfig(syncer, config)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	startDaemon(t, d)
	syncer.waitPass(t, 2*time.Second)

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(statusFile, []byte(`{"ssid":"Ops","wifi_active":true}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	syncer.waitPass(t, 3*time.Second)
}

func TestDaemon_SyncErrorsKeepRunning(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.err = errors.New("remote unavailable")

	d, err := NewWithConfig(syncer, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	startDaemon(t, d)
	syncer.waitPass(t, 2*time.Second)

	d.Trigger("retry")
	syncer.waitPass(t, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().LastError == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := d.Stats().LastError; got != "remote unavailable" {
		t.Errorf("Stats().LastError = %q, want %q", got, "remote unavailable")
	}
}

func TestDaemon_StartReturnsOnContextCancel(t *testing.T) {
	d, err := NewWithConfig(newFakeSyncer(), quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	// Stop after shutdown is a no-op.
	if err := d.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
