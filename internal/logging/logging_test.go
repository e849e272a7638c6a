package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/microsearch/drivercapture/internal/config"
)

func TestSink_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	sink := newSink(config.LogConfig{}, &console)
	defer sink.Close()

	sink.Logger("sync").Printf("Synced %d samples", 3)

	if got := console.String(); !strings.Contains(got, "[sync] ") || !strings.Contains(got, "Synced 3 samples") {
		t.Errorf("console output = %q", got)
	}
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate() without file failed: %v", err)
	}
}

func TestSink_File(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "capture.log")
	sink := newSink(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1}, &console)

	sink.Logger("daemon").Println("Starting daemon")
	sink.Logger("netgate").Println("Network status unavailable")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	for _, want := range []string{"[daemon] ", "Starting daemon", "[netgate] ", "Network status unavailable"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q:\n%s", want, data)
		}
		if !strings.Contains(console.String(), want) {
			t.Errorf("console missing %q", want)
		}
	}
}
