// Package logging builds the per-component loggers. Every component gets a
// stdlib *log.Logger with a "[component] " prefix; all of them share one
// writer that goes to stderr and, when configured, a rotating file.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/microsearch/drivercapture/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink is the shared destination of all component loggers.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger
}

// NewSink opens the destination described by cfg. With no file configured
// it writes to stderr only.
func NewSink(cfg config.LogConfig) *Sink {
	return newSink(cfg, os.Stderr)
}

func newSink(cfg config.LogConfig, console io.Writer) *Sink {
	if cfg.File == "" {
		return &Sink{w: console}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	return &Sink{w: io.MultiWriter(console, file), file: file}
}

// Logger returns a logger for component.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without a file.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

// Close flushes and closes the log file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Discard returns a logger that drops everything, for quiet commands.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
