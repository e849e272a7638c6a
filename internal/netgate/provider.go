package netgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// StaticProvider always reports the same status. Safe for concurrent use.
type StaticProvider struct {
	mu     sync.RWMutex
	status Status
}

// NewStaticProvider returns a provider reporting status.
func NewStaticProvider(status Status) *StaticProvider {
	return &StaticProvider{status: status}
}

// Set replaces the reported status.
func (p *StaticProvider) Set(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// Status implements StatusProvider.
func (p *StaticProvider) Status(ctx context.Context) (Status, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, nil
}

// FileProvider reads the status from a JSON file kept up to date by an
// external agent (the mobile shell or a NetworkManager dispatcher script):
//
//	{"ssid": "Ops", "wifi_active": true, "wired_active": false}
//
// A missing file means no active attachment.
type FileProvider struct {
	Path string
}

// NewFileProvider returns a provider reading path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// Status implements StatusProvider.
func (p *FileProvider) Status(ctx context.Context) (Status, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read network status file: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("failed to parse network status file %s: %w", p.Path, err)
	}
	if status.SSID != "" && !status.WiFiActive {
		status.SSID = ""
	}
	return status, nil
}

// WriteStatusFile writes status to path in the format FileProvider reads.
func WriteStatusFile(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal network status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write network status file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace network status file: %w", err)
	}
	return nil
}
