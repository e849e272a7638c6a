//go:build linux

package netgate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Status implements StatusProvider by reading sysfs. An interface counts as
// active when its operstate is "up". Interfaces with a wireless/ directory
// are WiFi; other ARPHRD_ETHER interfaces are wired.
func (p *SystemProvider) Status(ctx context.Context) (Status, error) {
	root := p.SysfsRoot
	if root == "" {
		root = "/sys/class/net"
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return Status{}, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	var status Status
	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		dir := filepath.Join(root, name)
		if readTrimmed(filepath.Join(dir, "operstate")) != "up" {
			continue
		}

		if _, err := os.Stat(filepath.Join(dir, "wireless")); err == nil {
			status.WiFiActive = true
			continue
		}

		typ, err := strconv.Atoi(readTrimmed(filepath.Join(dir, "type")))
		if err != nil || typ != unix.ARPHRD_ETHER {
			continue
		}
		// Bridges, veths and other virtual links have no device/ entry.
		if _, err := os.Stat(filepath.Join(dir, "device")); err != nil {
			continue
		}
		status.WiredActive = true
	}

	if status.WiFiActive && p.SSID != nil {
		lookupCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		ssid, err := p.SSID(lookupCtx)
		if err != nil {
			return status, fmt.Errorf("failed to read WiFi SSID: %w", err)
		}
		status.SSID = ssid
	}
	return status, nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
