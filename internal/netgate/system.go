package netgate

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ErrUnsupported is returned by SystemProvider on platforms where the
// attachment cannot be inspected. Configure the file provider instead.
var ErrUnsupported = errors.New("network status detection not supported on this platform")

// SSIDFunc returns the SSID of the active WiFi connection, or "" if none.
type SSIDFunc func(ctx context.Context) (string, error)

// SystemProvider inspects the host's network interfaces.
type SystemProvider struct {
	// SysfsRoot is where interface directories live (default /sys/class/net).
	SysfsRoot string
	// SSID looks up the active SSID. Defaults to CommandSSID.
	SSID SSIDFunc
	// Timeout bounds the SSID lookup.
	Timeout time.Duration
}

// NewSystemProvider returns a provider with default settings.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{
		SysfsRoot: "/sys/class/net",
		SSID:      CommandSSID,
		Timeout:   2 * time.Second,
	}
}

// CommandSSID asks iwgetid for the active SSID and falls back to nmcli.
func CommandSSID(ctx context.Context) (string, error) {
	if out, err := exec.CommandContext(ctx, "iwgetid", "-r").Output(); err == nil {
		if ssid := strings.TrimSpace(string(out)); ssid != "" {
			return ssid, nil
		}
	}

	out, err := exec.CommandContext(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi").Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return parseNmcliActive(out), nil
}

// parseNmcliActive picks the SSID from `nmcli -t -f active,ssid` output.
// nmcli escapes colons inside the SSID as "\:".
func parseNmcliActive(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		active, ssid, ok := strings.Cut(line, ":")
		if !ok || active != "yes" {
			continue
		}
		return strings.ReplaceAll(ssid, `\:`, ":")
	}
	return ""
}
