package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const fileHeader = `# capture configuration
#
# Every key can be overridden from the environment with the CAPTURE_ prefix,
# for example CAPTURE_REMOTE_PASSWORD or CAPTURE_NETWORK_ALLOWED_SSIDS=Ops,Depot.
# Credentials may also live in a .env file next to this one.
#
# network.provider: system (inspect interfaces), file (read network.status_file)
#                   or static (use network.static_ssid / network.static_wired)
# remote.driver:    mysql, sqlite or libsql
# sync.schedule:    cron spec or "@every <duration>"

`

// Write encodes cfg as TOML to path. It refuses to overwrite an existing
// file unless force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
