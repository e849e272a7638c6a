// Package config loads settings from a config file, the environment and
// an optional .env file. Precedence, highest first: CAPTURE_* environment
// variables, the config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// CAPTURE_REMOTE_PASSWORD for remote.password.
const EnvPrefix = "CAPTURE"

// Config is the full configuration surface.
type Config struct {
	DeviceID string `mapstructure:"device_id" toml:"device_id"`
	DriverID string `mapstructure:"driver_id" toml:"driver_id"`

	Store   StoreConfig   `mapstructure:"store" toml:"store"`
	Network NetworkConfig `mapstructure:"network" toml:"network"`
	Remote  RemoteConfig  `mapstructure:"remote" toml:"remote"`
	Sync    SyncConfig    `mapstructure:"sync" toml:"sync"`
	Capture CaptureConfig `mapstructure:"capture" toml:"capture"`
	Log     LogConfig     `mapstructure:"log" toml:"log"`
	Status  StatusConfig  `mapstructure:"status" toml:"status"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" toml:"-"`
}

// StoreConfig locates the on-device store.
type StoreConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// NetworkConfig drives the connectivity gate.
type NetworkConfig struct {
	AllowedSSIDs []string `mapstructure:"allowed_ssids" toml:"allowed_ssids"`
	TrustWired   bool     `mapstructure:"trust_wired" toml:"trust_wired"`
	// Provider is system, file or static.
	Provider   string `mapstructure:"provider" toml:"provider"`
	StatusFile string `mapstructure:"status_file" toml:"status_file"`
	// Static* are used by the static provider.
	StaticSSID  string `mapstructure:"static_ssid" toml:"static_ssid"`
	StaticWired bool   `mapstructure:"static_wired" toml:"static_wired"`
}

// RemoteConfig describes the central database.
type RemoteConfig struct {
	Driver         string        `mapstructure:"driver" toml:"driver"`
	DSN            string        `mapstructure:"dsn" toml:"dsn"`
	Host           string        `mapstructure:"host" toml:"host"`
	Port           int           `mapstructure:"port" toml:"port"`
	User           string        `mapstructure:"user" toml:"user"`
	Password       string        `mapstructure:"password" toml:"password"`
	Database       string        `mapstructure:"database" toml:"database"`
	AuthToken      string        `mapstructure:"auth_token" toml:"auth_token"`
	Timeout        time.Duration `mapstructure:"timeout" toml:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" toml:"connect_timeout"`
}

// SyncConfig controls when passes run.
type SyncConfig struct {
	// Schedule is a cron spec; "@every 1m" style specs are accepted.
	Schedule      string        `mapstructure:"schedule" toml:"schedule"`
	Debounce      time.Duration `mapstructure:"debounce" toml:"debounce"`
	RecordTimeout time.Duration `mapstructure:"record_timeout" toml:"record_timeout"`
}

// CaptureConfig holds capture form defaults.
type CaptureConfig struct {
	DefaultSupplier string `mapstructure:"default_supplier" toml:"default_supplier"`
	DefaultCode     string `mapstructure:"default_code" toml:"default_code"`
	UseByWindowDays int    `mapstructure:"use_by_window_days" toml:"use_by_window_days"`
}

// LogConfig controls the log file. Logs always go to stderr as well.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress"`
}

// StatusConfig controls the live status feed.
type StatusConfig struct {
	// Addr is the listen address; empty disables the feed.
	Addr string `mapstructure:"addr" toml:"addr"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: defaultStorePath()},
		Network: NetworkConfig{
			AllowedSSIDs: []string{},
			TrustWired:   true,
			Provider:     "system",
		},
		Remote: RemoteConfig{
			Driver:         "mysql",
			Port:           3306,
			Timeout:        15 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			Schedule:      "@every 1m",
			Debounce:      2 * time.Second,
			RecordTimeout: 15 * time.Second,
		},
		Capture: CaptureConfig{
			DefaultSupplier: "Flixton",
			DefaultCode:     "GB S011",
			UseByWindowDays: 60,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".capture", "samples.db")
	}
	return filepath.Join(home, ".capture", "samples.db")
}

// Options tunes Load.
type Options struct {
	// File is an explicit config file. When empty, capture.{toml,yaml,json}
	// is searched for in the working directory and ~/.capture.
	File string
	// EnvFile is a dotenv file to load first. Empty loads ./.env if present.
	EnvFile string
}

// Load reads the configuration.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("failed loading env file %s: %w", opts.EnvFile, err)
		}
	} else {
		// A missing .env is fine; settings may come from the environment.
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("capture")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".capture"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Network.AllowedSSIDs = splitList(cfg.Network.AllowedSSIDs)

	return cfg, nil
}

// setDefaults registers every key so environment overrides work for keys
// absent from the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("device_id", d.DeviceID)
	v.SetDefault("driver_id", d.DriverID)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("network.allowed_ssids", d.Network.AllowedSSIDs)
	v.SetDefault("network.trust_wired", d.Network.TrustWired)
	v.SetDefault("network.provider", d.Network.Provider)
	v.SetDefault("network.status_file", d.Network.StatusFile)
	v.SetDefault("network.static_ssid", d.Network.StaticSSID)
	v.SetDefault("network.static_wired", d.Network.StaticWired)

	v.SetDefault("remote.driver", d.Remote.Driver)
	v.SetDefault("remote.dsn", d.Remote.DSN)
	v.SetDefault("remote.host", d.Remote.Host)
	v.SetDefault("remote.port", d.Remote.Port)
	v.SetDefault("remote.user", d.Remote.User)
	v.SetDefault("remote.password", d.Remote.Password)
	v.SetDefault("remote.database", d.Remote.Database)
	v.SetDefault("remote.auth_token", d.Remote.AuthToken)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.connect_timeout", d.Remote.ConnectTimeout)

	v.SetDefault("sync.schedule", d.Sync.Schedule)
	v.SetDefault("sync.debounce", d.Sync.Debounce)
	v.SetDefault("sync.record_timeout", d.Sync.RecordTimeout)

	v.SetDefault("capture.default_supplier", d.Capture.DefaultSupplier)
	v.SetDefault("capture.default_code", d.Capture.DefaultCode)
	v.SetDefault("capture.use_by_window_days", d.Capture.UseByWindowDays)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("status.addr", d.Status.Addr)
}

// splitList accepts both list values and a single comma-separated string,
// which is what an environment variable yields. SSIDs are not trimmed
// beyond the separator, matching is exact.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks that the settings needed to run are present.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DeviceID) == "" {
		problems = append(problems, "device_id is required")
	}
	if c.Store.Path == "" {
		problems = append(problems, "store.path is required")
	}

	switch c.Network.Provider {
	case "system", "static":
	case "file":
		if c.Network.StatusFile == "" {
			problems = append(problems, "network.status_file is required for the file provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("network.provider must be system, file or static (got %q)", c.Network.Provider))
	}

	problems = append(problems, c.Remote.validate()...)

	if c.Sync.RecordTimeout <= 0 {
		problems = append(problems, "sync.record_timeout must be positive")
	}
	if c.Capture.UseByWindowDays < 0 {
		problems = append(problems, "capture.use_by_window_days cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (r RemoteConfig) validate() []string {
	switch r.Driver {
	case "mysql":
		if r.DSN == "" && (r.Host == "" || r.Database == "") {
			return []string{"remote.host and remote.database (or remote.dsn) are required for mysql"}
		}
	case "sqlite":
		if r.DSN == "" && r.Database == "" {
			return []string{"remote.database (a file path) is required for sqlite"}
		}
	case "libsql":
		if r.DSN == "" {
			return []string{"remote.dsn (libsql:// url) is required for libsql"}
		}
	default:
		return []string{fmt.Sprintf("remote.driver must be mysql, sqlite or libsql (got %q)", r.Driver)}
	}
	return nil
}
