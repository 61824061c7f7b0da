// Package config loads the server's runtime configuration: a layered
// TOML file (system, then user, then control-dir override) overridden
// by environment variables. The numeric PORT variable is stripped of
// ANSI color codes before parsing; a colored shell prompt leaking into
// it happens in practice.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/BurntSushi/toml"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Config is the server's full runtime configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
}

// ServerConfig holds the externally documented environment-variable
// fields plus the supporting fields the control/supervisor packages
// need.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// ControlDir is VIBETUNNEL_CONTROL_DIR: the base directory under
	// which sessions/<id>/{recording.cast,meta.json,status.json} live.
	ControlDir string `toml:"control_dir"`

	// Username/Password enable HTTP basic auth when both set
	// (VIBETUNNEL_USERNAME/VIBETUNNEL_PASSWORD).
	Username string `toml:"username"`
	Password string `toml:"password"`

	// DisablePushNotifications mirrors VIBETUNNEL_DISABLE_PUSH_NOTIFICATIONS.
	DisablePushNotifications bool `toml:"disable_push_notifications"`

	// NatsURL configures internal/eventbus; empty disables it.
	NatsURL string `toml:"nats_url"`

	// HistoryDBPath is the internal/historydb sqlite file; defaults
	// under ControlDir when empty.
	HistoryDBPath string `toml:"history_db_path"`
}

// DefaultConfig returns the baseline configuration before any file or
// environment override is applied.
func DefaultConfig() *Config {
	controlDir := "/var/lib/vibetunnel"
	if home, err := os.UserHomeDir(); err == nil {
		controlDir = filepath.Join(home, ".local", "share", "vibetunnel")
	}

	return &Config{
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       7420,
			ControlDir: controlDir,
		},
	}
}

// Load builds a Config from, in increasing priority: built-in
// defaults, /etc/vibetunnel/config.toml, ~/.config/vibetunnel/config.toml,
// <control-dir>/config.toml, then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := mergeFileIfExists(cfg, "/etc/vibetunnel/config.toml"); err != nil {
		return nil, err
	}
	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFileIfExists(cfg, filepath.Join(home, ".config", "vibetunnel", "config.toml")); err != nil {
			return nil, err
		}
	}

	if controlDir := os.Getenv("VIBETUNNEL_CONTROL_DIR"); controlDir != "" {
		cfg.Server.ControlDir = controlDir
	}
	if err := mergeFileIfExists(cfg, filepath.Join(cfg.Server.ControlDir, "config.toml")); err != nil {
		return nil, err
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		portStr = stripANSI(portStr)
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("config: invalid PORT: %q", portStr)
		}
		cfg.Server.Port = port
	}

	if user := os.Getenv("VIBETUNNEL_USERNAME"); user != "" {
		cfg.Server.Username = user
	}
	if pass := os.Getenv("VIBETUNNEL_PASSWORD"); pass != "" {
		cfg.Server.Password = pass
	}
	if disable := os.Getenv("VIBETUNNEL_DISABLE_PUSH_NOTIFICATIONS"); disable != "" {
		cfg.Server.DisablePushNotifications = disable == "1" || disable == "true"
	}
	if natsURL := os.Getenv("VIBETUNNEL_NATS_URL"); natsURL != "" {
		cfg.Server.NatsURL = natsURL
	}

	if cfg.Server.HistoryDBPath == "" {
		cfg.Server.HistoryDBPath = filepath.Join(cfg.Server.ControlDir, "history.db")
	}

	return cfg, nil
}

func mergeFileIfExists(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// EnsureControlDir creates the control directory tree before the
// session registry opens any file under it.
func (c *Config) EnsureControlDir() error {
	dirs := []string{
		c.Server.ControlDir,
		filepath.Join(c.Server.ControlDir, "sessions"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// AuthEnabled reports whether basic auth is configured.
func (c *Config) AuthEnabled() bool {
	return c.Server.Username != "" && c.Server.Password != ""
}
