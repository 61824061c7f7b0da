package config

import (
	"path/filepath"
	"testing"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"7420", "7420"},
		{"\x1b[32m7420\x1b[0m", "7420"},
		{"\x1b[1;31m9\x1b[0m999", "9999"},
	}
	for _, tt := range tests {
		if got := stripANSI(tt.in); got != tt.want {
			t.Errorf("stripANSI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	controlDir := filepath.Join(home, "control")
	t.Setenv("VIBETUNNEL_CONTROL_DIR", controlDir)
	t.Setenv("PORT", "\x1b[32m9001\x1b[0m")
	t.Setenv("VIBETUNNEL_USERNAME", "alice")
	t.Setenv("VIBETUNNEL_PASSWORD", "secret")
	t.Setenv("VIBETUNNEL_DISABLE_PUSH_NOTIFICATIONS", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Server.ControlDir != controlDir {
		t.Errorf("controlDir = %q, want %q", cfg.Server.ControlDir, controlDir)
	}
	if !cfg.AuthEnabled() {
		t.Error("expected auth enabled with username and password set")
	}
	if !cfg.Server.DisablePushNotifications {
		t.Error("expected push notifications disabled")
	}
	if cfg.Server.HistoryDBPath != filepath.Join(controlDir, "history.db") {
		t.Errorf("historyDBPath = %q", cfg.Server.HistoryDBPath)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	for _, bad := range []string{"notaport", "0", "70000", "-1"} {
		t.Setenv("PORT", bad)
		if _, err := Load(); err == nil {
			t.Errorf("PORT=%q: expected error", bad)
		}
	}
}
