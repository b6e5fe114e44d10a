package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/ocgui/internal/config"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_FromOcguiHome(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
log_level: debug
db_path: runs.db
watch_paths:
  - /tmp/agents.json
  - "  "
  - /tmp/agents.json
retention:
  max_age_days: 30
otel:
  enabled: true
  exporter: none
`)
	t.Setenv("OCGUI_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NeedsSetup {
		t.Fatalf("expected NeedsSetup=false with config present")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level=debug got %q", cfg.LogLevel)
	}
	if want := filepath.Join(home, "runs.db"); cfg.DBPath != want {
		t.Fatalf("expected relative db_path resolved to %q, got %q", want, cfg.DBPath)
	}
	if len(cfg.WatchPaths) != 1 || cfg.WatchPaths[0] != "/tmp/agents.json" {
		t.Fatalf("expected deduped watch paths, got %v", cfg.WatchPaths)
	}
	if cfg.Retention.MaxAgeDays != 30 || cfg.Retention.Schedule != "0 3 * * *" {
		t.Fatalf("unexpected retention: %+v", cfg.Retention)
	}
	if !cfg.OTel.Enabled || cfg.OTel.Exporter != "none" {
		t.Fatalf("unexpected otel config: %+v", cfg.OTel)
	}
}

func TestLoad_DefaultsWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fresh")
	t.Setenv("OCGUI_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsSetup {
		t.Fatalf("expected NeedsSetup=true when config.yaml is missing")
	}
	if cfg.DBPath != filepath.Join(home, "ocgui.db") {
		t.Fatalf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.AgentBinary != "opencode" {
		t.Fatalf("expected default agent binary, got %q", cfg.AgentBinary)
	}
	if cfg.Retention.MaxAgeDays != 0 {
		t.Fatalf("expected retention disabled by default")
	}
	if _, err := os.Stat(home); err != nil {
		t.Fatalf("expected home dir to be created: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "log_level: info\nagent_binary: opencode\n")
	t.Setenv("OCGUI_HOME", home)
	t.Setenv("OCGUI_LOG_LEVEL", "warn")
	t.Setenv("OCGUI_DB_PATH", "/var/tmp/other.db")
	t.Setenv("OCGUI_AGENT_BINARY", "opencode-nightly")
	t.Setenv("OCGUI_RETENTION_DAYS", "7")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env log level, got %q", cfg.LogLevel)
	}
	if cfg.DBPath != "/var/tmp/other.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
	if cfg.AgentBinary != "opencode-nightly" {
		t.Fatalf("expected env agent binary, got %q", cfg.AgentBinary)
	}
	if cfg.Retention.MaxAgeDays != 7 {
		t.Fatalf("expected env retention days, got %d", cfg.Retention.MaxAgeDays)
	}
}

func TestLoad_RejectsInvalidRetention(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "negative age",
			body: "retention:\n  max_age_days: -1\n",
			want: "max_age_days",
		},
		{
			name: "short schedule",
			body: "retention:\n  schedule: \"@daily now\"\n",
			want: "5 fields",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			writeConfig(t, home, tt.body)
			t.Setenv("OCGUI_HOME", home)

			_, err := config.Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "watch_paths: [unterminated\n")
	t.Setenv("OCGUI_HOME", home)

	if _, err := config.Load(); err == nil || !strings.Contains(err.Error(), "parse config.yaml") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestAddWatchPath_PreservesOtherKeys(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "log_level: debug\n")

	if err := config.AddWatchPath(home, "/tmp/a.json"); err != nil {
		t.Fatalf("add watch path: %v", err)
	}
	if err := config.AddWatchPath(home, "/tmp/a.json"); err != nil {
		t.Fatalf("add duplicate watch path: %v", err)
	}
	if err := config.AddWatchPath(home, "/tmp/b.json"); err != nil {
		t.Fatalf("add second watch path: %v", err)
	}

	t.Setenv("OCGUI_HOME", home)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level lost on rewrite: %q", cfg.LogLevel)
	}
	if len(cfg.WatchPaths) != 2 || cfg.WatchPaths[0] != "/tmp/a.json" || cfg.WatchPaths[1] != "/tmp/b.json" {
		t.Fatalf("unexpected watch paths: %v", cfg.WatchPaths)
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	a := config.Config{DBPath: "a.db", LogLevel: "info"}
	b := a
	b.WatchPaths = []string{"/tmp/agents.json"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected fingerprint to change with watch paths")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatalf("fingerprint must be stable")
	}
}
