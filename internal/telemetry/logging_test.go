package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/ocgui/internal/shared"
)

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("schema migration applied", "from", 1, "to", 2, "run_id", "run-1")

	logPath := filepath.Join(home, "logs", LogFileName)
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		t.Fatalf("expected at least one log line")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}

	required := []string{"timestamp", "level", "msg", "component", "trace_id"}
	for _, key := range required {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "ocgui" {
		t.Fatalf("expected component=ocgui, got %#v", entry["component"])
	}
	if entry["trace_id"] != "-" {
		t.Fatalf("expected trace_id='-', got %#v", entry["trace_id"])
	}
	if entry["run_id"] != "run-1" {
		t.Fatalf("expected run_id propagation, got %#v", entry["run_id"])
	}
}

func decodeLines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNew_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	logger.Info("ipc command failed",
		"api_key", "abc123",
		"auth_header", "Authorization: Bearer super-secret-token",
		"error", "add run log: token=sk-abcdefghijklmnopqrstuvwxyz rejected",
		"path", "/home/dev/.config/opencode/agents.json",
	)

	entry := decodeLines(t, buf.Bytes())[0]
	if entry["api_key"] != shared.Redacted {
		t.Fatalf("expected api_key redaction, got %#v", entry["api_key"])
	}
	if v, _ := entry["auth_header"].(string); strings.Contains(v, "super-secret-token") {
		t.Fatalf("bearer token survived: %q", v)
	}
	if entry["error"] != "add run log: token=[REDACTED] rejected" {
		t.Fatalf("unexpected error value %#v", entry["error"])
	}
	if entry["path"] != "/home/dev/.config/opencode/agents.json" {
		t.Fatalf("watch path should pass through, got %#v", entry["path"])
	}
}

func TestNew_StampsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug)

	ctx := shared.WithTraceID(context.Background(), "trace-1")
	ctx = shared.WithRunID(ctx, "r1")
	ctx = shared.WithSessionID(ctx, "s1")
	logger.InfoContext(ctx, "ipc command handled", "command", "get_run_logs")
	logger.With("watch_id", 2).Warn("watch error", "path", "agents.json")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("expected 2 records, got %d", len(entries))
	}
	first := entries[0]
	for key, want := range map[string]string{"trace_id": "trace-1", "run_id": "r1", "session_id": "s1", "command": "get_run_logs"} {
		if first[key] != want {
			t.Fatalf("%s = %#v, want %q", key, first[key], want)
		}
	}
	second := entries[1]
	if second["trace_id"] != "-" {
		t.Fatalf("record without trace should carry trace_id '-', got %#v", second["trace_id"])
	}
	if _, ok := second["run_id"]; ok {
		t.Fatalf("record without run should omit run_id: %#v", second)
	}
	if second["watch_id"] != float64(2) || second["component"] != "ocgui" {
		t.Fatalf("logger attrs lost: %#v", second)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_DropsRecordsBelowLevel(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("file change forwarded", "path", "agents.json")
	logger.Warn("watch error", "error", "path removed")

	raw, err := os.ReadFile(filepath.Join(home, "logs", LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warn record, got %d lines: %q", len(lines), raw)
	}
	if !strings.Contains(lines[0], "watch error") {
		t.Fatalf("unexpected record: %s", lines[0])
	}
}
