package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/basket/ocgui/internal/persistence"
)

func writeBundle(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestParseRunBundle_YAMLAndJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"runs.yaml", `
runs:
  - id: r1
    session_id: s1
    timestamp: 1000
    agent: build
    input: hi
    tools_used: '["read"]'
    logs:
      - log_line: started
        timestamp: 1001
`},
		{"runs.json", `{"runs":[{"id":"r1","session_id":"s1","timestamp":1000,"agent":"build","input":"hi","tools_used":"[\"read\"]","logs":[{"log_line":"started","timestamp":1001}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := parseRunBundle(writeBundle(t, tt.name, tt.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(bundle.Runs) != 1 {
				t.Fatalf("expected 1 run, got %d", len(bundle.Runs))
			}
			r := bundle.Runs[0]
			if r.ID != "r1" || r.SessionID != "s1" || r.Timestamp != 1000 || r.Agent != "build" || r.ToolsUsed != `["read"]` {
				t.Fatalf("unexpected run %+v", r.Run)
			}
			if len(r.Logs) != 1 || r.Logs[0].LogLine != "started" {
				t.Fatalf("unexpected logs %+v", r.Logs)
			}
		})
	}
}

func TestParseRunBundle_Errors(t *testing.T) {
	if _, err := parseRunBundle(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := parseRunBundle(writeBundle(t, "bad.yaml", "runs: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestImportRuns_AssignsIDsAndSkipsDuplicates(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "ocgui.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.AddRun(ctx, persistence.Run{ID: "existing", Timestamp: 1, Agent: "a", Input: "x"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.UnixMilli(5000)
	bundle := runBundle{Runs: []bundledRun{
		{Run: persistence.Run{ID: "existing", Agent: "a", Input: "dup"}, Logs: []persistence.RunLog{{LogLine: "ignored"}}},
		{Run: persistence.Run{Agent: "b", Input: "no id"}, Logs: []persistence.RunLog{{LogLine: "one"}, {LogLine: "two", Timestamp: 6000}}},
	}}

	sum, err := importRuns(ctx, store, bundle, now)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.Imported != 1 || sum.Skipped != 1 || sum.Logs != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	runs, err := store.GetRuns(ctx, 10)
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	var imported persistence.Run
	for _, r := range runs {
		if r.ID != "existing" {
			imported = r
		}
	}
	if _, err := uuid.Parse(imported.ID); err != nil {
		t.Fatalf("expected generated uuid id, got %q", imported.ID)
	}
	if imported.Timestamp != 5000 {
		t.Fatalf("expected timestamp defaulted to now, got %d", imported.Timestamp)
	}
	logs, err := store.GetRunLogs(ctx, imported.ID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Timestamp != 5000 || logs[1].LogLine != "two" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	existing, _, _ := store.GetRunByID(ctx, "existing")
	if existing.Input != "x" {
		t.Fatalf("existing run must be untouched, got %+v", existing)
	}
}

func TestRunImportCommand(t *testing.T) {
	setupHome(t)
	path := writeBundle(t, "runs.yaml", "runs:\n  - id: r1\n    timestamp: 10\n    agent: a\n    input: x\n")

	var out bytes.Buffer
	if code := runImportCommand(context.Background(), []string{path}, &out); code != 0 {
		t.Fatalf("import exit %d", code)
	}
	if !strings.Contains(out.String(), "imported 1 runs") {
		t.Fatalf("unexpected output %q", out.String())
	}
	out.Reset()
	if code := runImportCommand(context.Background(), []string{path}, &out); code != 0 {
		t.Fatalf("re-import exit %d", code)
	}
	if !strings.Contains(out.String(), "skipped 1 existing") {
		t.Fatalf("expected duplicate skipped, got %q", out.String())
	}

	if code := runImportCommand(context.Background(), nil, &out); code != 2 {
		t.Fatalf("expected usage exit 2, got %d", code)
	}
}
