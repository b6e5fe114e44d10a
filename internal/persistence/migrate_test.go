package persistence_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/basket/ocgui/internal/persistence"
)

// seedLegacyStore writes a version-1 database: the original runs table with
// no session/model/tools/exit_status columns.
func seedLegacyStore(t *testing.T, dbPath string) {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			output TEXT,
			status TEXT NOT NULL,
			duration_ms INTEGER
		);
	`); err != nil {
		t.Fatalf("create legacy runs: %v", err)
	}
	rows := []struct {
		id, ts, agent, prompt string
		output                any
	}{
		{"legacy-1", "1700000000000", "build", "fix the tests", "done"},
		{"legacy-2", "2024-01-02 03:04:05", "plan", "outline", nil},
		{"legacy-3", "not a time", "plan", "broken clock", "ok"},
	}
	for _, r := range rows {
		if _, err := db.Exec(
			`INSERT INTO runs (id, timestamp, agent_id, agent_name, prompt, output, status, duration_ms) VALUES (?, ?, ?, ?, ?, ?, 'completed', 12);`,
			r.id, r.ts, r.agent, r.agent, r.prompt, r.output,
		); err != nil {
			t.Fatalf("insert legacy %s: %v", r.id, err)
		}
	}
	if err := persistence.SetVersion(context.Background(), db, 1); err != nil {
		t.Fatalf("set version 1: %v", err)
	}
}

func TestMigrate_LegacyStoreKeepsRowsWithDefaults(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ocgui.db")
	seedLegacyStore(t, dbPath)

	store, err := persistence.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open legacy store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	v, err := store.SchemaVersion(ctx)
	if err != nil || v != 2 {
		t.Fatalf("expected version 2, got %d (%v)", v, err)
	}

	tests := []struct {
		id        string
		timestamp int64
		agent     string
		input     string
		output    persistence.NullText
	}{
		{"legacy-1", 1700000000000, "build", "fix the tests", persistence.Text("done")},
		{"legacy-2", 1704164645000, "plan", "outline", persistence.NullText{}},
		{"legacy-3", 0, "plan", "broken clock", persistence.Text("ok")},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			run, ok, err := store.GetRunByID(ctx, tt.id)
			if err != nil {
				t.Fatalf("get run: %v", err)
			}
			if !ok {
				t.Fatalf("legacy run %s missing after migration", tt.id)
			}
			want := persistence.Run{
				ID:         tt.id,
				SessionID:  "",
				Timestamp:  tt.timestamp,
				Agent:      tt.agent,
				Model:      "",
				Input:      tt.input,
				Output:     tt.output,
				ToolsUsed:  "[]",
				ExitStatus: 0,
			}
			if run != want {
				t.Fatalf("migrated run mismatch:\n got %+v\nwant %+v", run, want)
			}
		})
	}

	// The legacy table is kept and gained the new columns.
	var sessionID, toolsUsed string
	var exitStatus int
	if err := store.DB().QueryRow(`SELECT session_id, tools_used, exit_status FROM runs WHERE id = 'legacy-1';`).
		Scan(&sessionID, &toolsUsed, &exitStatus); err != nil {
		t.Fatalf("read legacy table: %v", err)
	}
	if sessionID != "" || toolsUsed != "[]" || exitStatus != 0 {
		t.Fatalf("unexpected legacy defaults: %q %q %d", sessionID, toolsUsed, exitStatus)
	}
}

func TestMigrate_ResumesInterruptedStep(t *testing.T) {
	store, dbPath := openTestStore(t)
	ctx := context.Background()
	if err := store.AddRun(ctx, persistence.Run{ID: "r1", Timestamp: 5, Agent: "a", Input: "x"}); err != nil {
		t.Fatalf("add run: %v", err)
	}
	// Simulate a crash after the 1->2 statements ran but before the bump.
	if err := persistence.SetVersion(ctx, store.DB(), 1); err != nil {
		t.Fatalf("rewind version: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := persistence.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen after interrupted step: %v", err)
	}
	defer reopened.Close()

	v, err := reopened.SchemaVersion(ctx)
	if err != nil || v != persistence.LatestVersion {
		t.Fatalf("expected version %d, got %d (%v)", persistence.LatestVersion, v, err)
	}
	n, err := reopened.CountRuns(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected the run to survive the re-applied step, got %d (%v)", n, err)
	}
}

func TestMigrate_NoopAtLatest(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	if err := persistence.Migrate(ctx, store.DB(), persistence.LatestVersion, nil); err != nil {
		t.Fatalf("migrate at latest: %v", err)
	}
	if err := persistence.Migrate(ctx, store.DB(), persistence.LatestVersion+1, nil); err == nil {
		t.Fatal("expected error for a version newer than supported")
	}
}
