package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// LatestVersion is the schema version a fully migrated store reports.
const LatestVersion = 2

// migration is one additive schema step. Every statement must be safe to
// re-run from scratch: CREATE ... IF NOT EXISTS, INSERT OR IGNORE, or an
// ADD COLUMN whose "duplicate column name" failure is tolerated.
type migration struct {
	from       int
	to         int
	name       string
	addColumns []columnAdd
	sql        []string
}

type columnAdd struct {
	table  string
	column string
	ddl    string
}

var migrations = []migration{
	{
		from: 0,
		to:   1,
		name: "legacy_runs",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				agent_name TEXT NOT NULL,
				prompt TEXT NOT NULL,
				output TEXT,
				status TEXT NOT NULL,
				duration_ms INTEGER
			);`,
			`CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id);`,
		},
	},
	{
		from: 1,
		to:   2,
		name: "runs_v2_and_run_logs",
		// The legacy table keeps its rows; it only gains the new columns so an
		// older client still reads it.
		addColumns: []columnAdd{
			{table: "runs", column: "session_id", ddl: `TEXT DEFAULT ''`},
			{table: "runs", column: "model", ddl: `TEXT DEFAULT ''`},
			{table: "runs", column: "tools_used", ddl: `TEXT DEFAULT '[]'`},
			{table: "runs", column: "exit_status", ddl: `INTEGER DEFAULT 0`},
		},
		sql: []string{
			`CREATE TABLE IF NOT EXISTS runs_v2 (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL DEFAULT '',
				timestamp INTEGER NOT NULL,
				agent TEXT NOT NULL,
				model TEXT NOT NULL DEFAULT '',
				input TEXT NOT NULL,
				output TEXT,
				tools_used TEXT NOT NULL DEFAULT '[]',
				exit_status INTEGER NOT NULL DEFAULT 0
			);`,
			`CREATE INDEX IF NOT EXISTS idx_runs_v2_timestamp ON runs_v2(timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_runs_v2_session ON runs_v2(session_id);`,
			`CREATE INDEX IF NOT EXISTS idx_runs_v2_agent ON runs_v2(agent);`,
			`CREATE TABLE IF NOT EXISTS run_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				log_line TEXT NOT NULL,
				log_type TEXT NOT NULL DEFAULT 'info',
				timestamp INTEGER NOT NULL,
				FOREIGN KEY (run_id) REFERENCES runs_v2(id) ON DELETE CASCADE
			);`,
			`CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id);`,
			`CREATE INDEX IF NOT EXISTS idx_run_logs_timestamp ON run_logs(timestamp);`,
			// Legacy timestamps were free text: integer strings are taken as
			// epoch millis, anything else goes through strftime.
			`INSERT OR IGNORE INTO runs_v2 (id, session_id, timestamp, agent, model, input, output, tools_used, exit_status)
			SELECT
				id,
				COALESCE(session_id, ''),
				CASE
					WHEN trim(timestamp) <> '' AND trim(timestamp) NOT GLOB '*[^0-9]*' THEN CAST(trim(timestamp) AS INTEGER)
					ELSE COALESCE(CAST(strftime('%s', timestamp) AS INTEGER) * 1000, 0)
				END,
				agent_id,
				COALESCE(model, ''),
				prompt,
				output,
				COALESCE(tools_used, '[]'),
				COALESCE(exit_status, 0)
			FROM runs;`,
		},
	},
}

// Migrate applies, in ascending order, every step whose source version is at
// least current. Each step runs in its own transaction together with the
// version bump, so a crash between steps resumes from the last completed one.
func Migrate(ctx context.Context, db *sql.DB, current int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if current > LatestVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", current, LatestVersion)
	}
	for _, m := range migrations {
		if m.from < current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migrate v%d -> v%d (%s): %w", m.from, m.to, m.name, err)
		}
		logger.Info("schema migration applied", "from", m.from, "to", m.to, "name", m.name)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin migration tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range m.addColumns {
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s;`, c.table, c.column, c.ddl)
		if _, err := tx.ExecContext(ctx, stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return storageErr(fmt.Sprintf("add %s.%s", c.table, c.column), err)
		}
	}
	for _, stmt := range m.sql {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("exec migration statement", err)
		}
	}
	if err := SetVersion(ctx, tx, m.to); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit migration tx", err)
	}
	return nil
}
