package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basket/ocgui/internal/bus"
	otelPkg "github.com/basket/ocgui/internal/otel"
)

// Run is one recorded invocation of the external agent.
type Run struct {
	ID         string   `json:"id" yaml:"id"`
	SessionID  string   `json:"session_id" yaml:"session_id"`
	Timestamp  int64    `json:"timestamp" yaml:"timestamp"` // epoch millis
	Agent      string   `json:"agent" yaml:"agent"`
	Model      string   `json:"model" yaml:"model"`
	Input      string   `json:"input" yaml:"input"`
	Output     NullText `json:"output" yaml:"output"`         // NULL when the agent produced none
	ToolsUsed  string   `json:"tools_used" yaml:"tools_used"` // JSON array
	ExitStatus int      `json:"exit_status" yaml:"exit_status"`
}

// Tools decodes ToolsUsed. Malformed or empty values decode to an empty list.
func (r Run) Tools() []string {
	var tools []string
	if err := json.Unmarshal([]byte(r.ToolsUsed), &tools); err != nil || tools == nil {
		return []string{}
	}
	return tools
}

const runColumns = `id, session_id, timestamp, agent, model, input, output, tools_used, exit_status`

func scanRun(scanFn func(dest ...any) error, run *Run) error {
	return scanFn(
		&run.ID,
		&run.SessionID,
		&run.Timestamp,
		&run.Agent,
		&run.Model,
		&run.Input,
		&run.Output,
		&run.ToolsUsed,
		&run.ExitStatus,
	)
}

// AddRun inserts exactly one run. An existing id fails with ErrDuplicateKey
// and leaves the stored row untouched.
func (s *Store) AddRun(ctx context.Context, run Run) (err error) {
	ctx, done := s.observe(ctx, "add_run", otelPkg.AttrRunID.String(run.ID), otelPkg.AttrSessionID.String(run.SessionID))
	defer func() { done(err) }()

	if run.ID == "" {
		return fmt.Errorf("add run: id is required")
	}
	if run.ToolsUsed == "" {
		run.ToolsUsed = "[]"
	}
	err = s.writeTx(ctx, "add run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs_v2 (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, run.ID, run.SessionID, run.Timestamp, run.Agent, run.Model, run.Input, run.Output, run.ToolsUsed, run.ExitStatus)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("add run %q: %w", run.ID, ErrDuplicateKey)
			}
			return storageErr("insert run", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RunsAdded.Add(ctx, 1)
	}
	s.bus.PublishRunAdded(bus.RunEvent{RunID: run.ID, SessionID: run.SessionID})
	return nil
}

// GetRuns returns up to limit runs, most recent first. limit <= 0 yields none.
func (s *Store) GetRuns(ctx context.Context, limit int) (runs []Run, err error) {
	ctx, done := s.observe(ctx, "get_runs")
	defer func() { done(err) }()

	runs = []Run{}
	if limit <= 0 {
		return runs, nil
	}
	err = s.withRead("get runs", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+runColumns+`
			FROM runs_v2
			ORDER BY timestamp DESC
			LIMIT ?;
		`, limit)
		if err != nil {
			return storageErr("query runs", err)
		}
		runs, err = collectRuns(rows)
		return err
	})
	return runs, err
}

// GetRunByID looks up a single run. A missing run is reported as ok=false,
// not as an error.
func (s *Store) GetRunByID(ctx context.Context, id string) (run Run, ok bool, err error) {
	ctx, done := s.observe(ctx, "get_run_by_id", otelPkg.AttrRunID.String(id))
	defer func() { done(err) }()

	err = s.withRead("get run", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs_v2 WHERE id = ?;`, id)
		if err := scanRun(row.Scan, &run); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return storageErr("scan run", err)
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return Run{}, false, err
	}
	return run, true, nil
}

// GetRunsBySession returns every run in the session in chronological order.
func (s *Store) GetRunsBySession(ctx context.Context, sessionID string) (runs []Run, err error) {
	ctx, done := s.observe(ctx, "get_runs_by_session", otelPkg.AttrSessionID.String(sessionID))
	defer func() { done(err) }()

	runs = []Run{}
	err = s.withRead("get runs by session", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+runColumns+`
			FROM runs_v2
			WHERE session_id = ?
			ORDER BY timestamp ASC, rowid ASC;
		`, sessionID)
		if err != nil {
			return storageErr("query session runs", err)
		}
		runs, err = collectRuns(rows)
		return err
	})
	return runs, err
}

// CountRuns returns the number of stored runs.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	err := s.withRead("count runs", func() error {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs_v2;`).Scan(&n); err != nil {
			return storageErr("count runs", err)
		}
		return nil
	})
	return n, err
}

// DeleteRun removes a run and all of its logs in one transaction. Deleting an
// unknown id succeeds.
func (s *Store) DeleteRun(ctx context.Context, id string) (err error) {
	ctx, done := s.observe(ctx, "delete_run", otelPkg.AttrRunID.String(id))
	defer func() { done(err) }()

	var affected int64
	err = s.writeTx(ctx, "delete run", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_logs WHERE run_id = ?;`, id); err != nil {
			return storageErr("delete run logs", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs_v2 WHERE id = ?;`, id)
		if err != nil {
			return storageErr("delete run", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		s.bus.PublishRunDeleted(bus.RunEvent{RunID: id})
	}
	return nil
}

// PruneRunsBefore deletes every run older than cutoff (epoch millis) along
// with its logs, returning the number of runs removed.
func (s *Store) PruneRunsBefore(ctx context.Context, cutoff int64) (n int64, err error) {
	ctx, done := s.observe(ctx, "prune_runs")
	defer func() { done(err) }()

	err = s.writeTx(ctx, "prune runs", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM run_logs
			WHERE run_id IN (SELECT id FROM runs_v2 WHERE timestamp < ?);
		`, cutoff); err != nil {
			return storageErr("prune run logs", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs_v2 WHERE timestamp < ?;`, cutoff)
		if err != nil {
			return storageErr("prune runs", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		var run Run
		if err := scanRun(rows.Scan, &run); err != nil {
			return nil, storageErr("scan run", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("run rows", err)
	}
	return out, nil
}
