package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/basket/ocgui/internal/bus"
	otelPkg "github.com/basket/ocgui/internal/otel"
)

const defaultLogType = "info"

// RunLog is one line of streamed output attributed to a run.
type RunLog struct {
	ID        int64  `json:"id" yaml:"id"`
	RunID     string `json:"run_id" yaml:"run_id"`
	LogLine   string `json:"log_line" yaml:"log_line"`
	LogType   string `json:"log_type" yaml:"log_type"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"` // epoch millis
}

// AddRunLog appends a log line and returns its store-assigned id. The owning
// run must exist; otherwise ErrReferentialViolation is returned.
func (s *Store) AddRunLog(ctx context.Context, log RunLog) (id int64, err error) {
	ctx, done := s.observe(ctx, "add_run_log", otelPkg.AttrRunID.String(log.RunID))
	defer func() { done(err) }()

	if log.LogType == "" {
		log.LogType = defaultLogType
	}
	err = s.writeTx(ctx, "add run log", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs_v2 WHERE id = ?;`, log.RunID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("add run log for %q: %w", log.RunID, ErrReferentialViolation)
		}
		if err != nil {
			return storageErr("check run", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO run_logs (run_id, log_line, log_type, timestamp)
			VALUES (?, ?, ?, ?);
		`, log.RunID, log.LogLine, log.LogType, log.Timestamp)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("add run log for %q: %w", log.RunID, ErrReferentialViolation)
			}
			return storageErr("insert run log", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return storageErr("run log id", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.RunLogsAdded.Add(ctx, 1)
	}
	s.bus.PublishRunLogAdded(bus.RunLogEvent{RunID: log.RunID, LogID: id, LogType: log.LogType})
	return id, nil
}

// GetRunLogs returns the logs of a run ordered by timestamp. Logs whose run
// no longer exists are never returned.
func (s *Store) GetRunLogs(ctx context.Context, runID string) (logs []RunLog, err error) {
	ctx, done := s.observe(ctx, "get_run_logs", otelPkg.AttrRunID.String(runID))
	defer func() { done(err) }()

	logs = []RunLog{}
	err = s.withRead("get run logs", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT l.id, l.run_id, l.log_line, l.log_type, l.timestamp
			FROM run_logs l
			JOIN runs_v2 r ON r.id = l.run_id
			WHERE l.run_id = ?
			ORDER BY l.timestamp ASC, l.id ASC;
		`, runID)
		if err != nil {
			return storageErr("query run logs", err)
		}
		defer rows.Close()
		for rows.Next() {
			var l RunLog
			if err := rows.Scan(&l.ID, &l.RunID, &l.LogLine, &l.LogType, &l.Timestamp); err != nil {
				return storageErr("scan run log", err)
			}
			logs = append(logs, l)
		}
		if err := rows.Err(); err != nil {
			return storageErr("run log rows", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// PruneOrphanLogs deletes logs whose run was removed out-of-band.
func (s *Store) PruneOrphanLogs(ctx context.Context) (n int64, err error) {
	ctx, done := s.observe(ctx, "prune_orphan_logs")
	defer func() { done(err) }()

	err = s.writeTx(ctx, "prune orphan logs", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM run_logs
			WHERE NOT EXISTS (SELECT 1 FROM runs_v2 r WHERE r.id = run_logs.run_id);
		`)
		if err != nil {
			return storageErr("prune orphan logs", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
