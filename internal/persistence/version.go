package persistence

import (
	"context"
	"database/sql"
	"errors"
)

const schemaVersionKey = "version"

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetVersion returns the persisted schema version, or 0 for a fresh store
// that has never recorded one. It is safe to call before any table exists.
func GetVersion(ctx context.Context, q querier) (int, error) {
	var present int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sqlite_master WHERE type='table' AND name='schema_version';`).Scan(&present)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("probe schema_version", err)
	}

	var version int
	err = q.QueryRowContext(ctx, `SELECT value FROM schema_version WHERE key = ?;`, schemaVersionKey).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("read schema version", err)
	}
	return version, nil
}

// SetVersion persists v, overwriting any prior value. The backing table is
// created on first use.
func SetVersion(ctx context.Context, e execer, v int) error {
	if _, err := e.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			key TEXT PRIMARY KEY,
			value INTEGER
		);
	`); err != nil {
		return storageErr("create schema_version", err)
	}
	if _, err := e.ExecContext(ctx, `
		INSERT INTO schema_version (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value;
	`, schemaVersionKey, v); err != nil {
		return storageErr("write schema version", err)
	}
	return nil
}
