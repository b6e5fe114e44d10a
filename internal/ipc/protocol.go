// Package ipc exposes the record store and the watch bridge to the GUI as
// named commands. Requests and responses are JSON objects, one per line.
package ipc

import (
	"context"
	"encoding/json"

	"github.com/basket/ocgui/internal/persistence"
)

// Command names understood by the dispatcher.
const (
	CmdAddRun           = "add_run"
	CmdGetRuns          = "get_runs"
	CmdGetRunByID       = "get_run_by_id"
	CmdGetRunsBySession = "get_runs_by_session"
	CmdDeleteRun        = "delete_run"
	CmdAddRunLog        = "add_run_log"
	CmdGetRunLogs       = "get_run_logs"
	CmdWatchAgentsFile  = "watch_agents_file"
	CmdGetSchemaVersion = "get_schema_version"
)

// EventFileChange is the event name file changes are pushed under.
const EventFileChange = "file-change"

// Request is one inbound call.
type Request struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response carries either a result or a human-readable error.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is an unsolicited push to the GUI.
type Event struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// RecordStore is the subset of the persistence store the dispatcher needs.
type RecordStore interface {
	AddRun(ctx context.Context, run persistence.Run) error
	GetRuns(ctx context.Context, limit int) ([]persistence.Run, error)
	GetRunByID(ctx context.Context, id string) (persistence.Run, bool, error)
	GetRunsBySession(ctx context.Context, sessionID string) ([]persistence.Run, error)
	DeleteRun(ctx context.Context, id string) error
	AddRunLog(ctx context.Context, log persistence.RunLog) (int64, error)
	GetRunLogs(ctx context.Context, runID string) ([]persistence.RunLog, error)
	SchemaVersion(ctx context.Context) (int, error)
}

// Watcher registers file watches.
type Watcher interface {
	Watch(path string) error
}

type addRunArgs struct {
	Run persistence.Run `json:"run"`
}

type getRunsArgs struct {
	Limit int `json:"limit"`
}

type runIDArgs struct {
	RunID string `json:"runId"`
}

type sessionArgs struct {
	SessionID string `json:"sessionId"`
}

type addRunLogArgs struct {
	Log persistence.RunLog `json:"log"`
}

type watchArgs struct {
	FilePath string `json:"filePath"`
}
