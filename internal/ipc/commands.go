package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basket/ocgui/internal/audit"
)

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	if req.Command == "" {
		return nil, errors.New("command is required")
	}
	if !s.validator.known(req.Command) {
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
	if err := s.validator.validate(req.Command, req.Args); err != nil {
		return nil, err
	}

	store := s.cfg.Store
	switch req.Command {
	case CmdAddRun:
		var args addRunArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		if err := store.AddRun(ctx, args.Run); err != nil {
			return nil, err
		}
		return nil, nil

	case CmdGetRuns:
		var args getRunsArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return store.GetRuns(ctx, args.Limit)

	case CmdGetRunByID:
		var args runIDArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		run, ok, err := store.GetRunByID(ctx, args.RunID)
		if err != nil || !ok {
			return nil, err
		}
		return run, nil

	case CmdGetRunsBySession:
		var args sessionArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return store.GetRunsBySession(ctx, args.SessionID)

	case CmdDeleteRun:
		var args runIDArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		if err := store.DeleteRun(ctx, args.RunID); err != nil {
			return nil, err
		}
		audit.Record("delete_run", args.RunID, "ipc", "")
		return nil, nil

	case CmdAddRunLog:
		var args addRunLogArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return store.AddRunLog(ctx, args.Log)

	case CmdGetRunLogs:
		var args runIDArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return store.GetRunLogs(ctx, args.RunID)

	case CmdWatchAgentsFile:
		var args watchArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		if s.cfg.Watcher == nil {
			return nil, errors.New("file watching is not available")
		}
		return nil, s.cfg.Watcher.Watch(args.FilePath)

	case CmdGetSchemaVersion:
		return store.SchemaVersion(ctx)
	}
	return nil, fmt.Errorf("unknown command %q", req.Command)
}
