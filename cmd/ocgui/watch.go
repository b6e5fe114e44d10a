package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/ocgui/internal/config"
)

func runWatchCommand(args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ocgui watch <add|list> [path]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	switch strings.ToLower(args[0]) {
	case "list":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: ocgui watch list")
			return 2
		}
		for _, p := range cfg.WatchPaths {
			fmt.Fprintln(out, p)
		}
		return 0
	case "add":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			fmt.Fprintln(os.Stderr, "usage: ocgui watch add <path>")
			return 2
		}
		path, err := filepath.Abs(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve path: %v\n", err)
			return 1
		}
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(os.Stderr, "watch path: %v\n", err)
			return 1
		}
		if err := config.AddWatchPath(cfg.HomeDir, path); err != nil {
			fmt.Fprintf(os.Stderr, "update config: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "watching %s (takes effect on next serve)\n", path)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown watch action %q\n", args[0])
		return 2
	}
}
