package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/ocgui/internal/audit"
	"github.com/basket/ocgui/internal/persistence"
	"github.com/basket/ocgui/internal/shared"
)

// runBundle is the import file format. YAML is a superset of JSON, so the
// same decoder reads both.
type runBundle struct {
	Runs []bundledRun `yaml:"runs"`
}

type bundledRun struct {
	persistence.Run `yaml:",inline"`
	Logs            []persistence.RunLog `yaml:"logs"`
}

type importSummary struct {
	Imported int
	Skipped  int
	Logs     int
}

func runImportCommand(ctx context.Context, args []string, out io.Writer) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(os.Stderr, "usage: ocgui import <file.yaml|file.json>")
		return 2
	}

	bundle, err := parseRunBundle(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read bundle: %v\n", err)
		return 1
	}

	store, _, cleanup, err := openCLIStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()

	sum, err := importRuns(ctx, store, bundle, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return 1
	}
	audit.Record("import", args[0], "cli", fmt.Sprintf("imported=%d skipped=%d logs=%d", sum.Imported, sum.Skipped, sum.Logs))
	fmt.Fprintf(out, "imported %d runs (%d log lines), skipped %d existing\n", sum.Imported, sum.Logs, sum.Skipped)
	return 0
}

func parseRunBundle(path string) (runBundle, error) {
	var bundle runBundle
	data, err := os.ReadFile(path)
	if err != nil {
		return bundle, err
	}
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return bundle, fmt.Errorf("parse %s: %w", path, err)
	}
	return bundle, nil
}

type runImporter interface {
	AddRun(ctx context.Context, run persistence.Run) error
	AddRunLog(ctx context.Context, log persistence.RunLog) (int64, error)
}

// importRuns adds every run in the bundle. Runs without an id get a fresh
// one and runs without a timestamp are stamped with now. Runs that already
// exist are skipped along with their logs.
func importRuns(ctx context.Context, store runImporter, bundle runBundle, now time.Time) (importSummary, error) {
	var sum importSummary
	for i, br := range bundle.Runs {
		run := br.Run
		if strings.TrimSpace(run.ID) == "" {
			run.ID = shared.NewRunID()
		}
		if run.Timestamp == 0 {
			run.Timestamp = now.UnixMilli()
		}
		if err := store.AddRun(ctx, run); err != nil {
			if errors.Is(err, persistence.ErrDuplicateKey) {
				sum.Skipped++
				continue
			}
			return sum, fmt.Errorf("run %d (%s): %w", i, run.ID, err)
		}
		sum.Imported++

		for _, l := range br.Logs {
			l.RunID = run.ID
			if l.Timestamp == 0 {
				l.Timestamp = run.Timestamp
			}
			if _, err := store.AddRunLog(ctx, l); err != nil {
				return sum, fmt.Errorf("log for run %s: %w", run.ID, err)
			}
			sum.Logs++
		}
	}
	return sum, nil
}
