package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/basket/ocgui/internal/audit"
	"github.com/basket/ocgui/internal/persistence"
)

const defaultListLimit = 20

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func runRunsCommand(ctx context.Context, args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ocgui runs <list|show|session|delete> [args]")
		return 2
	}
	action, rest := strings.ToLower(args[0]), args[1:]

	var limit int
	switch action {
	case "list":
		fs := flag.NewFlagSet("ocgui runs list", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		fs.IntVar(&limit, "limit", defaultListLimit, "maximum number of runs to show")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		if fs.NArg() != 0 {
			fmt.Fprintln(os.Stderr, "usage: ocgui runs list [-limit N]")
			return 2
		}
	case "show", "session", "delete":
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			fmt.Fprintf(os.Stderr, "usage: ocgui runs %s <id>\n", action)
			return 2
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown runs action %q\n", action)
		return 2
	}

	store, _, cleanup, err := openCLIStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()

	switch action {
	case "list":
		runs, err := store.GetRuns(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
			return 1
		}
		printRuns(out, runs, isTerminal(out))
	case "session":
		runs, err := store.GetRunsBySession(ctx, rest[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "session runs: %v\n", err)
			return 1
		}
		printRuns(out, runs, isTerminal(out))
	case "show":
		run, ok, err := store.GetRunByID(ctx, rest[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "show run: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "run %q not found\n", rest[0])
			return 1
		}
		logs, err := store.GetRunLogs(ctx, run.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run logs: %v\n", err)
			return 1
		}
		if err := printRun(out, run, len(logs)); err != nil {
			fmt.Fprintf(os.Stderr, "render run: %v\n", err)
			return 1
		}
	case "delete":
		if err := store.DeleteRun(ctx, rest[0]); err != nil {
			fmt.Fprintf(os.Stderr, "delete run: %v\n", err)
			return 1
		}
		audit.Record("delete_run", rest[0], "cli", "")
		fmt.Fprintf(out, "deleted %s\n", rest[0])
	}
	return 0
}

func runLogsCommand(ctx context.Context, args []string, out io.Writer) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(os.Stderr, "usage: ocgui logs <run_id>")
		return 2
	}

	store, _, cleanup, err := openCLIStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()

	logs, err := store.GetRunLogs(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "run logs: %v\n", err)
		return 1
	}
	printLogs(out, logs, isTerminal(out))
	return 0
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

var runColumns = []struct {
	title string
	width int
}{
	{"ID", 38},
	{"SESSION", 14},
	{"TIME", 22},
	{"AGENT", 12},
	{"MODEL", 18},
	{"EXIT", 6},
	{"INPUT", 40},
}

// printRuns renders a padded, colored table on a terminal and plain TSV
// otherwise.
func printRuns(w io.Writer, runs []persistence.Run, styled bool) {
	if !styled {
		fmt.Fprintln(w, "ID\tSESSION\tTIME\tAGENT\tMODEL\tEXIT\tINPUT")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				r.ID, r.SessionID, formatMillis(r.Timestamp), r.Agent, r.Model, r.ExitStatus, truncate(r.Input, 80))
		}
		return
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no runs recorded"))
		return
	}
	cells := make([]string, len(runColumns))
	for i, c := range runColumns {
		cells[i] = headerStyle.Width(c.width).Render(c.title)
	}
	fmt.Fprintln(w, strings.Join(cells, " "))
	for _, r := range runs {
		exit := okStyle
		if r.ExitStatus != 0 {
			exit = errStyle
		}
		row := []string{
			lipgloss.NewStyle().Width(runColumns[0].width).Render(truncate(r.ID, runColumns[0].width)),
			dimStyle.Width(runColumns[1].width).Render(truncate(r.SessionID, runColumns[1].width)),
			lipgloss.NewStyle().Width(runColumns[2].width).Render(formatMillis(r.Timestamp)),
			lipgloss.NewStyle().Width(runColumns[3].width).Render(truncate(r.Agent, runColumns[3].width)),
			dimStyle.Width(runColumns[4].width).Render(truncate(r.Model, runColumns[4].width)),
			exit.Width(runColumns[5].width).Render(strconv.Itoa(r.ExitStatus)),
			truncate(r.Input, runColumns[6].width),
		}
		fmt.Fprintln(w, strings.Join(row, " "))
	}
}

type runView struct {
	persistence.Run `yaml:",inline"`
	Tools           []string `yaml:"tools"`
	Time            string   `yaml:"time"`
	LogLines        int      `yaml:"log_lines"`
}

func printRun(w io.Writer, run persistence.Run, logCount int) error {
	view := runView{Run: run, Tools: run.Tools(), Time: formatMillis(run.Timestamp), LogLines: logCount}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

func printLogs(w io.Writer, logs []persistence.RunLog, styled bool) {
	for _, l := range logs {
		kind := "[" + l.LogType + "]"
		if styled {
			style := dimStyle
			if l.LogType == "error" {
				style = errStyle
			}
			kind = style.Render(kind)
		}
		fmt.Fprintf(w, "%s %s %s\n", formatMillis(l.Timestamp), kind, l.LogLine)
	}
}
