package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/ocgui/internal/audit"
	"github.com/basket/ocgui/internal/config"
	"github.com/basket/ocgui/internal/persistence"
	"github.com/basket/ocgui/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SERVE MODE (default):
  %s [serve]                  Serve GUI commands as JSON lines on stdin/stdout

SUBCOMMANDS:
  %s runs list [-limit N]     List the most recent runs
  %s runs show <id>           Show one run
  %s runs session <id>        List a session's runs in order
  %s runs delete <id>         Delete a run and its logs
  %s logs <run_id>            Print the logs of a run
  %s import <file>            Import runs (and logs) from a YAML or JSON bundle
  %s watch add <path>         Watch a file on every serve start
  %s watch list               List configured watch paths
  %s doctor [-json]           Run diagnostic checks
  %s version                  Print the version

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  OCGUI_HOME              Data directory (default: ~/.ocgui)
  OCGUI_DB_PATH           Database file (default: $OCGUI_HOME/ocgui.db)
  OCGUI_LOG_LEVEL         debug, info, warn or error
  OCGUI_RETENTION_DAYS    Prune runs older than this many days (0 disables)
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "log to the log file only (no stderr mirror)")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command = strings.ToLower(strings.TrimSpace(args[0]))
		args = args[1:]
	}

	switch command {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "version":
		fmt.Println(Version)
	case "serve":
		os.Exit(runServeCommand(ctx, args, *quiet))
	case "runs":
		os.Exit(runRunsCommand(ctx, args, os.Stdout))
	case "logs":
		os.Exit(runLogsCommand(ctx, args, os.Stdout))
	case "import":
		os.Exit(runImportCommand(ctx, args, os.Stdout))
	case "watch":
		os.Exit(runWatchCommand(args, os.Stdout))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args, os.Stdout))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		printUsage()
		os.Exit(2)
	}
}

// openCLIStore loads config and opens the store for a one-shot subcommand.
// Logs go to the log file only so command output stays clean.
func openCLIStore() (*persistence.Store, config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("config load: %w", err)
	}
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, true)
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("logger init: %w", err)
	}
	store, err := persistence.Open(cfg.DBPath, nil, persistence.WithLogger(logger))
	if err != nil {
		_ = closer.Close()
		return nil, cfg, nil, fmt.Errorf("open store: %w", err)
	}
	if err := audit.Init(cfg.HomeDir); err != nil {
		logger.Warn("audit trail unavailable", "error", err)
	}
	cleanup := func() {
		_ = audit.Close()
		_ = store.Close()
		_ = closer.Close()
	}
	return store, cfg, cleanup, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", "serve", reasonCode+": "+message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"ocgui","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	return 1
}
