package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/basket/ocgui/internal/audit"
	"github.com/basket/ocgui/internal/bus"
	"github.com/basket/ocgui/internal/config"
	"github.com/basket/ocgui/internal/ipc"
	otelPkg "github.com/basket/ocgui/internal/otel"
	"github.com/basket/ocgui/internal/persistence"
	"github.com/basket/ocgui/internal/retention"
	"github.com/basket/ocgui/internal/telemetry"
	"github.com/basket/ocgui/internal/watch"
)

func runServeCommand(ctx context.Context, args []string, quiet bool) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: ocgui serve")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		return fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	logger.Info("startup phase", "phase", "config_loaded", "config_fingerprint", cfg.Fingerprint(), "needs_setup", cfg.NeedsSetup)

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel, otelPkg.Resource{
		Version:    Version,
		DBPath:     cfg.DBPath,
		WatchPaths: len(cfg.WatchPaths),
	})
	if err != nil {
		return fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		return fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	eventBus := bus.New()

	// Migration runs inside Open, before anything can reach the store.
	store, err := persistence.Open(cfg.DBPath, eventBus,
		persistence.WithLogger(logger),
		persistence.WithTelemetry(otelProvider.Tracer, metrics),
	)
	if err != nil {
		return fatalStartup(logger, "E_DB_OPEN", err)
	}
	defer store.Close()
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		logger.Warn("schema version unavailable", "error", err)
	}
	logger.Info("startup phase", "phase", "store_ready", "db_path", cfg.DBPath, "schema_version", version)

	watches := watch.NewRegistry(eventBus, logger, metrics)
	defer func() {
		if err := watches.Close(); err != nil {
			logger.Warn("watch teardown failed", "error", err)
		}
	}()
	for _, p := range cfg.WatchPaths {
		if err := watches.Watch(p); err != nil {
			logger.Warn("configured watch path skipped", "path", p, "error", err)
		}
	}

	pruner, err := retention.New(retention.Config{
		Store:      store,
		Logger:     logger,
		Schedule:   cfg.Retention.Schedule,
		MaxAgeDays: cfg.Retention.MaxAgeDays,
	})
	if err != nil {
		return fatalStartup(logger, "E_RETENTION_INIT", err)
	}
	pruner.Start(ctx)
	defer pruner.Stop()

	srv, err := ipc.New(ipc.Config{
		Store:   store,
		Watcher: watches,
		Bus:     eventBus,
		Logger:  logger,
		Tracer:  otelProvider.Tracer,
		Metrics: metrics,
	})
	if err != nil {
		return fatalStartup(logger, "E_IPC_INIT", err)
	}

	logger.Info("startup phase", "phase", "serving", "watches", watches.Active())
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("serve failed", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
