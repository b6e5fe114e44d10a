package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/ocgui/internal/bus"
	otelPkg "github.com/basket/ocgui/internal/otel"
)

const busyRetries = 5

// Store is the run/run-log record store. All mutations are serialized behind
// a single write lock; reads share a read lock.
type Store struct {
	db  *sql.DB
	bus *bus.Bus // may be nil in tests

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelPkg.Metrics

	mu       sync.RWMutex
	closed   bool
	poisoned atomic.Bool
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithLogger sets the logger used for migration progress.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTelemetry attaches a tracer and metric instruments to every store operation.
func WithTelemetry(tracer trace.Tracer, metrics *otelPkg.Metrics) Option {
	return func(s *Store) {
		if tracer != nil {
			s.tracer = tracer
		}
		s.metrics = metrics
	}
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ocgui", "ocgui.db")
}

// Open opens (creating if needed) the store at path and migrates it to the
// latest schema version. The store is never returned if migration fails.
func Open(path string, eventBus *bus.Bus, opts ...Option) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{
		db:     db,
		bus:    eventBus,
		logger: slog.Default(),
		tracer: nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName),
	}
	for _, opt := range opts {
		opt(store)
	}

	ctx := context.Background()
	if err := store.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	current, err := GetVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, current, store.logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// SchemaVersion reports the persisted schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.withRead("schema version", func() error {
		var err error
		v, err = GetVersion(ctx, s.db)
		return err
	})
	return v, err
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return storageErr(fmt.Sprintf("set pragma %q", q), err)
		}
	}
	return nil
}

// withWrite runs fn holding the exclusive lock. A panic inside fn poisons the
// store and is reported as ErrLockPoisoned.
func (s *Store) withWrite(op string, fn func() error) (err error) {
	if s.poisoned.Load() {
		return fmt.Errorf("%s: %w", op, ErrLockPoisoned)
	}
	s.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			err = fmt.Errorf("%s: %w: %v", op, ErrLockPoisoned, r)
		}
		s.mu.Unlock()
	}()
	if s.poisoned.Load() {
		return fmt.Errorf("%s: %w", op, ErrLockPoisoned)
	}
	if s.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fn()
}

// withRead runs fn holding the shared lock.
func (s *Store) withRead(op string, fn func() error) (err error) {
	if s.poisoned.Load() {
		return fmt.Errorf("%s: %w", op, ErrLockPoisoned)
	}
	s.mu.RLock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			err = fmt.Errorf("%s: %w: %v", op, ErrLockPoisoned, r)
		}
		s.mu.RUnlock()
	}()
	if s.poisoned.Load() {
		return fmt.Errorf("%s: %w", op, ErrLockPoisoned)
	}
	if s.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fn()
}

// writeTx runs fn inside a transaction under the write lock, retrying the
// whole transaction when SQLite reports BUSY/LOCKED.
func (s *Store) writeTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withWrite(op, func() error {
		return retryOnBusy(ctx, busyRetries, func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return storageErr("begin "+op, err)
			}
			defer func() { _ = tx.Rollback() }()
			if err := fn(tx); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return storageErr("commit "+op, err)
			}
			return nil
		})
	})
}

// observe starts a span for a store operation and returns a finisher that
// records duration and outcome.
func (s *Store) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs, otelPkg.AttrStoreOp.String(op))
	ctx, span := otelPkg.StartSpan(ctx, s.tracer, "store."+op, attrs...)
	return ctx, func(err error) {
		if s.metrics != nil {
			opAttr := metric.WithAttributes(otelPkg.AttrStoreOp.String(op))
			s.metrics.StoreOpDuration.Record(ctx, time.Since(start).Seconds(), opAttr)
			if err != nil {
				s.metrics.StoreOpErrors.Add(ctx, 1, opAttr)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
