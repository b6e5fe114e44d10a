// Package retention periodically prunes old runs (and their logs) from the
// record store on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/ocgui/internal/audit"
	"github.com/basket/ocgui/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Store is the retention surface of the record store.
type Store interface {
	RunRetention(ctx context.Context, maxAgeDays int, now time.Time) (persistence.RetentionResult, error)
}

// Config holds the dependencies for the pruner.
type Config struct {
	Store      Store
	Logger     *slog.Logger
	Schedule   string
	MaxAgeDays int
	Interval   time.Duration    // tick interval; defaults to 1 minute if zero
	Now        func() time.Time // defaults to time.Now
}

// Pruner checks the schedule on every tick and runs retention when it is due.
type Pruner struct {
	store      Store
	logger     *slog.Logger
	schedule   cronlib.Schedule
	maxAgeDays int
	interval   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	nextRun time.Time
	last    persistence.RetentionResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and returns a pruner. A schedule that does not parse is
// an error even when retention is disabled.
func New(cfg Config) (*Pruner, error) {
	if cfg.Store == nil {
		return nil, errors.New("retention: store is required")
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", cfg.Schedule, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pruner{
		store:      cfg.Store,
		logger:     logger,
		schedule:   sched,
		maxAgeDays: cfg.MaxAgeDays,
		interval:   interval,
		now:        now,
	}, nil
}

// Enabled reports whether the pruner will ever delete anything.
func (p *Pruner) Enabled() bool {
	return p.maxAgeDays > 0
}

// Start begins the pruning loop. It is a no-op when retention is disabled.
func (p *Pruner) Start(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Info("retention disabled")
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
	p.logger.Info("retention pruner started", "interval", p.interval, "max_age_days", p.maxAgeDays)
}

// Stop cancels the loop and waits for it to exit.
func (p *Pruner) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("retention pruner stopped")
}

// NextRun returns when the next prune is due. Zero until the first tick.
func (p *Pruner) NextRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextRun
}

// LastResult returns the counts from the most recent prune.
func (p *Pruner) LastResult() persistence.RetentionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pruner) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pruner) tick(ctx context.Context) {
	now := p.now()

	p.mu.Lock()
	if p.nextRun.IsZero() {
		p.nextRun = p.schedule.Next(now)
		p.mu.Unlock()
		return
	}
	due := !now.Before(p.nextRun)
	p.mu.Unlock()
	if !due {
		return
	}

	if _, err := p.RunOnce(ctx, now); err != nil {
		p.logger.Error("retention: prune failed", "error", err)
	}

	p.mu.Lock()
	p.nextRun = p.schedule.Next(now)
	p.mu.Unlock()
}

// RunOnce prunes immediately using now as the reference time.
func (p *Pruner) RunOnce(ctx context.Context, now time.Time) (persistence.RetentionResult, error) {
	res, err := p.store.RunRetention(ctx, p.maxAgeDays, now)
	if err != nil {
		return res, err
	}
	p.mu.Lock()
	p.last = res
	p.mu.Unlock()
	if res.PurgedRuns > 0 || res.PurgedOrphaned > 0 {
		audit.Record("prune", "runs", "retention",
			fmt.Sprintf("purged_runs=%d purged_orphan_logs=%d cutoff=%d", res.PurgedRuns, res.PurgedOrphaned, res.Cutoff))
	}
	p.logger.Info("retention: pruned",
		"purged_runs", res.PurgedRuns,
		"purged_orphan_logs", res.PurgedOrphaned,
		"cutoff", res.Cutoff,
	)
	return res, nil
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
