// Package watch is the change notification bridge: it observes filesystem
// paths and forwards every change event to the bus on bus.TopicFileChange.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/ocgui/internal/bus"
	otelPkg "github.com/basket/ocgui/internal/otel"
)

// ErrClosed is returned by Watch after the registry has been closed.
var ErrClosed = errors.New("watch registry closed")

type handle struct {
	id   int
	path string
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Registry owns every active watch for the lifetime of the process. Watches
// are never removed individually; Close tears all of them down.
type Registry struct {
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otelPkg.Metrics

	mu      sync.Mutex
	nextID  int
	watches map[int]*handle
	closed  bool
}

func NewRegistry(eventBus *bus.Bus, logger *slog.Logger, metrics *otelPkg.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bus:     eventBus,
		logger:  logger,
		metrics: metrics,
		watches: make(map[int]*handle),
	}
}

// Watch starts a non-recursive watch on path. Calling it again for the same
// path stacks an independent watch. Errors observed after Watch returns are
// logged, not reported to the caller.
func (r *Registry) Watch(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("watch: path is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	r.nextID++
	h := &handle{id: r.nextID, path: path, fsw: fsw, done: make(chan struct{})}
	r.watches[h.id] = h
	go r.forward(h)

	if r.metrics != nil {
		r.metrics.ActiveWatches.Add(context.Background(), 1)
	}
	r.logger.Info("watch registered", "path", path, "watch_id", h.id)
	return nil
}

func (r *Registry) forward(h *handle) {
	defer close(h.done)
	for {
		select {
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return
			}
			r.bus.PublishFileChange(bus.FileChangeEvent{
				Path:        ev.Name,
				Op:          ev.Op.String(),
				Description: ev.String(),
			})
			if r.metrics != nil {
				r.metrics.WatchEvents.Add(context.Background(), 1,
					metric.WithAttributes(otelPkg.AttrWatchPath.String(h.path)))
			}
			r.logger.Debug("file change forwarded", "path", ev.Name, "op", ev.Op.String(), "watch_id", h.id)
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return
			}
			r.logger.Warn("watch error", "path", h.path, "watch_id", h.id, "error", err)
		}
	}
}

// Active returns the number of registered watches.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

// Paths lists the watched paths in registration order, duplicates included.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.watches))
	for id := 1; id <= r.nextID; id++ {
		if h, ok := r.watches[id]; ok {
			out = append(out, h.path)
		}
	}
	return out
}

// Close stops every watch and waits for their forwarders to exit.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := make([]*handle, 0, len(r.watches))
	for _, h := range r.watches {
		handles = append(handles, h)
	}
	r.watches = make(map[int]*handle)
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.fsw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watch %s: %w", h.path, err))
		}
		<-h.done
		if r.metrics != nil {
			r.metrics.ActiveWatches.Add(context.Background(), -1)
		}
	}
	return errors.Join(errs...)
}
