package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/ocgui/internal/bus"
	otelPkg "github.com/basket/ocgui/internal/otel"
	"github.com/basket/ocgui/internal/shared"
)

const maxLineBytes = 8 << 20

// Config wires the dispatcher to its collaborators. Store is required.
type Config struct {
	Store   RecordStore
	Watcher Watcher
	Bus     *bus.Bus
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics
}

// Server dispatches GUI commands. Each request is handled on its own
// goroutine; writes to the output stream are serialized.
type Server struct {
	cfg       Config
	validator *argValidator

	writeMu sync.Mutex
	enc     *json.Encoder
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("ipc: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName)
	}
	v, err := newArgValidator()
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, validator: v}, nil
}

// Serve reads requests from r until EOF or ctx is done and writes responses
// and file-change events to w. In-flight requests finish before it returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.writeMu.Lock()
	s.enc = json.NewEncoder(w)
	s.writeMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.cfg.Bus != nil {
		sub := s.cfg.Bus.Subscribe(bus.TopicFileChange)
		defer s.cfg.Bus.Unsubscribe(sub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.forwardFileChanges(ctx, sub)
		}()
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	var reqWG sync.WaitGroup
	defer func() {
		reqWG.Wait()
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read requests: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.write(Response{ID: json.RawMessage("null"), Error: "invalid request: " + err.Error()})
				continue
			}
			reqWG.Add(1)
			go func() {
				defer reqWG.Done()
				s.write(s.Handle(ctx, req))
			}()
		}
	}
}

// Handle executes a single request and always produces a response.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx, span := otelPkg.StartServerSpan(ctx, s.cfg.Tracer, "ipc."+req.Command, otelPkg.AttrCommand.String(req.Command))
	defer span.End()

	result, err := s.dispatch(ctx, req)
	if s.cfg.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.cfg.Metrics.IPCRequests.Add(ctx, 1, metric.WithAttributes(
			otelPkg.AttrCommand.String(req.Command),
			otelPkg.AttrStatus.String(status),
		))
	}

	if err != nil {
		msg := shared.Redact(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		s.cfg.Logger.WarnContext(ctx, "ipc command failed", "command", req.Command, "error", msg)
		return Response{ID: id, Error: msg}
	}
	s.cfg.Logger.DebugContext(ctx, "ipc command handled", "command", req.Command)
	if result == nil {
		// Distinguish "null result" from a missing field for the GUI.
		result = json.RawMessage("null")
	}
	return Response{ID: id, Result: result}
}

func (s *Server) forwardFileChanges(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if ev.File == nil {
				continue
			}
			s.write(Event{Event: EventFileChange, Payload: ev.File.Description})
		}
	}
}

func (s *Server) write(payload any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.enc == nil {
		return
	}
	if err := s.enc.Encode(payload); err != nil {
		s.cfg.Logger.Error("ipc write failed", "error", err)
	}
}
