package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for ocgui spans.
var (
	AttrRunID     = attribute.Key("ocgui.run.id")
	AttrSessionID = attribute.Key("ocgui.session.id")
	AttrStoreOp   = attribute.Key("ocgui.store.op")
	AttrCommand   = attribute.Key("ocgui.ipc.command")
	AttrWatchPath = attribute.Key("ocgui.watch.path")
	AttrStatus    = attribute.Key("ocgui.status")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound IPC request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
