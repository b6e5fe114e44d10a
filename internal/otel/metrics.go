package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the instruments recorded by the store, watcher and IPC layer.
type Metrics struct {
	StoreOpDuration metric.Float64Histogram
	StoreOpErrors   metric.Int64Counter
	RunsAdded       metric.Int64Counter
	RunLogsAdded    metric.Int64Counter
	WatchEvents     metric.Int64Counter
	ActiveWatches   metric.Int64UpDownCounter
	IPCRequests     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StoreOpDuration, err = meter.Float64Histogram("ocgui.store.duration",
		metric.WithDescription("Record store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreOpErrors, err = meter.Int64Counter("ocgui.store.errors",
		metric.WithDescription("Record store operations that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsAdded, err = meter.Int64Counter("ocgui.runs.added",
		metric.WithDescription("Runs inserted"),
	)
	if err != nil {
		return nil, err
	}

	m.RunLogsAdded, err = meter.Int64Counter("ocgui.run_logs.added",
		metric.WithDescription("Run log lines inserted"),
	)
	if err != nil {
		return nil, err
	}

	m.WatchEvents, err = meter.Int64Counter("ocgui.watch.events",
		metric.WithDescription("Filesystem change events forwarded to the GUI"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveWatches, err = meter.Int64UpDownCounter("ocgui.watch.active",
		metric.WithDescription("Number of currently registered file watches"),
	)
	if err != nil {
		return nil, err
	}

	m.IPCRequests, err = meter.Int64Counter("ocgui.ipc.requests",
		metric.WithDescription("IPC commands dispatched"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
