package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskforge"

// Metrics holds all TaskForge metric instruments.
type Metrics struct {
	TasksStarted  metric.Int64Counter
	TasksFinished metric.Int64Counter
	OutputLines   metric.Int64Counter
	TaskDuration  metric.Float64Histogram
	BridgeDepth   metric.Int64ObservableGauge
	QueueDepth    metric.Int64ObservableGauge
}

// NewMetrics creates all metric instruments. bridgeDepth and queueDepth are
// sampled on each export; either may be nil to skip its gauge.
func NewMetrics(bridgeDepth, queueDepth func() int) (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("taskforge.tasks.started",
		metric.WithDescription("Number of tasks that entered the running state"))
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("taskforge.tasks.finished",
		metric.WithDescription("Number of tasks that reached a terminal state, by status"))
	if err != nil {
		return nil, err
	}

	m.OutputLines, err = meter.Int64Counter("taskforge.output.lines",
		metric.WithDescription("Number of subprocess output lines streamed"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("taskforge.task.duration_seconds",
		metric.WithDescription("Task running time in seconds"))
	if err != nil {
		return nil, err
	}

	if bridgeDepth != nil {
		m.BridgeDepth, err = meter.Int64ObservableGauge("taskforge.bridge.pending",
			metric.WithDescription("Events waiting for the next bridge drain"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(bridgeDepth()))
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}
	if queueDepth != nil {
		m.QueueDepth, err = meter.Int64ObservableGauge("taskforge.tasks.queued",
			metric.WithDescription("Submitted tasks waiting for an execution slot"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(queueDepth()))
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}
