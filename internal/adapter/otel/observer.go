package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

const tracerName = "taskforge"

// Observer attaches to the event bridge as a broadcaster and turns the task
// lifecycle into telemetry: one span per task from start to terminal state,
// counters and a duration histogram alongside. Tasks run detached from any
// request, so their spans are roots rather than children of the submitting
// HTTP span.
type Observer struct {
	metrics *Metrics

	mu    sync.Mutex
	spans map[string]spanEntry
}

type spanEntry struct {
	span    trace.Span
	started time.Time
}

// NewObserver creates an Observer recording into m.
func NewObserver(m *Metrics) *Observer {
	return &Observer{metrics: m, spans: make(map[string]spanEntry)}
}

// BroadcastEvent implements broadcast.Broadcaster. Payloads that are not
// task events are ignored.
func (o *Observer) BroadcastEvent(ctx context.Context, _ string, payload any) {
	ev, ok := payload.(task.Event)
	if !ok {
		return
	}
	switch ev.Kind {
	case task.EventOutput:
		o.metrics.OutputLines.Add(ctx, 1)
	case task.EventStatus:
		o.observeStatus(ctx, ev)
	case task.EventProgress:
	}
}

func (o *Observer) observeStatus(ctx context.Context, ev task.Event) {
	switch {
	case ev.Status == task.StatusRunning:
		_, span := otel.Tracer(tracerName).Start(ctx, "task",
			trace.WithNewRoot(),
			trace.WithTimestamp(ev.At),
			trace.WithAttributes(
				attribute.String("task.id", ev.TaskID),
				attribute.String("task.message", ev.Message),
			),
		)
		o.mu.Lock()
		o.spans[ev.TaskID] = spanEntry{span: span, started: ev.At}
		o.mu.Unlock()
		o.metrics.TasksStarted.Add(ctx, 1)

	case ev.Status.Terminal():
		o.mu.Lock()
		entry, ok := o.spans[ev.TaskID]
		delete(o.spans, ev.TaskID)
		o.mu.Unlock()

		status := string(ev.Status)
		o.metrics.TasksFinished.Add(ctx, 1,
			metric.WithAttributes(attribute.String("task.status", status)))
		if !ok {
			// Cancelled while still queued; there is no running span and no
			// duration worth recording.
			return
		}
		o.metrics.TaskDuration.Record(ctx, ev.At.Sub(entry.started).Seconds(),
			metric.WithAttributes(attribute.String("task.status", status)))
		entry.span.SetAttributes(attribute.String("task.status", status))
		if ev.Status != task.StatusCompleted {
			entry.span.SetStatus(codes.Error, ev.Message)
		}
		entry.span.End(trace.WithTimestamp(ev.At))
	}
}
