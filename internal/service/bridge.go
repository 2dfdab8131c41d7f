package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
)

// Event type names used for broadcaster fan-out.
const (
	EventTaskStatus   = "task.status"
	EventTaskProgress = "task.progress"
	EventTaskOutput   = "task.output"
)

// maxBridgeQueue caps the buffered events between drains. Progress events
// never grow past one slot per task, so only output floods can hit the cap.
const maxBridgeQueue = 8192

// Bridge carries task events from executor goroutines to a single-threaded
// consumer. Publish never blocks; the consumer pulls batches with Drain.
// Between drains, successive progress events for the same task coalesce into
// one slot holding the latest value, keeping the queue small no matter how
// chatty a task is. Per-task publication order is preserved, with a coalesced
// update occupying the queue position of the event it replaced.
//
// Every published event is also fanned out immediately and uncoalesced to
// the attached broadcasters.
type Bridge struct {
	log     *slog.Logger
	casters []broadcast.Broadcaster

	mu       sync.Mutex
	queue    []task.Event
	progress map[string]int // task id -> index of its pending progress event
	dropped  uint64
}

// NewBridge creates a bridge fanning out to the given broadcasters. Casters
// may be nil or empty when no realtime transport is wired.
func NewBridge(log *slog.Logger, casters ...broadcast.Broadcaster) *Bridge {
	return &Bridge{
		log:      log,
		casters:  casters,
		progress: make(map[string]int),
	}
}

// Publish enqueues an event for the next Drain and fans it out to the
// broadcasters. Safe for concurrent use from any goroutine.
func (b *Bridge) Publish(ctx context.Context, ev task.Event) {
	b.mu.Lock()
	switch {
	case ev.Kind == task.EventProgress:
		if idx, ok := b.progress[ev.TaskID]; ok {
			b.queue[idx] = ev
		} else if len(b.queue) < maxBridgeQueue {
			b.progress[ev.TaskID] = len(b.queue)
			b.queue = append(b.queue, ev)
		} else {
			b.dropped++
		}
	case len(b.queue) < maxBridgeQueue:
		b.queue = append(b.queue, ev)
	default:
		b.dropped++
	}
	b.mu.Unlock()

	for _, c := range b.casters {
		c.BroadcastEvent(ctx, eventTypeFor(ev.Kind), ev)
	}
}

// Drain returns every buffered event in publication order and resets the
// queue. It never blocks and returns nil when nothing is pending.
func (b *Bridge) Drain() []task.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	b.progress = make(map[string]int)
	if b.dropped > 0 {
		b.log.Warn("bridge dropped events under backpressure", "count", b.dropped)
		b.dropped = 0
	}
	return out
}

// Pending reports how many events are waiting for the next Drain.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func eventTypeFor(kind task.EventKind) string {
	switch kind {
	case task.EventStatus:
		return EventTaskStatus
	case task.EventOutput:
		return EventTaskOutput
	default:
		return EventTaskProgress
	}
}
