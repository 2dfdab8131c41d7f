package task

import "time"

// EventKind distinguishes the notifications a task emits while it runs.
type EventKind string

const (
	// EventStatus marks a lifecycle transition.
	EventStatus EventKind = "status"
	// EventProgress marks a progress or message update.
	EventProgress EventKind = "progress"
	// EventOutput carries one line of subprocess output.
	EventOutput EventKind = "output"
)

// Event is a single notification about a task. Events for one task are
// delivered in the order they were published.
type Event struct {
	TaskID   string    `json:"task_id"`
	Kind     EventKind `json:"kind"`
	Status   Status    `json:"status,omitempty"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Line     string    `json:"line,omitempty"`
	Stream   string    `json:"stream,omitempty"`
	At       time.Time `json:"at"`
}
