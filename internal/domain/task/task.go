// Package task defines the asynchronous task entity, its lifecycle and the
// events it emits. Tasks move strictly forward: pending -> running -> one of
// the terminal states. No transition ever leaves a terminal state.
package task

import (
	"fmt"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusTimedOut:  true,
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// transitions enumerates every legal state change. Anything absent here is
// rejected, which also makes terminal states sinks.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether a task may move from one status to another.
func ValidTransition(from, to Status) bool {
	return transitions[from][to]
}

// ErrorKind classifies a task failure.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindSubprocess ErrorKind = "subprocess"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindCancelled  ErrorKind = "cancelled"
	ErrKindInternal   ErrorKind = "internal"
)

// Error is the structured failure record attached to a task that did not
// complete. Stderr holds a bounded excerpt of subprocess error output when
// the failure came from an external command.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Stderr  string    `json:"stderr,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// statusForKind maps a failure classification to the terminal status it
// implies.
func statusForKind(kind ErrorKind) Status {
	switch kind {
	case ErrKindTimeout:
		return StatusTimedOut
	case ErrKindCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Task is a unit of asynchronous work tracked by the manager. Result and Err
// are mutually exclusive: a completed task carries a result, every other
// terminal task carries an error.
type Task struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	GroupID         string     `json:"group_id,omitempty"`
	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	Message         string     `json:"message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Result          any        `json:"result,omitempty"`
	Err             *Error     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
}

// New returns a pending task. The caller supplies the identifier.
func New(id, name string) *Task {
	return &Task{
		ID:        id,
		Name:      name,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks structural invariants. Violations wrap domain.ErrValidation.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: task name is required", domain.ErrValidation)
	}
	if len(t.Name) > 200 {
		return fmt.Errorf("%w: task name exceeds 200 characters", domain.ErrValidation)
	}
	if !validStatuses[t.Status] {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, t.Status)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range [0,100]", domain.ErrValidation, t.Progress)
	}
	if t.Result != nil && t.Err != nil {
		return fmt.Errorf("%w: task carries both result and error", domain.ErrValidation)
	}
	return nil
}

// Start moves the task to running and stamps StartedAt.
func (t *Task) Start(now time.Time) error {
	if !ValidTransition(t.Status, StatusRunning) {
		return fmt.Errorf("%w: cannot start task in status %q", domain.ErrConflict, t.Status)
	}
	t.Status = StatusRunning
	t.StartedAt = &now
	return nil
}

// Complete finishes the task successfully, attaching its result.
func (t *Task) Complete(result any, now time.Time) error {
	if !ValidTransition(t.Status, StatusCompleted) {
		return fmt.Errorf("%w: cannot complete task in status %q", domain.ErrConflict, t.Status)
	}
	t.Status = StatusCompleted
	t.Progress = 100
	t.Result = result
	t.Err = nil
	t.EndedAt = &now
	return nil
}

// Finish ends the task with the terminal status implied by the error kind.
// A nil terr is recorded as an internal failure so the task never ends
// without either a result or an error.
func (t *Task) Finish(terr *Error, now time.Time) error {
	if terr == nil {
		terr = &Error{Kind: ErrKindInternal, Message: "task failed without error detail"}
	}
	to := statusForKind(terr.Kind)
	if !ValidTransition(t.Status, to) {
		return fmt.Errorf("%w: cannot move task from %q to %q", domain.ErrConflict, t.Status, to)
	}
	t.Status = to
	t.Result = nil
	t.Err = terr
	t.EndedAt = &now
	return nil
}

// Cancel ends a pending task that never ran. Running tasks are cancelled by
// their executor through Finish once the work observes the request.
func (t *Task) Cancel(reason string, now time.Time) error {
	if !ValidTransition(t.Status, StatusCancelled) {
		return fmt.Errorf("%w: cannot cancel task in status %q", domain.ErrConflict, t.Status)
	}
	t.Status = StatusCancelled
	t.Err = &Error{Kind: ErrKindCancelled, Message: reason}
	t.EndedAt = &now
	return nil
}

// RequestCancel flips the one-way cancellation latch. It reports false when
// the latch was already set or the task is already terminal.
func (t *Task) RequestCancel() bool {
	if t.CancelRequested || t.Status.Terminal() {
		return false
	}
	t.CancelRequested = true
	return true
}

// Advance raises progress and replaces the human-readable message. Progress
// never decreases and is clamped to [0,100]. It reports whether anything
// changed.
func (t *Task) Advance(percent int, message string) bool {
	if t.Status.Terminal() {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	changed := false
	if percent > t.Progress {
		t.Progress = percent
		changed = true
	}
	if message != "" && message != t.Message {
		t.Message = message
		changed = true
	}
	return changed
}

// Clone returns an independent copy safe to hand to readers while the
// original keeps mutating under the manager's lock. Result payloads are
// shared and treated as read-only.
func (t *Task) Clone() *Task {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.EndedAt != nil {
		v := *t.EndedAt
		c.EndedAt = &v
	}
	if t.Err != nil {
		e := *t.Err
		c.Err = &e
	}
	return &c
}

// Duration reports the running time: zero until started, live while running,
// frozen once ended.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := now
	if t.EndedAt != nil {
		end = *t.EndedAt
	}
	return end.Sub(*t.StartedAt)
}
