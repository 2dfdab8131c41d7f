package task

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
)

// Group is a named, ordered collection of task ids tracked together, for
// example the phases of one validation session.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaskIDs   []string  `json:"task_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// NewGroup returns an empty group. The caller supplies the identifier.
func NewGroup(id, name string) *Group {
	return &Group{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks structural invariants. Violations wrap domain.ErrValidation.
func (g *Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: group id is required", domain.ErrValidation)
	}
	if g.Name == "" {
		return fmt.Errorf("%w: group name is required", domain.ErrValidation)
	}
	if len(g.Name) > 200 {
		return fmt.Errorf("%w: group name exceeds 200 characters", domain.ErrValidation)
	}
	return nil
}

// Add appends a task id, preserving insertion order. Duplicates are ignored.
func (g *Group) Add(taskID string) {
	if slices.Contains(g.TaskIDs, taskID) {
		return
	}
	g.TaskIDs = append(g.TaskIDs, taskID)
}

// Remove drops a task id from the group.
func (g *Group) Remove(taskID string) {
	g.TaskIDs = slices.DeleteFunc(g.TaskIDs, func(id string) bool { return id == taskID })
}

// Clone returns an independent copy of the group.
func (g *Group) Clone() *Group {
	c := *g
	c.TaskIDs = slices.Clone(g.TaskIDs)
	return &c
}

// AggregateStatus folds member statuses into one group status. Failure
// dominates, then cancellation, then timeout. Completed is reported only
// when every member is terminal; otherwise the group is still running or
// pending. An empty group is pending.
func AggregateStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusPending
	}
	allTerminal := true
	anyRunning := false
	var failed, cancelled, timedOut bool
	for _, s := range statuses {
		switch s {
		case StatusFailed:
			failed = true
		case StatusCancelled:
			cancelled = true
		case StatusTimedOut:
			timedOut = true
		case StatusRunning:
			anyRunning = true
		}
		if !s.Terminal() {
			allTerminal = false
		}
	}
	switch {
	case failed:
		return StatusFailed
	case cancelled:
		return StatusCancelled
	case timedOut:
		return StatusTimedOut
	case allTerminal:
		return StatusCompleted
	case anyRunning:
		return StatusRunning
	default:
		return StatusPending
	}
}
