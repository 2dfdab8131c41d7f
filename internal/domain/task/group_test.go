package task_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
)

func TestGroupAdd_PreservesOrder(t *testing.T) {
	g := task.NewGroup("g-1", "session")
	g.Add("a")
	g.Add("b")
	g.Add("c")
	g.Add("b")
	if len(g.TaskIDs) != 3 {
		t.Fatalf("duplicate add should be ignored, got %v", g.TaskIDs)
	}
	for i, want := range []string{"a", "b", "c"} {
		if g.TaskIDs[i] != want {
			t.Fatalf("order not preserved: got %v", g.TaskIDs)
		}
	}
}

func TestGroupRemove(t *testing.T) {
	g := task.NewGroup("g-1", "session")
	g.Add("a")
	g.Add("b")
	g.Remove("a")
	if len(g.TaskIDs) != 1 || g.TaskIDs[0] != "b" {
		t.Fatalf("unexpected members after remove: %v", g.TaskIDs)
	}
	g.Remove("missing")
	if len(g.TaskIDs) != 1 {
		t.Fatalf("removing an unknown id should be a no-op, got %v", g.TaskIDs)
	}
}

func TestGroupValidate(t *testing.T) {
	g := task.NewGroup("g-1", "session")
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid, got: %v", err)
	}
	g = task.NewGroup("", "session")
	if err := g.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing id, got: %v", err)
	}
	g = task.NewGroup("g-1", "")
	if err := g.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing name, got: %v", err)
	}
}

func TestGroupClone_Independent(t *testing.T) {
	g := task.NewGroup("g-1", "session")
	g.Add("a")
	c := g.Clone()
	c.Add("b")
	if len(g.TaskIDs) != 1 {
		t.Fatalf("clone must not share the member slice, got %v", g.TaskIDs)
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []task.Status
		want     task.Status
	}{
		{"empty", nil, task.StatusPending},
		{"all pending", []task.Status{task.StatusPending, task.StatusPending}, task.StatusPending},
		{"all completed", []task.Status{task.StatusCompleted, task.StatusCompleted}, task.StatusCompleted},
		{"failed dominates running", []task.Status{task.StatusRunning, task.StatusFailed}, task.StatusFailed},
		{"failed dominates cancelled", []task.Status{task.StatusCancelled, task.StatusFailed}, task.StatusFailed},
		{"cancelled dominates timed_out", []task.Status{task.StatusTimedOut, task.StatusCancelled}, task.StatusCancelled},
		{"timed_out dominates completed", []task.Status{task.StatusCompleted, task.StatusTimedOut}, task.StatusTimedOut},
		{"running while some completed", []task.Status{task.StatusCompleted, task.StatusRunning}, task.StatusRunning},
		{"pending while some completed", []task.Status{task.StatusCompleted, task.StatusPending}, task.StatusPending},
		{"single running", []task.Status{task.StatusRunning}, task.StatusRunning},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := task.AggregateStatus(tc.statuses); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAggregateStatus_CompletedRequiresAllTerminal(t *testing.T) {
	statuses := []task.Status{task.StatusCompleted, task.StatusCompleted, task.StatusPending}
	if got := task.AggregateStatus(statuses); got == task.StatusCompleted {
		t.Fatal("group with a pending member must not aggregate to completed")
	}
}
