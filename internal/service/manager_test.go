package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/service"
)

func newManager(t *testing.T, maxConcurrent int) (*service.Manager, *service.Bridge) {
	t.Helper()
	b := service.NewBridge(testLogger())
	m := service.NewManager(testLogger(), b, maxConcurrent)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, b
}

func instantWork(result any) service.Work {
	return func(context.Context, service.ReportFunc) (any, error) {
		return result, nil
	}
}

func sleepWork(d time.Duration) service.Work {
	return func(ctx context.Context, _ service.ReportFunc) (any, error) {
		select {
		case <-time.After(d):
			return "slept", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func failWork(err error) service.Work {
	return func(context.Context, service.ReportFunc) (any, error) {
		return nil, err
	}
}

func TestSubmit_ReturnsImmediately(t *testing.T) {
	m, _ := newManager(t, 1)
	release := make(chan struct{})
	blocker := func(ctx context.Context, _ service.ReportFunc) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// Fill the single slot, then verify further submits do not block.
	if _, err := m.Submit(service.SubmitRequest{Name: "blocker", Work: blocker}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	start := time.Now()
	id, err := m.Submit(service.SubmitRequest{Name: "queued", Work: instantWork(nil)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("submit blocked for %v with the pool full", elapsed)
	}
	st, err := m.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != task.StatusPending {
		t.Fatalf("queued task should be pending, got %q", st.Status)
	}
	close(release)
}

func TestSubmit_Validation(t *testing.T) {
	m, _ := newManager(t, 1)
	tests := []struct {
		name string
		req  service.SubmitRequest
	}{
		{"nil work", service.SubmitRequest{Name: "x"}},
		{"empty name", service.SubmitRequest{Work: instantWork(nil)}},
		{"negative timeout", service.SubmitRequest{Name: "x", Work: instantWork(nil), Timeout: -time.Second}},
		{"unknown group", service.SubmitRequest{Name: "x", Work: instantWork(nil), GroupID: "nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Submit(tc.req); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got: %v", err)
			}
		})
	}
}

func TestTask_CompletesWithResult(t *testing.T) {
	m, _ := newManager(t, 2)
	id, err := m.Submit(service.SubmitRequest{Name: "ok", Work: instantWork(map[string]int{"n": 7})})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %q", st.Status)
	}
	if st.Result == nil || st.Err != nil {
		t.Fatalf("completed task must carry result and no error: %+v", st)
	}
	if st.Progress != 100 {
		t.Fatalf("completed task progress = %d, want 100", st.Progress)
	}
	if st.StartedAt == nil || st.EndedAt == nil {
		t.Fatal("expected both timestamps on a finished task")
	}
}

func TestTask_FailureCaptured(t *testing.T) {
	m, _ := newManager(t, 2)
	id, _ := m.Submit(service.SubmitRequest{
		Name: "boom",
		Work: failWork(&task.Error{Kind: task.ErrKindSubprocess, Message: "exit 2", Stderr: "oops"}),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %q", st.Status)
	}
	if st.Err == nil || st.Err.Kind != task.ErrKindSubprocess || st.Err.Stderr != "oops" {
		t.Fatalf("error record not preserved: %+v", st.Err)
	}
	if st.Result != nil {
		t.Fatal("failed task must not carry a result")
	}
}

func TestTask_PlainErrorBecomesInternal(t *testing.T) {
	m, _ := newManager(t, 1)
	id, _ := m.Submit(service.SubmitRequest{Name: "boom", Work: failWork(errors.New("plain"))})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, _ := m.Await(ctx, id)
	if st.Status != task.StatusFailed || st.Err == nil || st.Err.Kind != task.ErrKindInternal {
		t.Fatalf("plain error should fail as internal, got %+v", st)
	}
}

func TestTask_PanicCapturedAsFailure(t *testing.T) {
	m, _ := newManager(t, 1)
	id, _ := m.Submit(service.SubmitRequest{
		Name: "panics",
		Work: func(context.Context, service.ReportFunc) (any, error) {
			panic("kaboom")
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %q", st.Status)
	}
	if st.Err == nil || st.Err.Kind != task.ErrKindInternal {
		t.Fatalf("panic should be an internal error, got %+v", st.Err)
	}
	// The manager must stay healthy after a panic.
	id2, _ := m.Submit(service.SubmitRequest{Name: "after", Work: instantWork(nil)})
	if st2, _ := m.Await(ctx, id2); st2.Status != task.StatusCompleted {
		t.Fatalf("manager unhealthy after panic: %+v", st2)
	}
}

func TestTask_Timeout(t *testing.T) {
	m, _ := newManager(t, 1)
	start := time.Now()
	id, _ := m.Submit(service.SubmitRequest{
		Name:    "slow",
		Work:    sleepWork(2 * time.Second),
		Timeout: 200 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Status != task.StatusTimedOut {
		t.Fatalf("expected timed_out, got %q", st.Status)
	}
	if st.Err == nil || st.Err.Kind != task.ErrKindTimeout {
		t.Fatalf("expected timeout error, got %+v", st.Err)
	}
	elapsed := time.Since(start)
	if elapsed < 200*time.Millisecond {
		t.Fatalf("task ended before its timeout: %v", elapsed)
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("timeout enforcement too slow: %v", elapsed)
	}
}

func TestCancel_QueuedTaskNeverRuns(t *testing.T) {
	m, _ := newManager(t, 1)
	release := make(chan struct{})
	defer close(release)
	_, _ = m.Submit(service.SubmitRequest{
		Name: "blocker",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		},
	})
	var ran atomic.Bool
	id, _ := m.Submit(service.SubmitRequest{
		Name: "queued",
		Work: func(context.Context, service.ReportFunc) (any, error) {
			ran.Store(true)
			return nil, nil
		},
	})
	if !m.Cancel(id) {
		t.Fatal("cancel of a queued task should succeed")
	}
	st, err := m.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != task.StatusCancelled {
		t.Fatalf("queued task should be cancelled immediately, got %q", st.Status)
	}
	if st.StartedAt != nil {
		t.Fatal("cancelled-while-queued task must never start")
	}
	if ran.Load() {
		t.Fatal("cancelled task work must not run")
	}
}

func TestCancel_RunningTask(t *testing.T) {
	m, _ := newManager(t, 1)
	started := make(chan struct{})
	id, _ := m.Submit(service.SubmitRequest{
		Name: "long",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	<-started
	start := time.Now()
	if !m.Cancel(id) {
		t.Fatal("cancel of a running task should succeed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", st.Status)
	}
	if !st.CancelRequested {
		t.Fatal("latch should be visible on the task")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cooperative cancel took too long: %v", elapsed)
	}
}

func TestCancel_UnknownAndTerminal(t *testing.T) {
	m, _ := newManager(t, 1)
	if m.Cancel("missing") {
		t.Fatal("cancel of an unknown task should report false")
	}
	id, _ := m.Submit(service.SubmitRequest{Name: "quick", Work: instantWork(nil)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.Await(ctx, id); err != nil {
		t.Fatalf("await: %v", err)
	}
	if m.Cancel(id) {
		t.Fatal("cancel of a terminal task should report false")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	m, _ := newManager(t, 1)
	started := make(chan struct{})
	id, _ := m.Submit(service.SubmitRequest{
		Name: "long",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	<-started
	if !m.Cancel(id) {
		t.Fatal("first cancel should succeed")
	}
	if m.Cancel(id) {
		t.Fatal("second cancel should report false, the latch is one-way")
	}
}

func TestCeiling_BoundsConcurrency(t *testing.T) {
	const limit = 2
	const tasks = 3
	const unit = 300 * time.Millisecond
	m, _ := newManager(t, limit)

	var running, maxSeen atomic.Int32
	work := func(ctx context.Context, _ service.ReportFunc) (any, error) {
		cur := running.Add(1)
		for {
			old := maxSeen.Load()
			if cur <= old || maxSeen.CompareAndSwap(old, cur) {
				break
			}
		}
		defer running.Add(-1)
		select {
		case <-time.After(unit):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	start := time.Now()
	ids := make([]string, 0, tasks)
	for range tasks {
		id, err := m.Submit(service.SubmitRequest{Name: "unit", Work: work})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if _, err := m.Await(ctx, id); err != nil {
			t.Fatalf("await %s: %v", id, err)
		}
	}
	elapsed := time.Since(start)

	if m := maxSeen.Load(); m > limit {
		t.Fatalf("observed %d concurrent tasks, ceiling is %d", m, limit)
	}
	// Three unit tasks over two slots need two waves.
	if elapsed < 2*unit-50*time.Millisecond {
		t.Fatalf("finished too fast for the ceiling: %v", elapsed)
	}
}

func TestDispatch_FIFO(t *testing.T) {
	m, _ := newManager(t, 1)
	var mu struct {
		order []string
	}
	var started atomic.Int32
	makeWork := func(label string) service.Work {
		return func(ctx context.Context, _ service.ReportFunc) (any, error) {
			mu.order = append(mu.order, label) // serialized by ceiling 1
			started.Add(1)
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		}
	}
	ids := make([]string, 0, 3)
	for _, label := range []string{"a", "b", "c"} {
		id, _ := m.Submit(service.SubmitRequest{Name: label, Work: makeWork(label)})
		ids = append(ids, id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, id := range ids {
		if _, err := m.Await(ctx, id); err != nil {
			t.Fatalf("await: %v", err)
		}
	}
	if len(mu.order) != 3 || mu.order[0] != "a" || mu.order[1] != "b" || mu.order[2] != "c" {
		t.Fatalf("tasks started out of submission order: %v", mu.order)
	}
}

func TestProgress_ReportedThroughBridge(t *testing.T) {
	m, b := newManager(t, 1)
	id, _ := m.Submit(service.SubmitRequest{
		Name: "steps",
		Work: func(ctx context.Context, report service.ReportFunc) (any, error) {
			report(25, "extracting")
			report(60, "building")
			report(90, "testing")
			return nil, nil
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Progress != 100 {
		t.Fatalf("final progress = %d, want 100", st.Progress)
	}
	last := -1
	for _, ev := range b.Drain() {
		if ev.TaskID != id {
			continue
		}
		if ev.Progress < last {
			t.Fatalf("progress regressed in the event stream: %d after %d", ev.Progress, last)
		}
		last = ev.Progress
	}
	if last != 100 {
		t.Fatalf("last drained progress = %d, want 100", last)
	}
}

func TestProgress_MonotonicUnderBadReports(t *testing.T) {
	m, _ := newManager(t, 1)
	id, _ := m.Submit(service.SubmitRequest{
		Name: "jumpy",
		Work: func(ctx context.Context, report service.ReportFunc) (any, error) {
			report(50, "halfway")
			report(10, "going backwards")
			return nil, &task.Error{Kind: task.ErrKindInternal, Message: "stop"}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, _ := m.Await(ctx, id)
	if st.Progress != 50 {
		t.Fatalf("progress must not decrease, got %d", st.Progress)
	}
}

func TestStatusEvents_PublishedInOrder(t *testing.T) {
	m, b := newManager(t, 1)
	id, _ := m.Submit(service.SubmitRequest{Name: "ok", Work: instantWork(nil)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.Await(ctx, id); err != nil {
		t.Fatalf("await: %v", err)
	}
	var statuses []task.Status
	for _, ev := range b.Drain() {
		if ev.TaskID == id && ev.Kind == task.EventStatus {
			statuses = append(statuses, ev.Status)
		}
	}
	if len(statuses) != 2 || statuses[0] != task.StatusRunning || statuses[1] != task.StatusCompleted {
		t.Fatalf("unexpected status sequence: %v", statuses)
	}
}

func TestStatusAndList(t *testing.T) {
	m, _ := newManager(t, 2)
	if _, err := m.Status("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
	id1, _ := m.Submit(service.SubmitRequest{Name: "first", Work: instantWork(nil)})
	id2, _ := m.Submit(service.SubmitRequest{Name: "second", Work: instantWork(nil)})
	list := m.List()
	if len(list) != 2 || list[0].ID != id1 || list[1].ID != id2 {
		t.Fatalf("list should follow submission order, got %+v", list)
	}
}

func TestClear(t *testing.T) {
	m, _ := newManager(t, 1)
	if err := m.Clear("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	live, _ := m.Submit(service.SubmitRequest{
		Name: "live",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		},
	})
	<-started
	if err := m.Clear(live); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("clearing a live task should conflict, got: %v", err)
	}
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.Await(ctx, live); err != nil {
		t.Fatalf("await: %v", err)
	}
	if err := m.Clear(live); err != nil {
		t.Fatalf("clear terminal: %v", err)
	}
	if _, err := m.Status(live); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cleared task should be unknown, got: %v", err)
	}
	if err := m.Clear(live); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double clear should be not found, got: %v", err)
	}
}

func TestClearTerminal_Sweeps(t *testing.T) {
	m, _ := newManager(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ids []string
	for range 3 {
		id, _ := m.Submit(service.SubmitRequest{Name: "quick", Work: instantWork(nil)})
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := m.Await(ctx, id); err != nil {
			t.Fatalf("await: %v", err)
		}
	}
	if n := m.ClearTerminal(); n != 3 {
		t.Fatalf("cleared %d, want 3", n)
	}
	if got := len(m.List()); got != 0 {
		t.Fatalf("registry should be empty, has %d", got)
	}
}

func TestGroups_AggregateAndCancel(t *testing.T) {
	m, _ := newManager(t, 2)
	gid, err := m.CreateGroup("session")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := m.Group("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}

	done, _ := m.Submit(service.SubmitRequest{Name: "done", Work: instantWork(nil), GroupID: gid})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.Await(ctx, done); err != nil {
		t.Fatalf("await: %v", err)
	}

	started := make(chan struct{})
	_, _ = m.Submit(service.SubmitRequest{
		Name:    "long",
		GroupID: gid,
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	<-started

	gs, err := m.Group(gid)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if gs.Aggregate != task.StatusRunning || gs.Complete {
		t.Fatalf("expected running incomplete group, got %+v", gs)
	}
	if len(gs.Tasks) != 2 || gs.Tasks[0].ID != done {
		t.Fatal("group members should come back in insertion order")
	}

	n, err := m.CancelGroup(gid)
	if err != nil {
		t.Fatalf("cancel group: %v", err)
	}
	if n != 1 {
		t.Fatalf("only the live member should be newly cancelled, got %d", n)
	}
	gs, err = m.AwaitGroup(ctx, gid, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("await group: %v", err)
	}
	if gs.Aggregate != task.StatusCancelled || !gs.Complete {
		t.Fatalf("expected cancelled complete group, got %+v", gs)
	}

	// Idempotent: everything already terminal.
	n, err = m.CancelGroup(gid)
	if err != nil || n != 0 {
		t.Fatalf("second cancel should touch nothing, got n=%d err=%v", n, err)
	}
}

func TestGroup_FailureDominates(t *testing.T) {
	m, _ := newManager(t, 2)
	gid, _ := m.CreateGroup("mixed")
	ok, _ := m.Submit(service.SubmitRequest{Name: "ok", Work: instantWork(nil), GroupID: gid})
	bad, _ := m.Submit(service.SubmitRequest{Name: "bad", Work: failWork(errors.New("x")), GroupID: gid})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, id := range []string{ok, bad} {
		if _, err := m.Await(ctx, id); err != nil {
			t.Fatalf("await: %v", err)
		}
	}
	gs, _ := m.Group(gid)
	if gs.Aggregate != task.StatusFailed {
		t.Fatalf("failed member must dominate, got %q", gs.Aggregate)
	}
	if !gs.Complete {
		t.Fatal("all members terminal, group should be complete")
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	m, _ := newManager(t, 1)
	started := make(chan struct{})
	id, _ := m.Submit(service.SubmitRequest{
		Name: "long",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Await(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got: %v", err)
	}
}

func TestStats(t *testing.T) {
	m, _ := newManager(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, _ := m.Submit(service.SubmitRequest{Name: "ok", Work: instantWork(nil)})
	if _, err := m.Await(ctx, id); err != nil {
		t.Fatalf("await: %v", err)
	}
	id, _ = m.Submit(service.SubmitRequest{Name: "bad", Work: failWork(errors.New("x"))})
	if _, err := m.Await(ctx, id); err != nil {
		t.Fatalf("await: %v", err)
	}
	st := m.Stats()
	if st.Completed != 1 || st.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Capacity != 3 {
		t.Fatalf("capacity = %d, want 3", st.Capacity)
	}
}

func TestShutdown_CancelsEverything(t *testing.T) {
	b := service.NewBridge(testLogger())
	m := service.NewManager(testLogger(), b, 1)

	started := make(chan struct{})
	running, _ := m.Submit(service.SubmitRequest{
		Name: "running",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	<-started
	queued, _ := m.Submit(service.SubmitRequest{Name: "queued", Work: instantWork(nil)})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	for _, id := range []string{running, queued} {
		st, err := m.Status(id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if st.Status != task.StatusCancelled {
			t.Fatalf("task %s should be cancelled after shutdown, got %q", id, st.Status)
		}
	}
	if _, err := m.Submit(service.SubmitRequest{Name: "late", Work: instantWork(nil)}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("submit after shutdown should conflict, got: %v", err)
	}
}

func TestShutdown_WaitsForCompletion(t *testing.T) {
	b := service.NewBridge(testLogger())
	m := service.NewManager(testLogger(), b, 2)
	id, _ := m.Submit(service.SubmitRequest{
		Name: "finishing",
		Work: func(ctx context.Context, _ service.ReportFunc) (any, error) {
			// Ignores cancellation briefly, then succeeds.
			time.Sleep(100 * time.Millisecond)
			return "late result", nil
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	st, _ := m.Status(id)
	if !st.Status.Terminal() {
		t.Fatalf("shutdown returned with live task: %q", st.Status)
	}
}
