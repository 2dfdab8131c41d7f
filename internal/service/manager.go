// Package service contains the task orchestration core: the manager that
// owns task state, the event bridge toward the front end, and the services
// built on top of them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/logger"
	"github.com/Strob0t/TaskForge/internal/pool"
)

// ReportFunc lets running work raise task progress and update the
// human-readable message. Percent is clamped to [0,100] and never decreases.
type ReportFunc func(percent int, message string)

// Work is a unit of asynchronous work. It must honor ctx cancellation at its
// suspension points and may classify its own failures by returning a
// *task.Error.
type Work func(ctx context.Context, report ReportFunc) (any, error)

// SubmitRequest describes one task submission.
type SubmitRequest struct {
	Name string
	Work Work
	// Timeout bounds the task's execution once it starts. Zero means none.
	Timeout time.Duration
	// GroupID attaches the task to an existing group.
	GroupID string
}

// GroupStatus is a point-in-time view of a group and its members.
type GroupStatus struct {
	Group     *task.Group  `json:"group"`
	Aggregate task.Status  `json:"aggregate_status"`
	Complete  bool         `json:"complete"`
	Tasks     []*task.Task `json:"tasks"`
}

// ManagerStats summarizes the registry for health and console output.
type ManagerStats struct {
	Pending    int `json:"pending"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	TimedOut   int `json:"timed_out"`
	QueueDepth int `json:"queue_depth"`
	Capacity   int `json:"capacity"`
}

type entry struct {
	task    *task.Task
	work    Work
	timeout time.Duration
	cancel  context.CancelFunc // set while running
	done    chan struct{}      // closed on terminal transition
}

// Manager owns every task from submission to terminal state. All state
// lives behind one mutex; a single dispatcher goroutine admits pending
// tasks in strict submission order as execution slots free up, so Submit
// never blocks no matter how full the pool is.
type Manager struct {
	log    *slog.Logger
	bridge *Bridge
	pool   *pool.Pool

	mu      sync.Mutex
	entries map[string]*entry
	groups  map[string]*task.Group
	order   []string // submission order, for listings
	pending []string // FIFO queue of not-yet-dispatched ids
	closed  bool

	wake       chan struct{}
	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a manager with the given execution ceiling and starts
// its dispatcher. Call Shutdown to stop it.
func NewManager(log *slog.Logger, bridge *Bridge, maxConcurrent int) *Manager {
	root, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:        log,
		bridge:     bridge,
		pool:       pool.New(maxConcurrent),
		entries:    make(map[string]*entry),
		groups:     make(map[string]*task.Group),
		wake:       make(chan struct{}, 1),
		root:       root,
		rootCancel: cancel,
	}
	m.wg.Add(1)
	go m.dispatch()
	return m
}

// Submit validates the request, registers a pending task and returns its id
// immediately. The task starts once submission order and the concurrency
// ceiling allow. Validation failures are the only synchronous errors; work
// failures surface later on the task itself.
func (m *Manager) Submit(req SubmitRequest) (string, error) {
	if req.Work == nil {
		return "", fmt.Errorf("%w: work function is required", domain.ErrValidation)
	}
	if req.Timeout < 0 {
		return "", fmt.Errorf("%w: timeout must not be negative", domain.ErrValidation)
	}
	t := task.New(uuid.NewString(), req.Name)
	t.GroupID = req.GroupID
	if err := t.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: manager is shut down", domain.ErrConflict)
	}
	if req.GroupID != "" {
		g, ok := m.groups[req.GroupID]
		if !ok {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: unknown group %q", domain.ErrValidation, req.GroupID)
		}
		g.Add(t.ID)
	}
	m.entries[t.ID] = &entry{
		task:    t,
		work:    req.Work,
		timeout: req.Timeout,
		done:    make(chan struct{}),
	}
	m.order = append(m.order, t.ID)
	m.pending = append(m.pending, t.ID)
	m.mu.Unlock()

	m.nudge()
	m.log.Info("task submitted",
		"task_id", t.ID,
		"name", t.Name,
		"timeout", req.Timeout,
		"group_id", req.GroupID)
	return t.ID, nil
}

// nudge wakes the dispatcher without blocking.
func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dispatch admits pending tasks one at a time in submission order. It blocks
// on the pool when every slot is busy, which is what preserves FIFO: later
// submissions cannot overtake the queue head.
func (m *Manager) dispatch() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-m.wake:
				continue
			case <-m.root.Done():
				return
			}
		}
		id := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		if err := m.pool.Acquire(m.root); err != nil {
			return
		}
		if !m.launch(id) {
			m.pool.Release()
		}
	}
}

// launch starts the executor for a pending task. It reports false when the
// task no longer needs a slot, for example because it was cancelled while
// queued.
func (m *Manager) launch(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.task.Status != task.StatusPending {
		m.mu.Unlock()
		return false
	}
	if e.task.CancelRequested {
		m.finalizeCancelLocked(e, "cancelled before start")
		m.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(m.root)
	e.cancel = cancel
	now := time.Now().UTC()
	if err := e.task.Start(now); err != nil {
		cancel()
		e.cancel = nil
		m.mu.Unlock()
		return false
	}
	ev := statusEvent(e.task)
	m.wg.Add(1)
	m.mu.Unlock()

	m.bridge.Publish(context.Background(), ev)
	go m.execute(e, runCtx)
	return true
}

// execute runs the work function to completion. Panics are captured and
// recorded as internal failures so a misbehaving work function can never
// take the manager down.
func (m *Manager) execute(e *entry, runCtx context.Context) {
	defer m.wg.Done()
	defer m.pool.Release()

	// Work can recover its own task ID from the context, which lets output
	// streaming factories tag events without threading the ID explicitly.
	ctx := logger.WithTaskID(runCtx, e.task.ID)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	report := func(percent int, message string) {
		m.mu.Lock()
		changed := e.task.Advance(percent, message)
		var ev task.Event
		if changed {
			ev = progressEvent(e.task)
		}
		m.mu.Unlock()
		if changed {
			m.bridge.Publish(context.Background(), ev)
		}
	}

	var (
		result  any
		workErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				workErr = &task.Error{
					Kind:    task.ErrKindInternal,
					Message: fmt.Sprintf("panic: %v", r),
				}
				m.log.Error("task work panicked",
					"task_id", e.task.ID,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		result, workErr = e.work(ctx, report)
	}()

	m.finish(e, result, workErr, ctx.Err())
}

// finish records the terminal state. Precedence: a successful return wins,
// then the cancellation latch, then the timeout, then the work's own error
// classification.
func (m *Manager) finish(e *entry, result any, workErr, ctxErr error) {
	now := time.Now().UTC()

	m.mu.Lock()
	if e.task.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	var err error
	if workErr == nil {
		err = e.task.Complete(result, now)
	} else {
		err = e.task.Finish(classify(workErr, e.task.CancelRequested, ctxErr), now)
	}
	if err != nil {
		m.log.Error("task transition rejected", "task_id", e.task.ID, "error", err)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	close(e.done)
	ev := statusEvent(e.task)
	status := e.task.Status
	duration := e.task.Duration(now)
	m.mu.Unlock()

	m.bridge.Publish(context.Background(), ev)
	m.log.Info("task finished",
		"task_id", e.task.ID,
		"status", string(status),
		"duration", duration)
}

// classify turns a work error into the task error record that picks the
// terminal status. The cancellation latch takes precedence over everything
// the work reports, then the context deadline.
func classify(workErr error, cancelRequested bool, ctxErr error) *task.Error {
	if cancelRequested {
		return &task.Error{Kind: task.ErrKindCancelled, Message: workErr.Error()}
	}
	var terr *task.Error
	if errors.As(workErr, &terr) {
		return terr
	}
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(workErr, context.DeadlineExceeded):
		return &task.Error{Kind: task.ErrKindTimeout, Message: workErr.Error()}
	case errors.Is(workErr, context.Canceled):
		return &task.Error{Kind: task.ErrKindCancelled, Message: workErr.Error()}
	default:
		return &task.Error{Kind: task.ErrKindInternal, Message: workErr.Error()}
	}
}

// finalizeCancelLocked ends a still-pending task without ever running it.
// Caller holds m.mu.
func (m *Manager) finalizeCancelLocked(e *entry, reason string) {
	if err := e.task.Cancel(reason, time.Now().UTC()); err != nil {
		return
	}
	close(e.done)
	ev := statusEvent(e.task)
	go m.bridge.Publish(context.Background(), ev)
}

// Cancel requests cooperative cancellation. Queued tasks end immediately;
// running tasks end once their work observes the cancelled context. It
// reports false for unknown or already-terminal tasks, true once the
// request is registered.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || !e.task.RequestCancel() {
		m.mu.Unlock()
		return false
	}
	if e.task.Status == task.StatusPending {
		m.finalizeCancelLocked(e, "cancelled before start")
		m.mu.Unlock()
		m.log.Info("task cancelled while queued", "task_id", id)
		return true
	}
	cancel := e.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.log.Info("task cancellation requested", "task_id", id)
	return true
}

// Status returns a copy of the task.
func (m *Manager) Status(id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %q", domain.ErrNotFound, id)
	}
	return e.task.Clone(), nil
}

// List returns copies of every registered task in submission order.
func (m *Manager) List() []*task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*task.Task, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			out = append(out, e.task.Clone())
		}
	}
	return out
}

// Clear removes a terminal task from the registry. Live tasks cannot be
// cleared.
func (m *Manager) Clear(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: task %q", domain.ErrNotFound, id)
	}
	if !e.task.Status.Terminal() {
		return fmt.Errorf("%w: task %q is still %s", domain.ErrConflict, id, e.task.Status)
	}
	m.removeLocked(id, e)
	return nil
}

// ClearTerminal removes every terminal task and reports how many were
// cleared.
func (m *Manager) ClearTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range append([]string(nil), m.order...) {
		e, ok := m.entries[id]
		if ok && e.task.Status.Terminal() {
			m.removeLocked(id, e)
			n++
		}
	}
	return n
}

func (m *Manager) removeLocked(id string, e *entry) {
	delete(m.entries, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if e.task.GroupID != "" {
		if g, ok := m.groups[e.task.GroupID]; ok {
			g.Remove(id)
		}
	}
}

// Await blocks until the task reaches a terminal state or ctx is done,
// then returns a copy of the task.
func (m *Manager) Await(ctx context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: task %q", domain.ErrNotFound, id)
	}
	done := e.done
	m.mu.Unlock()

	select {
	case <-done:
		return m.Status(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateGroup registers an empty task group and returns its id.
func (m *Manager) CreateGroup(name string) (string, error) {
	g := task.NewGroup(uuid.NewString(), name)
	if err := g.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("%w: manager is shut down", domain.ErrConflict)
	}
	m.groups[g.ID] = g
	return g.ID, nil
}

// Group returns the group, its member snapshots in insertion order and the
// folded aggregate status.
func (m *Manager) Group(id string) (*GroupStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupStatusLocked(id)
}

func (m *Manager) groupStatusLocked(id string) (*GroupStatus, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", domain.ErrNotFound, id)
	}
	gs := &GroupStatus{Group: g.Clone()}
	statuses := make([]task.Status, 0, len(g.TaskIDs))
	for _, tid := range g.TaskIDs {
		e, ok := m.entries[tid]
		if !ok {
			continue
		}
		gs.Tasks = append(gs.Tasks, e.task.Clone())
		statuses = append(statuses, e.task.Status)
	}
	gs.Aggregate = task.AggregateStatus(statuses)
	gs.Complete = len(statuses) > 0 && gs.Aggregate.Terminal()
	return gs, nil
}

// CancelGroup requests cancellation of every non-terminal member, in member
// order. Terminal members are untouched, which makes repeated calls
// harmless. It reports how many members newly received the request.
func (m *Manager) CancelGroup(id string) (int, error) {
	m.mu.Lock()
	g, ok := m.groups[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: group %q", domain.ErrNotFound, id)
	}
	ids := append([]string(nil), g.TaskIDs...)
	m.mu.Unlock()

	n := 0
	for _, tid := range ids {
		if m.Cancel(tid) {
			n++
		}
	}
	return n, nil
}

// AwaitGroup polls the group until every member is terminal or ctx is done.
// A zero interval polls every 50ms.
func (m *Manager) AwaitGroup(ctx context.Context, id string, interval time.Duration) (*GroupStatus, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		gs, err := m.Group(id)
		if err != nil {
			return nil, err
		}
		if gs.Complete {
			return gs, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return gs, ctx.Err()
		}
	}
}

// Stats summarizes the registry.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ManagerStats{
		QueueDepth: len(m.pending),
		Capacity:   m.pool.Limit(),
	}
	for _, e := range m.entries {
		switch e.task.Status {
		case task.StatusPending:
			st.Pending++
		case task.StatusRunning:
			st.Running++
		case task.StatusCompleted:
			st.Completed++
		case task.StatusFailed:
			st.Failed++
		case task.StatusCancelled:
			st.Cancelled++
		case task.StatusTimedOut:
			st.TimedOut++
		}
	}
	return st
}

// Shutdown stops intake, cancels all live tasks and waits for executors to
// finish within ctx. Queued tasks are cancelled without running; running
// tasks get their usual cooperative cancellation.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	var cancels []context.CancelFunc
	for _, e := range m.entries {
		switch e.task.Status {
		case task.StatusPending:
			e.task.RequestCancel()
			m.finalizeCancelLocked(e, "manager shutting down")
		case task.StatusRunning:
			e.task.RequestCancel()
			if e.cancel != nil {
				cancels = append(cancels, e.cancel)
			}
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.nudge()
	m.rootCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("task manager stopped")
		return nil
	case <-ctx.Done():
		m.log.Warn("task manager shutdown timed out with work still running")
		return ctx.Err()
	}
}

func statusEvent(t *task.Task) task.Event {
	return task.Event{
		TaskID:   t.ID,
		Kind:     task.EventStatus,
		Status:   t.Status,
		Progress: t.Progress,
		Message:  t.Message,
		At:       time.Now().UTC(),
	}
}

func progressEvent(t *task.Task) task.Event {
	return task.Event{
		TaskID:   t.ID,
		Kind:     task.EventProgress,
		Status:   t.Status,
		Progress: t.Progress,
		Message:  t.Message,
		At:       time.Now().UTC(),
	}
}
