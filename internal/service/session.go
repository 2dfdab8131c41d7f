package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/container"
	"github.com/Strob0t/TaskForge/internal/port/vcs"
)

// Validation pipeline phases, in execution order.
const (
	PhasePrepare = "prepare"
	PhaseBuild   = "build"
	PhaseTest    = "test"

	// PipelinePhases is how many phases a full validation runs through.
	PipelinePhases = 3
)

// PhaseRecord captures one pipeline phase and its timing.
type PhaseRecord struct {
	Phase     string        `json:"phase"`
	TaskID    string        `json:"task_id"`
	Status    task.Status   `json:"status"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Session is one validation pipeline: stage the submission, build its image,
// run its tests. Each phase is a task in the session's group.
type Session struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	GroupID   string        `json:"group_id"`
	Status    task.Status   `json:"status"`
	Phases    []PhaseRecord `json:"phases"`
	Image     string        `json:"image,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// ValidationRequest describes a submission to validate. Exactly one of
// RepoURL, ArchivePath or SourceDir selects where the source comes from.
type ValidationRequest struct {
	Name        string   `json:"name"`
	RepoURL     string   `json:"repo_url,omitempty"`
	Ref         string   `json:"ref,omitempty"`
	ArchivePath string   `json:"archive_path,omitempty"`
	SourceDir   string   `json:"source_dir,omitempty"`
	Dockerfile  string   `json:"dockerfile,omitempty"`
	TestCmd     []string `json:"test_cmd,omitempty"`
	Env         []string `json:"env,omitempty"`
}

func (r ValidationRequest) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if len(r.Name) > 120 {
		return fmt.Errorf("%w: name exceeds 120 characters", domain.ErrValidation)
	}
	sources := 0
	for _, s := range []string{r.RepoURL, r.ArchivePath, r.SourceDir} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("%w: exactly one of repo_url, archive_path or source_dir is required", domain.ErrValidation)
	}
	return nil
}

// SessionService runs validation pipelines on top of the task manager. A
// supervisor goroutine per session submits the next phase only once the
// previous one completed, so a failed build never wastes a test run.
type SessionService struct {
	log    *slog.Logger
	mgr    *Manager
	git    vcs.Client
	eng    container.Engine
	bridge *Bridge
	ws     config.Workspace

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionService creates a SessionService.
func NewSessionService(log *slog.Logger, mgr *Manager, git vcs.Client, eng container.Engine, bridge *Bridge, ws config.Workspace) *SessionService {
	return &SessionService{
		log:      log,
		mgr:      mgr,
		git:      git,
		eng:      eng,
		bridge:   bridge,
		ws:       ws,
		sessions: make(map[string]*Session),
	}
}

// Start begins a validation pipeline and returns as soon as the prepare
// phase is queued. Progress flows through the session's group.
func (s *SessionService) Start(ctx context.Context, req ValidationRequest) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	groupID, err := s.mgr.CreateGroup("validation: " + req.Name)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(s.ws.Root, id)
	var prep Work
	switch {
	case req.RepoURL != "":
		prep = CloneWork(s.git, s.bridge, req.RepoURL, req.Ref, workDir)
	case req.ArchivePath != "":
		prep = ExtractWork(req.ArchivePath, workDir)
	default:
		prep = StageDirWork(req.SourceDir)
	}

	prepID, err := s.mgr.Submit(SubmitRequest{
		Name:    req.Name + " [prepare]",
		Work:    prep,
		GroupID: groupID,
	})
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Name:      req.Name,
		GroupID:   groupID,
		Status:    task.StatusPending,
		CreatedAt: time.Now().UTC(),
		Phases: []PhaseRecord{
			{Phase: PhasePrepare, TaskID: prepID, Status: task.StatusPending},
		},
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	go s.supervise(id, req)

	s.log.Info("validation started", "session_id", id, "name", req.Name, "group_id", groupID)
	return s.snapshot(sess), nil
}

// Get returns a session with live phase statuses.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %q", domain.ErrNotFound, id)
	}
	return s.snapshot(sess), nil
}

// List returns all sessions, oldest first.
func (s *SessionService) List() []*Session {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	out := make([]*Session, 0, len(all))
	for _, sess := range all {
		out = append(out, s.snapshot(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cancel requests cancellation of every non-terminal phase. The supervisor
// records the terminal state once the phases wind down.
func (s *SessionService) Cancel(id string) (int, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: session %q", domain.ErrNotFound, id)
	}
	return s.mgr.CancelGroup(sess.GroupID)
}

// supervise chains the pipeline phases. It owns all writes to the session
// after Start.
func (s *SessionService) supervise(id string, req ValidationRequest) {
	ctx := context.Background()

	s.setStatus(id, task.StatusRunning)

	prep, ok := s.finishPhase(ctx, id, 0)
	if !ok {
		return
	}
	fr, ok := prep.Result.(*FetchResult)
	if !ok {
		s.log.Error("prepare phase returned unexpected result", "session_id", id)
		s.setStatus(id, task.StatusFailed)
		return
	}

	tag := fmt.Sprintf("taskforge-%s", shortID(id))
	buildID, err := s.mgr.Submit(SubmitRequest{
		Name:    req.Name + " [build]",
		Work:    BuildImageWork(s.eng, s.bridge, fr.Dir, req.Dockerfile, tag),
		GroupID: s.groupOf(id),
	})
	if err != nil {
		s.log.Error("build phase submit failed", "session_id", id, "error", err)
		s.setStatus(id, task.StatusFailed)
		return
	}
	s.appendPhase(id, PhaseRecord{Phase: PhaseBuild, TaskID: buildID, Status: task.StatusPending})
	s.setImage(id, tag)
	defer func() {
		if err := s.eng.RemoveImage(context.Background(), tag); err != nil {
			s.log.Warn("image cleanup failed", "session_id", id, "image", tag, "error", err)
		}
	}()

	if _, ok := s.finishPhase(ctx, id, 1); !ok {
		return
	}

	testID, err := s.mgr.Submit(SubmitRequest{
		Name:    req.Name + " [test]",
		Work:    TestRunWork(s.eng, s.bridge, tag, fr.Dir, req.TestCmd, req.Env),
		GroupID: s.groupOf(id),
	})
	if err != nil {
		s.log.Error("test phase submit failed", "session_id", id, "error", err)
		s.setStatus(id, task.StatusFailed)
		return
	}
	s.appendPhase(id, PhaseRecord{Phase: PhaseTest, TaskID: testID, Status: task.StatusPending})

	if _, ok := s.finishPhase(ctx, id, 2); !ok {
		return
	}
	s.setStatus(id, task.StatusCompleted)
	s.log.Info("validation completed", "session_id", id, "name", req.Name)
}

// finishPhase waits for the phase's task, records its timing, and reports
// whether the pipeline should continue. A phase that ends anything but
// completed becomes the session's terminal status.
func (s *SessionService) finishPhase(ctx context.Context, id string, idx int) (*task.Task, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || idx >= len(sess.Phases) {
		s.mu.Unlock()
		return nil, false
	}
	taskID := sess.Phases[idx].TaskID
	s.mu.Unlock()

	t, err := s.mgr.Await(ctx, taskID)
	if err != nil {
		s.log.Error("phase await failed", "session_id", id, "task_id", taskID, "error", err)
		s.setStatus(id, task.StatusFailed)
		return nil, false
	}

	s.mu.Lock()
	rec := &sess.Phases[idx]
	rec.Status = t.Status
	if t.StartedAt != nil {
		rec.StartedAt = *t.StartedAt
	}
	rec.Elapsed = t.Duration(time.Now().UTC())
	s.mu.Unlock()

	if t.Status != task.StatusCompleted {
		s.setStatus(id, t.Status)
		s.log.Info("validation stopped", "session_id", id, "phase", sess.Phases[idx].Phase, "status", t.Status)
		return t, false
	}
	return t, true
}

// snapshot copies a session, refreshing non-terminal phase statuses from the
// manager so readers see live state.
func (s *SessionService) snapshot(sess *Session) *Session {
	s.mu.Lock()
	out := *sess
	out.Phases = append([]PhaseRecord(nil), sess.Phases...)
	s.mu.Unlock()

	for i := range out.Phases {
		if out.Phases[i].Status.Terminal() {
			continue
		}
		if t, err := s.mgr.Status(out.Phases[i].TaskID); err == nil {
			out.Phases[i].Status = t.Status
			if t.StartedAt != nil {
				out.Phases[i].StartedAt = *t.StartedAt
			}
		}
	}
	return &out
}

func (s *SessionService) setStatus(id string, st task.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && !sess.Status.Terminal() {
		sess.Status = st
	}
}

func (s *SessionService) setImage(id, image string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Image = image
	}
}

func (s *SessionService) appendPhase(id string, rec PhaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Phases = append(sess.Phases, rec)
	}
}

func (s *SessionService) groupOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.GroupID
	}
	return ""
}

// shortID returns the first 12 characters of an ID (or the full string if
// shorter).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
