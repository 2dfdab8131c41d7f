package http

import (
	"net/http"
	"time"

	"github.com/Strob0t/TaskForge/internal/adapter/docker"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/runner"
	"github.com/Strob0t/TaskForge/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Manager    *service.Manager
	Sessions   *service.SessionService
	Workspaces *service.WorkspaceService
	Runner     *runner.Runner
	Bridge     *service.Bridge
	Docker     *docker.Client // optional, reported by health
	Hub        *ws.Hub        // optional, reported by health
	Tasks      config.Tasks
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

type submitTaskRequest struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	// TimeoutSeconds overrides the configured default. Zero keeps it.
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	GroupID        string `json:"group_id,omitempty"`
}

// SubmitTask handles POST /api/v1/tasks
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitTaskRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") || !requireField(w, req.Command, "command") {
		return
	}
	if req.TimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "timeout_seconds must not be negative")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = h.Tasks.DefaultTimeout
	}
	spec := runner.Spec{
		Command: req.Command,
		Args:    req.Args,
		Dir:     req.Dir,
		Env:     req.Env,
		Timeout: timeout,
	}

	id, err := h.Manager.Submit(service.SubmitRequest{
		Name:    req.Name,
		Work:    service.CommandWork(h.Runner, h.Bridge, spec),
		GroupID: req.GroupID,
	})
	if err != nil {
		writeDomainError(w, err, "group not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// ListTasks handles GET /api/v1/tasks. An optional ?status= query narrows
// the listing to one lifecycle state.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.Manager.List()

	if want := r.URL.Query().Get("status"); want != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	t, err := h.Manager.Status(id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel. Cancellation of an
// unknown or already-terminal task reports false rather than an error.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": h.Manager.Cancel(id)})
}

// ClearTask handles DELETE /api/v1/tasks/{id}. Only terminal tasks can be
// cleared; clearing a live one is a conflict.
func (h *Handlers) ClearTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Manager.Clear(id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearTerminalTasks handles DELETE /api/v1/tasks
func (h *Handlers) ClearTerminalTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": h.Manager.ClearTerminal()})
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// CreateGroup handles POST /api/v1/groups
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Name string `json:"name"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}
	id, err := h.Manager.CreateGroup(req.Name)
	if err != nil {
		writeDomainError(w, err, "group creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"group_id": id})
}

// GetGroup handles GET /api/v1/groups/{id}
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	gs, err := h.Manager.Group(id)
	if err != nil {
		writeDomainError(w, err, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// CancelGroup handles POST /api/v1/groups/{id}/cancel
func (h *Handlers) CancelGroup(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	n, err := h.Manager.CancelGroup(id)
	if err != nil {
		writeDomainError(w, err, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

// ---------------------------------------------------------------------------
// Validations
// ---------------------------------------------------------------------------

// StartValidation handles POST /api/v1/validations
func (h *Handlers) StartValidation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.ValidationRequest](w, r)
	if !ok {
		return
	}
	sess, err := h.Sessions.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "validation rejected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sess.ID})
}

// ListValidations handles GET /api/v1/validations
func (h *Handlers) ListValidations(w http.ResponseWriter, _ *http.Request) {
	sessions := h.Sessions.List()
	if sessions == nil {
		sessions = []*service.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetValidation handles GET /api/v1/validations/{id}
func (h *Handlers) GetValidation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	sess, err := h.Sessions.Get(id)
	if err != nil {
		writeDomainError(w, err, "validation not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CancelValidation handles POST /api/v1/validations/{id}/cancel
func (h *Handlers) CancelValidation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	n, err := h.Sessions.Cancel(id)
	if err != nil {
		writeDomainError(w, err, "validation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

// ---------------------------------------------------------------------------
// Unified status
// ---------------------------------------------------------------------------

type statusTiming struct {
	CreatedAt time.Time             `json:"created_at"`
	StartedAt *time.Time            `json:"started_at,omitempty"`
	EndedAt   *time.Time            `json:"ended_at,omitempty"`
	Elapsed   time.Duration         `json:"elapsed_ns"`
	Phases    []service.PhaseRecord `json:"phases,omitempty"`
}

type statusResponse struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Status   task.Status  `json:"status"`
	Progress int          `json:"progress"`
	Message  string       `json:"message,omitempty"`
	Timing   statusTiming `json:"timing"`
	Result   any          `json:"result,omitempty"`
	Error    *task.Error  `json:"error,omitempty"`
}

// Status handles GET /api/v1/status/{id}. The id may name a validation
// session or a bare task; sessions win when both exist.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if sess, err := h.Sessions.Get(id); err == nil {
		writeJSON(w, http.StatusOK, h.sessionStatus(sess))
		return
	}

	t, err := h.Manager.Status(id)
	if err != nil {
		writeDomainError(w, err, "unknown id")
		return
	}
	writeJSON(w, http.StatusOK, taskStatus(t))
}

func taskStatus(t *task.Task) statusResponse {
	resp := statusResponse{
		ID:       t.ID,
		Kind:     "task",
		Status:   t.Status,
		Progress: t.Progress,
		Message:  t.Message,
		Timing: statusTiming{
			CreatedAt: t.CreatedAt,
			StartedAt: t.StartedAt,
			EndedAt:   t.EndedAt,
			Elapsed:   t.Duration(time.Now().UTC()),
		},
	}
	if t.Status.Terminal() {
		resp.Result = t.Result
		resp.Error = t.Err
	}
	return resp
}

// sessionStatus folds per-phase task state into one progress line. Each
// phase owns an equal slice of the bar; the live phase contributes its own
// task progress within that slice.
func (h *Handlers) sessionStatus(sess *service.Session) statusResponse {
	resp := statusResponse{
		ID:     sess.ID,
		Kind:   "validation",
		Status: sess.Status,
		Timing: statusTiming{
			CreatedAt: sess.CreatedAt,
			Phases:    sess.Phases,
		},
	}

	share := 100 / service.PipelinePhases
	var lastTask *task.Task
	for i, rec := range sess.Phases {
		t, err := h.Manager.Status(rec.TaskID)
		if err != nil {
			continue
		}
		lastTask = t
		resp.Timing.Elapsed += rec.Elapsed
		if i == 0 && t.StartedAt != nil {
			resp.Timing.StartedAt = t.StartedAt
		}

		switch {
		case t.Status == task.StatusCompleted:
			resp.Progress = (i + 1) * share
		case t.Status.Terminal():
			resp.Error = t.Err
		default:
			resp.Progress = i*share + t.Progress*share/100
			resp.Message = rec.Phase + ": " + t.Message
		}
	}

	if sess.Status.Terminal() && lastTask != nil {
		resp.Timing.EndedAt = lastTask.EndedAt
		if sess.Status == task.StatusCompleted {
			resp.Progress = 100
			resp.Result = lastTask.Result
		}
	}
	return resp
}

// ---------------------------------------------------------------------------
// Workspaces
// ---------------------------------------------------------------------------

// CheckoutWorkspace handles POST /api/v1/workspaces/{name}/checkout
func (h *Handlers) CheckoutWorkspace(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	req, ok := readJSON[struct {
		Ref string `json:"ref"`
	}](w, r)
	if !ok {
		return
	}
	id, err := h.Workspaces.Checkout(name, req.Ref)
	if err != nil {
		writeDomainError(w, err, "checkout rejected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// ArchiveWorkspace handles POST /api/v1/workspaces/{name}/archive
func (h *Handlers) ArchiveWorkspace(w http.ResponseWriter, r *http.Request) {
	id, err := h.Workspaces.Archive(urlParam(r, "name"))
	if err != nil {
		writeDomainError(w, err, "archive rejected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// CleanWorkspace handles POST /api/v1/workspaces/{name}/clean
func (h *Handlers) CleanWorkspace(w http.ResponseWriter, r *http.Request) {
	id, err := h.Workspaces.Clean(urlParam(r, "name"))
	if err != nil {
		writeDomainError(w, err, "clean rejected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status    string               `json:"status"`
	Tasks     service.ManagerStats `json:"tasks"`
	Docker    string               `json:"docker_breaker,omitempty"`
	WSClients int                  `json:"ws_clients"`
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Tasks:  h.Manager.Stats(),
	}
	if h.Docker != nil {
		resp.Docker = h.Docker.BreakerState()
	}
	if h.Hub != nil {
		resp.WSClients = h.Hub.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
