package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/TaskForge/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router. The hub may
// be nil when the WebSocket surface is disabled.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/healthz", h.Health)

	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.SubmitTask)
		r.Get("/tasks", h.ListTasks)
		r.Delete("/tasks", h.ClearTerminalTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Delete("/tasks/{id}", h.ClearTask)

		// Unified status polling (session or task id)
		r.Get("/status/{id}", h.Status)

		// Groups
		r.Post("/groups", h.CreateGroup)
		r.Get("/groups/{id}", h.GetGroup)
		r.Post("/groups/{id}/cancel", h.CancelGroup)

		// Validations
		r.Post("/validations", h.StartValidation)
		r.Get("/validations", h.ListValidations)
		r.Get("/validations/{id}", h.GetValidation)
		r.Post("/validations/{id}/cancel", h.CancelValidation)

		// Workspace maintenance
		r.Post("/workspaces/{name}/checkout", h.CheckoutWorkspace)
		r.Post("/workspaces/{name}/archive", h.ArchiveWorkspace)
		r.Post("/workspaces/{name}/clean", h.CleanWorkspace)
	})
}
