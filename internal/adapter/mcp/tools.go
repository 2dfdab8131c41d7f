package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskForge/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitValidationTool(),
		s.taskStatusTool(),
		s.cancelTaskTool(),
		s.listTasksTool(),
	)
}

func (s *Server) submitValidationTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_validation",
		mcplib.WithDescription("Start a build-and-test validation pipeline for a submission; returns the session immediately"),
		mcplib.WithString("name",
			mcplib.Required(),
			mcplib.Description("Human-readable name for the validation"),
		),
		mcplib.WithString("repo_url",
			mcplib.Description("Git repository URL to validate (exactly one source is required)"),
		),
		mcplib.WithString("ref",
			mcplib.Description("Git ref to check out, defaults to the remote HEAD"),
		),
		mcplib.WithString("archive_path",
			mcplib.Description("Path to a tar.gz archive to validate"),
		),
		mcplib.WithString("source_dir",
			mcplib.Description("Path to an already-staged source directory"),
		),
		mcplib.WithString("dockerfile",
			mcplib.Description("Dockerfile path relative to the source root"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleSubmitValidation,
	}
}

func (s *Server) taskStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_status",
		mcplib.WithDescription("Get the current snapshot of a task by ID"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to check"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleTaskStatus,
	}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Request cooperative cancellation of a task"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to cancel"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleCancelTask,
	}
}

func (s *Server) listTasksTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_tasks",
		mcplib.WithDescription("List every registered task in submission order"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListTasks,
	}
}

func (s *Server) handleSubmitValidation(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Validations == nil {
		return mcplib.NewToolResultError("validation service not configured"), nil
	}
	args := req.GetArguments()
	name, _ := args["name"].(string)
	if name == "" {
		return mcplib.NewToolResultError("name is required"), nil
	}
	vreq := service.ValidationRequest{Name: name}
	vreq.RepoURL, _ = args["repo_url"].(string)
	vreq.Ref, _ = args["ref"].(string)
	vreq.ArchivePath, _ = args["archive_path"].(string)
	vreq.SourceDir, _ = args["source_dir"].(string)
	vreq.Dockerfile, _ = args["dockerfile"].(string)

	sess, err := s.deps.Validations.Start(ctx, vreq)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to start validation", err), nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal session", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleTaskStatus(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task manager not configured"), nil
	}
	args := req.GetArguments()
	taskID, ok := args["task_id"].(string)
	if !ok || taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	t, err := s.deps.Tasks.Status(taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get task %s", taskID), err,
		), nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleCancelTask(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task manager not configured"), nil
	}
	args := req.GetArguments()
	taskID, ok := args["task_id"].(string)
	if !ok || taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	cancelled := s.deps.Tasks.Cancel(taskID)
	return toolResultJSON(fmt.Sprintf(`{"task_id":%q,"cancelled":%t}`, taskID, cancelled)), nil
}

func (s *Server) handleListTasks(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task manager not configured"), nil
	}
	data, err := json.Marshal(s.deps.Tasks.List())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal tasks", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// toolResultJSON wraps a JSON string as a successful tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
