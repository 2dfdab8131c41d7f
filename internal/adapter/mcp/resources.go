package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"taskforge://tasks",
			"Task List",
			mcplib.WithResourceDescription("Every registered task in submission order"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTasksResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"taskforge://stats",
			"Manager Statistics",
			mcplib.WithResourceDescription("Task counts by status, queue depth and execution ceiling"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)
}

func (s *Server) handleTasksResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Tasks == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"task manager not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(s.deps.Tasks.List())
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleStatsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Tasks == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"task manager not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(s.deps.Tasks.Stats())
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
