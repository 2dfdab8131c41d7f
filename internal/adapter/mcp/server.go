// Package mcp exposes the task manager over the Model Context Protocol so
// automation clients can submit and monitor work through the same API the
// HTTP layer uses.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/service"
)

// TaskAdmin is the slice of the task manager the MCP tools need.
type TaskAdmin interface {
	Status(id string) (*task.Task, error)
	List() []*task.Task
	Cancel(id string) bool
	Stats() service.ManagerStats
}

// ValidationStarter starts and inspects validation sessions.
type ValidationStarter interface {
	Start(ctx context.Context, req service.ValidationRequest) (*service.Session, error)
	Get(id string) (*service.Session, error)
}

// ServerConfig holds the MCP server configuration.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey guards the HTTP transport. Empty disables authentication.
	APIKey string
}

// ServerDeps holds the service dependencies the tools call into. Nil fields
// make the corresponding tools report a configuration error instead of
// panicking.
type ServerDeps struct {
	Tasks       TaskAdmin
	Validations ValidationStarter
}

// Server wraps an MCP server with TaskForge's tools and resources, served
// over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves the MCP endpoint in the background. It returns once the
// listener goroutine is launched.
func (s *Server) Start() error {
	handler := AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the MCP endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
