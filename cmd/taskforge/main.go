package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/TaskForge/internal/adapter/docker"
	"github.com/Strob0t/TaskForge/internal/adapter/gitcli"
	tfhttp "github.com/Strob0t/TaskForge/internal/adapter/http"
	tfmcp "github.com/Strob0t/TaskForge/internal/adapter/mcp"
	tfnats "github.com/Strob0t/TaskForge/internal/adapter/nats"
	"github.com/Strob0t/TaskForge/internal/adapter/natskv"
	"github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/ristretto"
	"github.com/Strob0t/TaskForge/internal/adapter/tiered"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/logger"
	"github.com/Strob0t/TaskForge/internal/middleware"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
	"github.com/Strob0t/TaskForge/internal/port/cache"
	"github.com/Strob0t/TaskForge/internal/runner"
	"github.com/Strob0t/TaskForge/internal/service"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "console" {
		if err := runConsole(args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "console:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"max_concurrent", cfg.Tasks.MaxConcurrent,
		"grace_period", cfg.Tasks.GracePeriod)

	ctx := context.Background()

	// --- Telemetry ---

	otelShutdown, err := otel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	// --- Event fan-out ---

	hub := ws.NewHub(log)
	defer hub.Close()
	casters := []broadcast.Broadcaster{hub}

	var relay *tfnats.Relay
	if cfg.NATS.URL != "" {
		relay, err = tfnats.Connect(ctx, log, cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = relay.Close() }()
		casters = append(casters, relay)
	}

	// The depth gauges read through these variables, assigned just below.
	var (
		bridge *service.Bridge
		mgr    *service.Manager
	)
	if cfg.Telemetry.Enabled {
		metrics, err := otel.NewMetrics(
			func() int {
				if bridge == nil {
					return 0
				}
				return bridge.Pending()
			},
			func() int {
				if mgr == nil {
					return 0
				}
				return mgr.Stats().QueueDepth
			},
		)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		casters = append(casters, otel.NewObserver(metrics))
	}

	// --- Orchestration core ---

	bridge = service.NewBridge(log, casters...)
	procRunner := runner.New(log, cfg.Tasks.GracePeriod)
	mgr = service.NewManager(log, bridge, cfg.Tasks.MaxConcurrent)

	git := gitcli.New(log, procRunner, cfg.Git)
	eng := docker.New(log, procRunner, cfg.Docker, cfg.Breaker)
	sessions := service.NewSessionService(log, mgr, git, eng, bridge, cfg.Workspace)
	workspaces := service.NewWorkspaceService(log, mgr, git, cfg.Workspace)

	// --- Idempotency store ---

	local, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	var store cache.Cache = local
	if relay != nil {
		shared, err := natskv.Ensure(ctx, relay.JetStream(), "taskforge-idempotency", cfg.Cache.TTL)
		if err != nil {
			log.Warn("shared idempotency bucket unavailable, using local cache only", "error", err)
		} else {
			store = tiered.New(local, shared, cfg.Cache.TTL)
		}
	}

	// --- HTTP ---

	handlers := &tfhttp.Handlers{
		Manager:    mgr,
		Sessions:   sessions,
		Workspaces: workspaces,
		Runner:     procRunner,
		Bridge:     bridge,
		Docker:     eng,
		Hub:        hub,
		Tasks:      cfg.Tasks,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tfhttp.SecurityHeaders)
	r.Use(tfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	if cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(log, store, cfg.Cache.TTL))

	tfhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- MCP ---

	var mcpSrv *tfmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = tfmcp.NewServer(tfmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, tfmcp.ServerDeps{
			Tasks:       mgr,
			Validations: sessions,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}

	// --- Serve until signalled ---

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			log.Warn("mcp shutdown", "error", err)
		}
	}

	// Give live tasks one grace period to observe cancellation before the
	// process exits; their subprocesses already get SIGTERM-then-SIGKILL.
	mgrCtx, mgrCancel := context.WithTimeout(context.Background(), cfg.Tasks.GracePeriod+2*time.Second)
	defer mgrCancel()
	return mgr.Shutdown(mgrCtx)
}
