// Package container defines the port interface for building and running
// submission containers.
package container

import (
	"context"

	"github.com/Strob0t/TaskForge/internal/runner"
)

// BuildSpec describes one image build.
type BuildSpec struct {
	// Dir is the build context directory.
	Dir string
	// Dockerfile is relative to Dir. Empty means the default.
	Dockerfile string
	// Tag names the resulting image.
	Tag string
	// OnLine receives build output as it streams.
	OnLine runner.LineFunc
}

// RunSpec describes one container run.
type RunSpec struct {
	Image string
	// Cmd overrides the image entrypoint arguments.
	Cmd []string
	// WorkDir is bind-mounted at /workspace when set.
	WorkDir string
	Env     []string
	// MemoryMB and CPUs cap container resources. Zero leaves the engine default.
	MemoryMB int
	CPUs     int
	// Network selects the container network mode. Empty means "none".
	Network string
	OnLine  runner.LineFunc
}

// Engine is the port interface for a container engine.
type Engine interface {
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// Build builds an image, streaming output through spec.OnLine. Build
	// failures surface as classified task errors alongside the result.
	Build(ctx context.Context, spec BuildSpec) (*runner.Result, error)

	// Run starts a disposable container and waits for it to exit.
	Run(ctx context.Context, spec RunSpec) (*runner.Result, error)

	// RemoveImage deletes a built image. Missing images are not an error.
	RemoveImage(ctx context.Context, tag string) error
}
