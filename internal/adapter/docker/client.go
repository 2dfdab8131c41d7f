// Package docker drives container builds and runs through the docker CLI.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/container"
	"github.com/Strob0t/TaskForge/internal/resilience"
	"github.com/Strob0t/TaskForge/internal/runner"
)

// Client invokes the docker CLI. All calls go through a circuit breaker so a
// down daemon fails fast instead of stacking up blocked builds.
type Client struct {
	log     *slog.Logger
	runner  *runner.Runner
	breaker *resilience.Breaker
	cfg     config.Docker
}

var _ container.Engine = (*Client)(nil)

// New creates a docker client.
func New(log *slog.Logger, r *runner.Runner, cfg config.Docker, brk config.Breaker) *Client {
	return &Client{
		log:     log,
		runner:  r,
		breaker: resilience.NewBreaker(brk.MaxFailures, brk.Timeout),
		cfg:     cfg,
	}
}

// BreakerState reports the daemon circuit state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.invoke(ctx, c.cfg.RunTimeout, nil, "version", "--format", "{{.Server.Version}}")
	return err
}

// Build builds an image from spec.Dir, streaming output to spec.OnLine.
// Build failures come back as classified task errors, not breaker failures:
// a broken Dockerfile is the submission's fault, not the daemon's.
func (c *Client) Build(ctx context.Context, spec container.BuildSpec) (*runner.Result, error) {
	args := []string{"build", "--progress=plain", "-t", spec.Tag}
	if spec.Dockerfile != "" {
		args = append(args, "-f", spec.Dockerfile)
	}
	args = append(args, spec.Dir)
	return c.invoke(ctx, c.cfg.BuildTimeout, spec.OnLine, args...)
}

// Run starts a disposable container and waits for it to exit, streaming
// output to spec.OnLine.
func (c *Client) Run(ctx context.Context, spec container.RunSpec) (*runner.Result, error) {
	network := spec.Network
	if network == "" {
		network = "none"
	}

	args := []string{
		"run", "--rm",
		fmt.Sprintf("--network=%s", network),
		"--security-opt=no-new-privileges",
		"--cap-drop=ALL",
	}
	if spec.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--memory=%dm", spec.MemoryMB))
	}
	if spec.CPUs > 0 {
		args = append(args, fmt.Sprintf("--cpus=%d", spec.CPUs))
	}
	if spec.WorkDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace", spec.WorkDir), "-w", "/workspace")
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)

	return c.invoke(ctx, c.cfg.RunTimeout, spec.OnLine, args...)
}

// RemoveImage deletes a built image. Missing images are not an error.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	res, err := c.invoke(ctx, c.cfg.RunTimeout, nil, "rmi", "-f", tag)
	if err != nil {
		if res != nil && strings.Contains(res.Stderr, "No such image") {
			return nil
		}
		return err
	}
	return nil
}

// invoke runs one docker command. The breaker only counts failures to launch
// the CLI at all; a command that runs and exits non-zero is classified for the
// caller instead.
func (c *Client) invoke(ctx context.Context, timeout time.Duration, onLine runner.LineFunc, args ...string) (*runner.Result, error) {
	var res *runner.Result
	err := c.breaker.Do(ctx, func() error {
		var err error
		res, err = c.runner.Run(ctx, runner.Spec{
			Command: c.cfg.Binary,
			Args:    args,
			Timeout: timeout,
			OnLine:  onLine,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("docker %s: %w", args[0], err)
	}
	if res.TimedOut {
		return res, &task.Error{
			Kind:    task.ErrKindTimeout,
			Message: fmt.Sprintf("docker %s exceeded %s", args[0], timeout),
			Stderr:  res.Stderr,
		}
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		c.log.Debug("docker command failed", "args", strings.Join(args, " "), "stderr", res.Stderr)
		return res, &task.Error{
			Kind:    task.ErrKindSubprocess,
			Message: fmt.Sprintf("docker %s failed", args[0]),
			Stderr:  res.Stderr,
		}
	}
	return res, nil
}
