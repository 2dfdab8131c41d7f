// Package gitcli runs git operations through the shared subprocess runner.
// All invocations go through one Pool so simultaneous fetches cannot exhaust
// the machine.
package gitcli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/pool"
	"github.com/Strob0t/TaskForge/internal/port/vcs"
	"github.com/Strob0t/TaskForge/internal/runner"
)

// Client invokes the git CLI.
type Client struct {
	log     *slog.Logger
	runner  *runner.Runner
	pool    *pool.Pool
	binary  string
	timeout time.Duration
}

var _ vcs.Client = (*Client)(nil)

// New creates a git client. The pool limits concurrent invocations to
// cfg.MaxConcurrent.
func New(log *slog.Logger, r *runner.Runner, cfg config.Git) *Client {
	return &Client{
		log:     log,
		runner:  r,
		pool:    pool.New(cfg.MaxConcurrent),
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
	}
}

// Clone clones url into dir. Progress lines (git writes them to stderr)
// stream to onLine as they arrive.
func (c *Client) Clone(ctx context.Context, url, dir string, onLine runner.LineFunc) error {
	_, err := c.run(ctx, "", onLine, "clone", "--progress", url, dir)
	return err
}

// Checkout switches dir to the given ref.
func (c *Client) Checkout(ctx context.Context, dir, ref string) error {
	_, err := c.run(ctx, dir, nil, "checkout", ref)
	return err
}

// Fetch updates all remotes for dir.
func (c *Client) Fetch(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, nil, "fetch", "--all", "--prune")
	return err
}

// Pull fast-forwards the current branch in dir.
func (c *Client) Pull(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, nil, "pull", "--ff-only")
	return err
}

// HeadCommit reports the commit hash dir currently points at.
func (c *Client) HeadCommit(ctx context.Context, dir string) (string, error) {
	res, err := c.run(ctx, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// StatusPorcelain reports the porcelain status output for dir, one changed
// path per line.
func (c *Client) StatusPorcelain(ctx context.Context, dir string) ([]string, error) {
	res, err := c.run(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// run executes one git command under the pool, converting failures into
// classified task errors so callers can surface them unchanged.
func (c *Client) run(ctx context.Context, dir string, onLine runner.LineFunc, args ...string) (*runner.Result, error) {
	var res *runner.Result
	err := c.pool.Run(ctx, func() error {
		var err error
		res, err = c.runner.Run(ctx, runner.Spec{
			Command: c.binary,
			Args:    args,
			Dir:     dir,
			Timeout: c.timeout,
			OnLine:  onLine,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	if res.TimedOut {
		return res, &task.Error{
			Kind:    task.ErrKindTimeout,
			Message: fmt.Sprintf("git %s exceeded %s", args[0], c.timeout),
			Stderr:  res.Stderr,
		}
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		c.log.Debug("git command failed", "args", strings.Join(args, " "), "stderr", res.Stderr)
		return res, &task.Error{
			Kind:    task.ErrKindSubprocess,
			Message: fmt.Sprintf("git %s failed", args[0]),
			Stderr:  res.Stderr,
		}
	}
	return res, nil
}
