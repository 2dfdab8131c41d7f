// Package vcs defines the port interface for fetching submission sources
// from version control.
package vcs

import (
	"context"

	"github.com/Strob0t/TaskForge/internal/runner"
)

// Client is the port interface for a version control CLI.
type Client interface {
	// Clone clones url into dir, streaming progress lines to onLine.
	Clone(ctx context.Context, url, dir string, onLine runner.LineFunc) error

	// Checkout switches dir to the given ref.
	Checkout(ctx context.Context, dir, ref string) error

	// Fetch updates all remotes for dir.
	Fetch(ctx context.Context, dir string) error

	// Pull fast-forwards the current branch in dir.
	Pull(ctx context.Context, dir string) error

	// HeadCommit reports the commit hash dir currently points at.
	HeadCommit(ctx context.Context, dir string) (string, error)
}
