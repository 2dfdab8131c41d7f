// Package runner executes external commands with line-by-line output
// streaming, timeout enforcement and graceful termination. It is the only
// place in the codebase that spawns subprocesses.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
)

// DefaultGrace is the termination grace period used when neither the spec
// nor the runner configures one.
const DefaultGrace = 5 * time.Second

const (
	// maxLineBytes caps a single scanned output line.
	maxLineBytes = 1024 * 1024
	// tailLimit caps the retained tail of each output stream.
	tailLimit = 64 * 1024
)

// Stream identifies which pipe an output line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineFunc receives one output line as soon as it is read. It is called from
// the runner's reader goroutines and must not block for long.
type LineFunc func(stream Stream, line string)

// Spec describes one command invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	// Env entries are appended to the parent environment.
	Env []string
	// Timeout bounds the command's total runtime. Zero means no limit.
	Timeout time.Duration
	// Grace is the window between SIGTERM and SIGKILL once the timeout
	// fires. Zero falls back to the runner's configured grace.
	Grace  time.Duration
	OnLine LineFunc
}

// Result reports how a command ended. ExitCode is nil when the process was
// signal-killed or timed out before producing an exit status.
type Result struct {
	ExitCode *int
	TimedOut bool
	Duration time.Duration
	// Stdout and Stderr hold bounded tails of the streams, kept for error
	// reporting after the full output has already been streamed away.
	Stdout string
	Stderr string
}

// Runner spawns subprocesses. The zero value is not usable; construct with
// New.
type Runner struct {
	log   *slog.Logger
	grace time.Duration
}

// New returns a runner. grace is the default SIGTERM-to-SIGKILL window
// applied when a spec does not set its own.
func New(log *slog.Logger, grace time.Duration) *Runner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Runner{log: log, grace: grace}
}

// Run executes the command and blocks until it exits and both output pipes
// are drained. Timeouts and non-zero exits are reported through the Result,
// not the error: the error is reserved for invalid specs and failures to
// start or wire the process. Cancelling ctx terminates the process with the
// same SIGTERM-then-SIGKILL escalation as a timeout; the caller detects that
// case through ctx.Err.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("%w: command is required", domain.ErrValidation)
	}
	grace := spec.Grace
	if grace <= 0 {
		grace = r.grace
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Ask politely first. WaitDelay hard-kills the process and closes the
	// pipes if it ignores the signal past the grace window.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	r.log.Debug("subprocess started",
		"command", spec.Command,
		"pid", cmd.Process.Pid,
		"timeout", spec.Timeout)

	outTail := &tail{limit: tailLimit}
	errTail := &tail{limit: tailLimit}
	var wg sync.WaitGroup
	wg.Add(2)
	go r.stream(StreamStdout, stdout, outTail, spec.OnLine, &wg)
	go r.stream(StreamStderr, stderr, errTail, spec.OnLine, &wg)
	wg.Wait()

	waitErr := cmd.Wait()
	res := &Result{
		Duration: time.Since(start),
		Stdout:   outTail.String(),
		Stderr:   errTail.String(),
	}

	timedOut := spec.Timeout > 0 &&
		errors.Is(runCtx.Err(), context.DeadlineExceeded) &&
		ctx.Err() == nil
	if timedOut {
		res.TimedOut = true
		r.log.Debug("subprocess timed out",
			"command", spec.Command,
			"duration", res.Duration)
		return res, nil
	}

	if waitErr == nil {
		code := 0
		res.ExitCode = &code
		r.log.Debug("subprocess finished",
			"command", spec.Command,
			"exit_code", 0,
			"duration", res.Duration)
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
		r.log.Debug("subprocess finished",
			"command", spec.Command,
			"exit_code", exitErr.ExitCode(),
			"duration", res.Duration)
		return res, nil
	}
	if ctx.Err() != nil {
		// Killed because the caller cancelled; not a plumbing failure.
		return res, nil
	}
	return res, fmt.Errorf("wait %s: %w", spec.Command, waitErr)
}

func (r *Runner) stream(s Stream, rd io.Reader, tl *tail, onLine LineFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		tl.add(line)
		if onLine != nil {
			onLine(s, line)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, fs.ErrClosed) {
		r.log.Debug("subprocess stream closed", "stream", string(s), "error", err)
	}
}

// tail retains the most recent lines of a stream within a byte budget.
// Each tail is written by exactly one reader goroutine.
type tail struct {
	limit int
	lines []string
	size  int
}

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.limit && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}
