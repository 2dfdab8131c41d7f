package service

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/logger"
	"github.com/Strob0t/TaskForge/internal/port/container"
	"github.com/Strob0t/TaskForge/internal/port/vcs"
	"github.com/Strob0t/TaskForge/internal/runner"
)

// Work factories. Each returns a Work closure the manager can run, wired to
// stream subprocess output through the bridge and to translate tool output
// into progress reports.

// CommandResult is the terminal result of a plain subprocess task.
type CommandResult struct {
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
}

// FetchResult is the terminal result of a source staging task.
type FetchResult struct {
	Dir    string `json:"dir"`
	Commit string `json:"commit,omitempty"`
	// Entries counts extracted archive entries, zero for other sources.
	Entries int `json:"entries,omitempty"`
}

// BuildResult is the terminal result of an image build task.
type BuildResult struct {
	Image string `json:"image"`
	Steps int    `json:"steps,omitempty"`
}

// TestResult is the terminal result of a test run task.
type TestResult struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// CommandWork runs one subprocess and reports its outcome. Output lines
// stream through the bridge as they arrive.
func CommandWork(r *runner.Runner, b *Bridge, spec runner.Spec) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		id := logger.TaskID(ctx)
		report(0, "running "+spec.Command)

		prev := spec.OnLine
		spec.OnLine = func(s runner.Stream, line string) {
			if prev != nil {
				prev(s, line)
			}
			publishOutput(b, id, s, line)
		}

		res, err := r.Run(ctx, spec)
		if err != nil {
			return nil, err
		}
		if res.TimedOut {
			return nil, &task.Error{
				Kind:    task.ErrKindTimeout,
				Message: fmt.Sprintf("%s exceeded %s", spec.Command, spec.Timeout),
				Stderr:  res.Stderr,
			}
		}
		if res.ExitCode == nil {
			// Killed by a signal we did not send. Report it as a subprocess
			// failure unless the context explains it.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &task.Error{
				Kind:    task.ErrKindSubprocess,
				Message: fmt.Sprintf("%s terminated by signal", spec.Command),
				Stderr:  res.Stderr,
			}
		}
		if *res.ExitCode != 0 {
			return nil, &task.Error{
				Kind:    task.ErrKindSubprocess,
				Message: fmt.Sprintf("%s exited with code %d", spec.Command, *res.ExitCode),
				Stderr:  res.Stderr,
			}
		}
		return &CommandResult{
			ExitCode: *res.ExitCode,
			Duration: res.Duration,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}, nil
	}
}

// CloneWork stages a submission by cloning a repository, optionally checking
// out a ref. Clone progress becomes task progress.
func CloneWork(git vcs.Client, b *Bridge, url, ref, dir string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		id := logger.TaskID(ctx)
		report(0, "cloning "+url)

		err := git.Clone(ctx, url, dir, func(s runner.Stream, line string) {
			publishOutput(b, id, s, line)
			if p, ok := cloneProgress(line); ok {
				report(p, strings.TrimSpace(line))
			}
		})
		if err != nil {
			return nil, err
		}
		if ref != "" {
			report(90, "checking out "+ref)
			if err := git.Checkout(ctx, dir, ref); err != nil {
				return nil, err
			}
		}
		commit, err := git.HeadCommit(ctx, dir)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Dir: dir, Commit: commit}, nil
	}
}

// ExtractWork stages a submission by unpacking a tar archive (gzipped or
// plain) into dest.
func ExtractWork(archive, dest string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		report(0, "extracting "+filepath.Base(archive))
		n, err := extractTar(ctx, archive, dest, func(entries int) {
			report(min(5+entries/20, 95), fmt.Sprintf("extracted %d entries", entries))
		})
		if err != nil {
			return nil, err
		}
		return &FetchResult{Dir: dest, Entries: n}, nil
	}
}

// StageDirWork stages a submission from a directory that already exists on
// disk.
func StageDirWork(dir string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		report(0, "staging "+dir)
		info, err := os.Stat(dir)
		if err != nil {
			return nil, &task.Error{
				Kind:    task.ErrKindValidation,
				Message: fmt.Sprintf("source directory %q: %v", dir, err),
			}
		}
		if !info.IsDir() {
			return nil, &task.Error{
				Kind:    task.ErrKindValidation,
				Message: fmt.Sprintf("source %q is not a directory", dir),
			}
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Dir: abs}, nil
	}
}

// BuildImageWork builds a container image from dir. Step markers in the
// build output become task progress.
func BuildImageWork(eng container.Engine, b *Bridge, dir, dockerfile, tag string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		id := logger.TaskID(ctx)
		report(0, "building image "+tag)

		steps := 0
		_, err := eng.Build(ctx, container.BuildSpec{
			Dir:        dir,
			Dockerfile: dockerfile,
			Tag:        tag,
			OnLine: func(s runner.Stream, line string) {
				publishOutput(b, id, s, line)
				if p, total, ok := buildProgress(line); ok {
					steps = total
					report(p, strings.TrimSpace(line))
				}
			},
		})
		if err != nil {
			return nil, err
		}
		return &BuildResult{Image: tag, Steps: steps}, nil
	}
}

// TestRunWork runs the submission's test command inside a container built
// for it. Recognized test output drives the progress message; a non-zero
// exit is reported with the parsed pass/fail counts when any were seen.
func TestRunWork(eng container.Engine, b *Bridge, image, workdir string, cmd, env []string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		id := logger.TaskID(ctx)
		report(0, "running tests")

		var (
			mu     sync.Mutex
			sum    TestResult
			events int
		)
		_, err := eng.Run(ctx, container.RunSpec{
			Image:   image,
			Cmd:     cmd,
			WorkDir: workdir,
			Env:     env,
			OnLine: func(s runner.Stream, line string) {
				publishOutput(b, id, s, line)
				mu.Lock()
				hit := observeTestLine(&sum, line)
				if hit {
					events++
				}
				n := events
				mu.Unlock()
				if hit {
					report(min(5+n, 95), strings.TrimSpace(line))
				}
			},
		})
		mu.Lock()
		out := sum
		mu.Unlock()
		if err != nil {
			var terr *task.Error
			if errors.As(err, &terr) && terr.Kind == task.ErrKindSubprocess && (out.Passed > 0 || out.Failed > 0) {
				return nil, &task.Error{
					Kind:    task.ErrKindSubprocess,
					Message: fmt.Sprintf("tests failed: %d passed, %d failed", out.Passed, out.Failed),
					Stderr:  terr.Stderr,
				}
			}
			return nil, err
		}
		return &out, nil
	}
}

// publishOutput forwards one subprocess output line through the bridge.
func publishOutput(b *Bridge, id string, s runner.Stream, line string) {
	if b == nil || id == "" {
		return
	}
	b.Publish(context.Background(), task.Event{
		TaskID: id,
		Kind:   task.EventOutput,
		Line:   line,
		Stream: string(s),
		At:     time.Now().UTC(),
	})
}

var cloneRe = regexp.MustCompile(`(Counting objects|Compressing objects|Receiving objects|Resolving deltas):\s+(\d+)%`)

// cloneProgress maps git's phased progress output onto a single 0-99 scale.
// Git separates updates with carriage returns, so one scanned line can hold
// many; the last one wins.
func cloneProgress(line string) (int, bool) {
	ms := cloneRe.FindAllStringSubmatch(line, -1)
	if len(ms) == 0 {
		return 0, false
	}
	m := ms[len(ms)-1]
	pct, err := strconv.Atoi(m[2])
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	switch m[1] {
	case "Counting objects":
		return pct * 5 / 100, true
	case "Compressing objects":
		return 5 + pct*5/100, true
	case "Receiving objects":
		return 10 + pct*70/100, true
	default: // Resolving deltas
		return 80 + pct*19/100, true
	}
}

var (
	buildStepRe    = regexp.MustCompile(`^Step (\d+)/(\d+)`)
	buildKitStepRe = regexp.MustCompile(`^#\d+ \[(?:[\w.-]+ +)?(\d+)/(\d+)\]`)
)

// buildProgress parses "Step X/Y" (classic builder) and "#N [X/Y]"
// (buildkit --progress=plain) markers. Progress tops out at 99 because the
// build is only done when the CLI exits.
func buildProgress(line string) (percent, total int, ok bool) {
	m := buildStepRe.FindStringSubmatch(line)
	if m == nil {
		m = buildKitStepRe.FindStringSubmatch(line)
	}
	if m == nil {
		return 0, 0, false
	}
	cur, _ := strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	if total <= 0 || cur < 0 || cur > total {
		return 0, 0, false
	}
	percent = cur * 100 / total
	if percent > 99 {
		percent = 99
	}
	return percent, total, true
}

var (
	testCaseRe    = regexp.MustCompile(`^\s*--- (PASS|FAIL|SKIP):`)
	testPassedRe  = regexp.MustCompile(`(\d+) passed`)
	testFailedRe  = regexp.MustCompile(`(\d+) failed`)
	testSkippedRe = regexp.MustCompile(`(\d+) skipped`)
)

// observeTestLine folds one output line into the running summary. Per-case
// markers increment counts; a trailing "N passed"-style summary line
// overrides them, since runners print authoritative totals there.
func observeTestLine(sum *TestResult, line string) bool {
	if m := testCaseRe.FindStringSubmatch(line); m != nil {
		switch m[1] {
		case "PASS":
			sum.Passed++
		case "FAIL":
			sum.Failed++
		case "SKIP":
			sum.Skipped++
		}
		return true
	}
	hit := false
	if m := testPassedRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			sum.Passed = n
			hit = true
		}
	}
	if m := testFailedRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			sum.Failed = n
			hit = true
		}
	}
	if m := testSkippedRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			sum.Skipped = n
			hit = true
		}
	}
	return hit
}

// extractTar unpacks a tar or tar.gz archive into dest, guarding against
// entries that escape it. progress is called with the running entry count.
func extractTar(ctx context.Context, archive, dest string, progress func(int)) (int, error) {
	f, err := os.Open(archive)
	if err != nil {
		return 0, &task.Error{
			Kind:    task.ErrKindValidation,
			Message: fmt.Sprintf("archive %q: %v", archive, err),
		}
	}
	defer f.Close()

	var rd io.Reader = f
	if strings.HasSuffix(archive, ".gz") || strings.HasSuffix(archive, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, &task.Error{
				Kind:    task.ErrKindValidation,
				Message: fmt.Sprintf("archive %q: %v", archive, err),
			}
		}
		defer gz.Close()
		rd = gz
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, err
	}

	tr := tar.NewReader(rd)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, &task.Error{
				Kind:    task.ErrKindValidation,
				Message: fmt.Sprintf("archive %q: %v", archive, err),
			}
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return entries, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return entries, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return entries, err
			}
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return entries, err
			}
		case tar.TypeSymlink:
			// The link target must resolve inside dest. Unlike securePath
			// this keeps "..", so an escaping target is caught, not munged.
			resolved := filepath.Join(filepath.Dir(target), hdr.Linkname)
			rel, relErr := filepath.Rel(dest, resolved)
			if filepath.IsAbs(hdr.Linkname) || relErr != nil || rel == ".." ||
				strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return entries, &task.Error{
					Kind:    task.ErrKindValidation,
					Message: fmt.Sprintf("archive link %q escapes the destination", hdr.Name),
				}
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return entries, err
			}
		default:
			// Devices, FIFOs and the like have no business in a submission.
			continue
		}

		entries++
		if progress != nil {
			progress(entries)
		}
	}
	return entries, nil
}

// securePath joins name under root, neutralizing traversal components so the
// result always lands inside root. The Rel check is a backstop.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.Clean("/"+name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &task.Error{
			Kind:    task.ErrKindValidation,
			Message: fmt.Sprintf("archive entry %q escapes the destination", name),
		}
	}
	return target, nil
}

func writeEntry(target string, rd io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rd); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
