package service

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/port/vcs"
)

// CheckoutResult is the terminal result of a workspace checkout task.
type CheckoutResult struct {
	Ref    string `json:"ref"`
	Commit string `json:"commit"`
}

// ArchiveResult is the terminal result of a workspace archive task.
type ArchiveResult struct {
	Path  string `json:"path"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// CleanResult is the terminal result of a workspace clean task.
type CleanResult struct {
	WorkspaceRemoved bool  `json:"workspace_removed"`
	RemovedArchives  int   `json:"removed_archives"`
	FreedBytes       int64 `json:"freed_bytes"`
}

// WorkspaceService submits maintenance operations on staged workspaces:
// switching a checkout to another ref, archiving the working tree, and
// cleaning up staging directories and stale archives. Each operation runs
// as a managed task and streams progress like any other submission.
type WorkspaceService struct {
	log *slog.Logger
	mgr *Manager
	git vcs.Client
	ws  config.Workspace
}

// NewWorkspaceService creates a workspace operations service.
func NewWorkspaceService(log *slog.Logger, mgr *Manager, git vcs.Client, ws config.Workspace) *WorkspaceService {
	return &WorkspaceService{log: log, mgr: mgr, git: git, ws: ws}
}

// Checkout submits a task that fetches and checks out ref in the named
// workspace. Returns the task ID.
func (s *WorkspaceService) Checkout(name, ref string) (string, error) {
	if err := validateWorkspaceName(name); err != nil {
		return "", err
	}
	if ref == "" {
		return "", fmt.Errorf("%w: ref is required", domain.ErrValidation)
	}
	dir := filepath.Join(s.ws.Root, name)
	return s.mgr.Submit(SubmitRequest{
		Name: fmt.Sprintf("checkout %s @ %s", name, ref),
		Work: s.checkoutWork(dir, ref),
	})
}

// Archive submits a task that packs the named workspace's working tree into
// a timestamped tar.gz under the archive directory. Returns the task ID.
func (s *WorkspaceService) Archive(name string) (string, error) {
	if err := validateWorkspaceName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.ws.Root, name)
	return s.mgr.Submit(SubmitRequest{
		Name: "archive " + name,
		Work: s.archiveWork(name, dir),
	})
}

// Clean submits a task that removes the named workspace's staging directory
// and prunes its archives down to the configured retention. Returns the
// task ID.
func (s *WorkspaceService) Clean(name string) (string, error) {
	if err := validateWorkspaceName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.ws.Root, name)
	return s.mgr.Submit(SubmitRequest{
		Name: "clean " + name,
		Work: s.cleanWork(name, dir),
	})
}

func (s *WorkspaceService) checkoutWork(dir, ref string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		report(0, "fetching refs")
		if err := s.git.Fetch(ctx, dir); err != nil {
			return nil, err
		}
		report(60, "checking out "+ref)
		if err := s.git.Checkout(ctx, dir, ref); err != nil {
			return nil, err
		}
		commit, err := s.git.HeadCommit(ctx, dir)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Ref: ref, Commit: commit}, nil
	}
}

func (s *WorkspaceService) archiveWork(name, dir string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		report(0, "scanning "+name)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: workspace %q not found", domain.ErrNotFound, name)
		}

		total, err := countArchivable(ctx, dir)
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(s.ws.ArchiveDir, 0o755); err != nil {
			return nil, err
		}
		stamp := time.Now().UTC().Format("20060102-150405")
		out := filepath.Join(s.ws.ArchiveDir, fmt.Sprintf("%s-%s.tar.gz", name, stamp))

		files, err := packTarGz(ctx, dir, out, func(done int) {
			pct := 95
			if total > 0 {
				pct = min(5+done*90/total, 95)
			}
			report(pct, fmt.Sprintf("archived %d/%d entries", done, total))
		})
		if err != nil {
			// Half-written archives are worse than none.
			_ = os.Remove(out)
			return nil, err
		}

		st, err := os.Stat(out)
		if err != nil {
			return nil, err
		}
		s.log.Info("workspace archived", "workspace", name, "path", out, "bytes", st.Size())
		return &ArchiveResult{Path: out, Files: files, Bytes: st.Size()}, nil
	}
}

func (s *WorkspaceService) cleanWork(name, dir string) Work {
	return func(ctx context.Context, report ReportFunc) (any, error) {
		report(0, "cleaning "+name)
		res := &CleanResult{}

		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			size, _ := dirSize(dir)
			if err := os.RemoveAll(dir); err != nil {
				return nil, err
			}
			res.WorkspaceRemoved = true
			res.FreedBytes += size
		}
		report(40, "pruning archives")

		removed, freed, err := s.pruneArchives(ctx, name)
		if err != nil {
			return nil, err
		}
		res.RemovedArchives = removed
		res.FreedBytes += freed

		s.log.Info("workspace cleaned",
			"workspace", name,
			"removed_archives", res.RemovedArchives,
			"freed_bytes", res.FreedBytes,
		)
		return res, nil
	}
}

// pruneArchives deletes the named workspace's archives beyond the newest
// ArchiveKeep. A non-positive retention keeps everything.
func (s *WorkspaceService) pruneArchives(ctx context.Context, name string) (removed int, freed int64, err error) {
	if s.ws.ArchiveKeep <= 0 {
		return 0, 0, nil
	}
	entries, err := os.ReadDir(s.ws.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	type archive struct {
		path string
		mod  time.Time
		size int64
	}
	var found []archive
	prefix := name + "-"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, archive{
			path: filepath.Join(s.ws.ArchiveDir, e.Name()),
			mod:  info.ModTime(),
			size: info.Size(),
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })

	for i := s.ws.ArchiveKeep; i < len(found); i++ {
		if err := ctx.Err(); err != nil {
			return removed, freed, err
		}
		if err := os.Remove(found[i].path); err != nil {
			return removed, freed, err
		}
		removed++
		freed += found[i].size
	}
	return removed, freed, nil
}

// validateWorkspaceName rejects names that could escape the workspace root.
func validateWorkspaceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: workspace name is required", domain.ErrValidation)
	case len(name) > 128:
		return fmt.Errorf("%w: workspace name too long (max 128 chars)", domain.ErrValidation)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: workspace name must not contain path separators", domain.ErrValidation)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: workspace name must not contain '..'", domain.ErrValidation)
	case name[0] == '.':
		return fmt.Errorf("%w: workspace name must not start with '.'", domain.ErrValidation)
	}
	return nil
}

// dirSize sums the regular-file bytes under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// countArchivable counts the entries packTarGz will emit.
func countArchivable(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if path == dir {
			return nil
		}
		total++
		return nil
	})
	return total, err
}

// packTarGz packs dir into a gzipped tarball at out, skipping .git. Entry
// names are stored relative to dir.
func packTarGz(ctx context.Context, dir, out string, progress func(int)) (int, error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	done := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if path == dir || path == out {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, src)
			src.Close()
			if err != nil {
				return err
			}
		}

		done++
		if progress != nil {
			progress(done)
		}
		return nil
	})
	if walkErr != nil {
		return done, walkErr
	}

	if err := tw.Close(); err != nil {
		return done, err
	}
	if err := gz.Close(); err != nil {
		return done, err
	}
	return done, f.Close()
}
