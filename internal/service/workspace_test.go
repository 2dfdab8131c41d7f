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
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/task"
)

func newWorkspaceHarness(t *testing.T, git *fakeVCS) (*WorkspaceService, *Manager, config.Workspace) {
	t.Helper()
	b := NewBridge(discardLogger())
	mgr := NewManager(discardLogger(), b, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	ws := config.Workspace{
		Root:        filepath.Join(t.TempDir(), "workspaces"),
		ArchiveDir:  filepath.Join(t.TempDir(), "archives"),
		ArchiveKeep: 2,
	}
	return NewWorkspaceService(discardLogger(), mgr, git, ws), mgr, ws
}

func awaitTask(t *testing.T, mgr *Manager, id string) *task.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := mgr.Await(ctx, id)
	if err != nil {
		t.Fatalf("await %s: %v", id, err)
	}
	return got
}

func TestWorkspaceNameValidation(t *testing.T) {
	svc, _, _ := newWorkspaceHarness(t, &fakeVCS{})

	for _, name := range []string{"", "a/b", `a\b`, "has..dots", ".hidden"} {
		if _, err := svc.Archive(name); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("name %q: expected validation error, got %v", name, err)
		}
	}
	if _, err := svc.Checkout("ok", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty ref: expected validation error, got %v", err)
	}
}

func TestArchiveWorkspace(t *testing.T) {
	svc, mgr, ws := newWorkspaceHarness(t, &fakeVCS{})

	dir := filepath.Join(ws.Root, "demo")
	mustWriteFile(t, filepath.Join(dir, "main.go"), "package main\n")
	mustWriteFile(t, filepath.Join(dir, "pkg", "util.go"), "package pkg\n")
	mustWriteFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")

	id, err := svc.Archive("demo")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	got := awaitTask(t, mgr, id)
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s (err %+v)", got.Status, got.Err)
	}

	res, ok := got.Result.(*ArchiveResult)
	if !ok {
		t.Fatalf("expected *ArchiveResult, got %T", got.Result)
	}
	if res.Bytes <= 0 {
		t.Fatalf("expected non-empty archive, got %d bytes", res.Bytes)
	}

	names := readTarGzNames(t, res.Path)
	if !names["main.go"] || !names["pkg/util.go"] {
		t.Fatalf("archive missing files: %v", names)
	}
	for n := range names {
		if n == ".git/" || n == ".git/HEAD" {
			t.Fatalf("archive must not contain .git entries: %v", names)
		}
	}
}

func TestArchiveMissingWorkspace(t *testing.T) {
	svc, mgr, _ := newWorkspaceHarness(t, &fakeVCS{})

	id, err := svc.Archive("nope")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	got := awaitTask(t, mgr, id)
	if got.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Err == nil || got.Err.Kind != task.ErrKindInternal {
		t.Fatalf("unexpected error record %+v", got.Err)
	}
}

func TestCleanRemovesWorkspaceAndPrunesArchives(t *testing.T) {
	svc, mgr, ws := newWorkspaceHarness(t, &fakeVCS{})

	dir := filepath.Join(ws.Root, "demo")
	mustWriteFile(t, filepath.Join(dir, "artifact.bin"), "0123456789")

	if err := os.MkdirAll(ws.ArchiveDir, 0o755); err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Hour)
	for i := range 4 {
		p := filepath.Join(ws.ArchiveDir, fmt.Sprintf("demo-2025010%d-000000.tar.gz", i+1))
		mustWriteFile(t, p, "archive")
		if err := os.Chtimes(p, base.Add(time.Duration(i)*time.Minute), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	// A foreign workspace's archive must survive the prune.
	other := filepath.Join(ws.ArchiveDir, "other-20250101-000000.tar.gz")
	mustWriteFile(t, other, "archive")

	id, err := svc.Clean("demo")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	got := awaitTask(t, mgr, id)
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s (err %+v)", got.Status, got.Err)
	}

	res := got.Result.(*CleanResult)
	if !res.WorkspaceRemoved {
		t.Fatal("expected workspace removal")
	}
	if res.RemovedArchives != 2 {
		t.Fatalf("expected 2 pruned archives, got %d", res.RemovedArchives)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("workspace directory still present")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("foreign archive was pruned: %v", err)
	}

	remaining, err := filepath.Glob(filepath.Join(ws.ArchiveDir, "demo-*.tar.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining archives, got %v", remaining)
	}
}

func TestCheckoutWorkspace(t *testing.T) {
	git := &fakeVCS{head: "cafe0001"}
	svc, mgr, _ := newWorkspaceHarness(t, git)

	id, err := svc.Checkout("demo", "release-1")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	got := awaitTask(t, mgr, id)
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s (err %+v)", got.Status, got.Err)
	}

	res := got.Result.(*CheckoutResult)
	if res.Ref != "release-1" || res.Commit != "cafe0001" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(git.checkouts) != 1 || git.checkouts[0] != "release-1" {
		t.Fatalf("expected one checkout of release-1, got %v", git.checkouts)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readTarGzNames(t *testing.T, path string) map[string]bool {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer gz.Close()

	names := make(map[string]bool)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names[hdr.Name] = true
	}
	return names
}
