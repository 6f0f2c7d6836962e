package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/da-x/spectree"
)

func initRepo(t *testing.T, dir string) *git.Repository {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg.spec"), []byte("Name: test\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := wt.Add("pkg.spec"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.invalid", When: time.Now()},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return repo
}

func TestAcquirePathCleanTree(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	a := &Acquirer{}
	n := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit, Path: dir}}

	res, err := a.Acquire(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ContentHash == "" {
		t.Fatalf("expected a non-empty content hash")
	}
	if res.WorkingTreePath != dir {
		t.Fatalf("expected working tree path %q, got %q", dir, res.WorkingTreePath)
	}
}

func TestAcquirePathRejectsDirtyTree(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "pkg.spec"), []byte("Name: modified\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := &Acquirer{}
	n := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit, Path: dir}}

	if _, err := a.Acquire(n); err == nil {
		t.Fatalf("expected a modified working tree to be rejected as unclean")
	}
}

func TestAcquireContentHashStableAcrossReacquire(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	a := &Acquirer{}
	n := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit, Path: dir}}

	first, err := a.Acquire(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.Acquire(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ContentHash != second.ContentHash {
		t.Fatalf("expected content hash to be stable across repeated acquisition of an unchanged tree")
	}
}

func TestAcquireRejectsSRPMSource(t *testing.T) {
	a := &Acquirer{}
	n := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindSRPM, SRPMPath: "/tmp/x.src.rpm"}}

	if _, err := a.Acquire(n); err != ErrSRPMUnsupported {
		t.Fatalf("expected ErrSRPMUnsupported, got %v", err)
	}
}
