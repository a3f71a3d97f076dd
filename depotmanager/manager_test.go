/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depotmanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chainguard.dev/repoman/depot"
	"chainguard.dev/repoman/roster"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initSourceRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# fixture"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("master"))); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	return dir
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()

	m, err := New(context.Background(), filepath.Join(t.TempDir(), "pool"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestBootstrapIdempotent(t *testing.T) {
	ctx := context.Background()
	workPath := filepath.Join(t.TempDir(), "pool")

	m1, err := New(ctx, workPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cachePath := m1.RootCache().Path()
	if err := m1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A second bootstrap over the same root must reuse the existing
	// cache and roster without corrupting them.
	m2, err := New(ctx, workPath)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer m2.Close()

	if got := m2.RootCache().Path(); got != cachePath {
		t.Errorf("root cache path: got %s, want %s", got, cachePath)
	}
	if m2.RootCache().Parent() != nil {
		t.Errorf("root cache must have no parent")
	}
}

func TestAcquireProvisionsAndReuses(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	d1, err := m.Acquire(ctx, "t1", "builder", nil, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(d1.Path()), workspacePrefix) {
		t.Errorf("workspace name: got %s, want %s prefix", d1.Path(), workspacePrefix)
	}
	if d1.Parent() != m.RootCache() {
		t.Errorf("workspace must be chained to the root cache")
	}

	record, err := m.InUse(ctx, d1.Path())
	if err != nil {
		t.Fatalf("InUse: %v", err)
	}
	if record.Task != "t1" {
		t.Errorf("owner: got %s, want t1", record.Task)
	}

	if err := m.Release(ctx, d1, "t1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := m.Available(ctx, d1.Path()); err != nil {
		t.Fatalf("Available after release: %v", err)
	}

	// The freed clone is reused rather than provisioning another.
	d2, err := m.Acquire(ctx, "t2", "merger", nil, "")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if d2.Path() != d1.Path() {
		t.Errorf("expected clone reuse: got %s, want %s", d2.Path(), d1.Path())
	}
}

func TestAcquireWithRequirements(t *testing.T) {
	ctx := context.Background()
	srcDir := initSourceRepo(t)
	m := newTestManager(t, WithSource(srcDir))

	d, err := m.Acquire(ctx, "t1", "builder", depot.RequirementMap{srcDir: {"master"}}, srcDir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// The requirement cascaded through the root cache into the
	// workspace: master resolves in both.
	for _, path := range []string{m.RootCache().Path(), d.Path()} {
		repo, err := git.PlainOpen(path)
		if err != nil {
			t.Fatalf("PlainOpen %s: %v", path, err)
		}
		if _, err := repo.ResolveRevision("master"); err != nil {
			t.Errorf("master not present in %s: %v", path, err)
		}
	}

	// A second acquisition with the same requirements is served from the
	// warm caches.
	if err := m.Release(ctx, d, "t1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := m.Acquire(ctx, "t2", "builder", depot.RequirementMap{srcDir: {"master"}}, ""); err != nil {
		t.Fatalf("warm Acquire: %v", err)
	}
}

func TestAcquireRefreshFailureFreesClone(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	missingSrc := filepath.Join(t.TempDir(), "no-such-repo")
	_, err := m.Acquire(ctx, "t1", "builder", depot.RequirementMap{missingSrc: {"master"}}, "")
	if err == nil {
		t.Fatalf("Acquire: expected refresh failure")
	}

	// The provisioned clone went back to the pool instead of leaking
	// INUSE.
	free, err := m.Roster().Available(ctx)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(free) != 1 {
		t.Errorf("free clones after failed acquire: got %d, want 1", len(free))
	}
}

func TestAcquireLimitReached(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, WithMaxClones(1))

	if _, err := m.Acquire(ctx, "t1", "builder", nil, ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "t2", "merger", nil, ""); !errors.Is(err, roster.ErrLimitReached) {
		t.Fatalf("Acquire beyond limit: got %v, want ErrLimitReached", err)
	}
}

func TestAcquireByPath(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	d, err := m.Acquire(ctx, "t1", "stage-one", nil, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// A later pipeline stage picks the workspace up by path, no roster
	// involvement.
	d2, err := m.AcquireByPath(ctx, d.Path())
	if err != nil {
		t.Fatalf("AcquireByPath: %v", err)
	}
	if d2.Path() != d.Path() {
		t.Errorf("path: got %s, want %s", d2.Path(), d.Path())
	}

	if _, err := m.AcquireByPath(ctx, t.TempDir()); !errors.Is(err, depot.ErrNotADepot) {
		t.Fatalf("AcquireByPath on non-depot: got %v, want ErrNotADepot", err)
	}
}

func TestReleaseResetsWorkspace(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	d, err := m.Acquire(ctx, "t1", "builder", nil, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	stray := filepath.Join(d.Path(), "stray.txt")
	if err := os.WriteFile(stray, []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := m.Release(ctx, d, "t1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(stray); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stray file survived release: err=%v", err)
	}
}

func TestReleaseOwnershipConflict(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	d, err := m.Acquire(ctx, "t1", "builder", nil, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := m.Release(ctx, d, "t2"); !errors.Is(err, roster.ErrConflict) {
		t.Fatalf("Release by non-owner: got %v, want ErrConflict", err)
	}

	// The rightful owner can still release.
	if err := m.Release(ctx, d, "t1"); err != nil {
		t.Fatalf("Release by owner: %v", err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	d, err := m.Acquire(ctx, "t1", "builder", nil, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Remove(ctx, d.Path()); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Stat(d.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace directory survived remove: err=%v", err)
	}
	if _, err := m.Roster().Get(ctx, d.Path()); !errors.Is(err, roster.ErrNotFound) {
		t.Errorf("roster record survived remove: %v", err)
	}
}
