/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeOps is an in-memory Operations backend tracking which changesets
// each path holds and recording every grab, so tests can count fetches.
type fakeOps struct {
	mu          sync.Mutex
	present     map[string]map[string]bool
	grabs       []grab
	failSources map[string]bool
	depots      map[string]bool
	cleanups    []string
}

type grab struct {
	Path       string
	Source     string
	Changesets []string
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		present:     map[string]map[string]bool{},
		failSources: map[string]bool{},
		depots:      map[string]bool{},
	}
}

func (f *fakeOps) Kind() Kind { return KindGit }

func (f *fakeOps) IsDepot(_ context.Context, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depots[path]
}

func (f *fakeOps) InitDepot(_ context.Context, path string, parent *Depot, _ string) (*Depot, error) {
	f.mu.Lock()
	f.depots[path] = true
	f.mu.Unlock()
	return New(path, parent, f), nil
}

func (f *fakeOps) CheckAvailability(_ context.Context, path string, changesets []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var missing []string
	for _, cs := range changesets {
		if !f.present[path][cs] {
			missing = append(missing, cs)
		}
	}
	return missing, nil
}

func (f *fakeOps) GrabChangesets(_ context.Context, path, source string, changesets []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grabs = append(f.grabs, grab{Path: path, Source: source, Changesets: changesets})
	if f.failSources[source] {
		return fmt.Errorf("fetch from %s refused", source)
	}
	if f.present[path] == nil {
		f.present[path] = map[string]bool{}
	}
	for _, cs := range changesets {
		f.present[path][cs] = true
	}
	return nil
}

func (f *fakeOps) Clear(context.Context, string) error { return nil }

func (f *fakeOps) SetSource(context.Context, string, string) error { return nil }

func (f *fakeOps) CleanupStaleLocks(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, path)
	return nil
}

func (f *fakeOps) grabCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grabs)
}

func TestRefreshIdempotence(t *testing.T) {
	ctx := context.Background()
	ops := newFakeOps()
	root := New("/cache", nil, ops)

	reqs := RequirementMap{"https://src.example/repo": {"main", "v1.2.3"}}

	if err := root.Refresh(ctx, reqs); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := ops.grabCount(); got != 1 {
		t.Fatalf("fetches after first refresh: got %d, want 1", got)
	}

	// Identical requirements on an unchanged upstream: zero extra fetches.
	if err := root.Refresh(ctx, reqs); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if got := ops.grabCount(); got != 1 {
		t.Errorf("fetches after second refresh: got %d, want 1", got)
	}
}

func TestRefreshCascades(t *testing.T) {
	ctx := context.Background()
	ops := newFakeOps()
	root := New("/cache", nil, ops)
	leaf := New("/workspace", root, ops)

	src := "https://src.example/repo"
	if err := leaf.Refresh(ctx, RequirementMap{src: {"rev-1"}}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Exactly one external fetch into the root, then one local copy from
	// the root into the leaf.
	want := []grab{
		{Path: "/cache", Source: src, Changesets: []string{"rev-1"}},
		{Path: "/workspace", Source: "/cache", Changesets: []string{"rev-1"}},
	}
	if diff := cmp.Diff(want, ops.grabs); diff != "" {
		t.Errorf("grabs (-want +got):\n%s", diff)
	}

	for _, path := range []string{"/cache", "/workspace"} {
		if !ops.present[path]["rev-1"] {
			t.Errorf("rev-1 missing from %s after refresh", path)
		}
	}
}

func TestRefreshWarmParentSkipsRemote(t *testing.T) {
	ctx := context.Background()
	ops := newFakeOps()
	root := New("/cache", nil, ops)
	leaf := New("/workspace", root, ops)

	src := "https://src.example/repo"
	ops.present["/cache"] = map[string]bool{"rev-1": true}

	if err := leaf.Refresh(ctx, RequirementMap{src: {"rev-1"}}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// The warm root cache satisfies the leaf with a single local copy.
	want := []grab{
		{Path: "/workspace", Source: "/cache", Changesets: []string{"rev-1"}},
	}
	if diff := cmp.Diff(want, ops.grabs); diff != "" {
		t.Errorf("grabs (-want +got):\n%s", diff)
	}
}

func TestRefreshFiltersPartiallySatisfied(t *testing.T) {
	ctx := context.Background()
	ops := newFakeOps()
	root := New("/cache", nil, ops)

	src := "https://src.example/repo"
	other := "https://other.example/repo"
	ops.present["/cache"] = map[string]bool{"rev-1": true, "tag-x": true}

	// rev-1 is present, rev-2 is not; other's only requirement is
	// satisfied, so that source drops out entirely.
	err := root.Refresh(ctx, RequirementMap{
		src:   {"rev-1", "rev-2"},
		other: {"tag-x"},
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	want := []grab{{Path: "/cache", Source: src, Changesets: []string{"rev-2"}}}
	if diff := cmp.Diff(want, ops.grabs); diff != "" {
		t.Errorf("grabs (-want +got):\n%s", diff)
	}
}

func TestRefreshFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	ops := newFakeOps()
	root := New("/cache", nil, ops)
	leaf := New("/workspace", root, ops)

	src := "https://src.example/repo"
	ops.failSources[src] = true

	err := leaf.Refresh(ctx, RequirementMap{src: {"rev-1"}})
	if err == nil {
		t.Fatalf("Refresh: expected error for failing source")
	}

	// The leaf must not have attempted a local copy after the parent's
	// fetch failed.
	for _, g := range ops.grabs {
		if g.Path == "/workspace" {
			t.Errorf("leaf fetched despite parent failure: %+v", g)
		}
	}
}

func TestFromPath(t *testing.T) {
	ctx := context.Background()
	ops := newFakeOps()

	if _, err := FromPath(ctx, "/nowhere", nil, ops); !errors.Is(err, ErrNotADepot) {
		t.Fatalf("FromPath on non-depot: got %v, want ErrNotADepot", err)
	}

	ops.depots["/cache"] = true
	d, err := FromPath(ctx, "/cache", nil, ops)
	if err != nil {
		t.Fatalf("FromPath: %v", err)
	}
	if d.Path() != "/cache" || d.Parent() != nil {
		t.Errorf("unexpected depot: path=%s parent=%v", d.Path(), d.Parent())
	}

	// Stale VCS locks are cleared as part of re-wrapping a path.
	if diff := cmp.Diff([]string{"/cache"}, ops.cleanups); diff != "" {
		t.Errorf("lock cleanups (-want +got):\n%s", diff)
	}
}
