/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depot

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
)

// ErrNotADepot is returned by FromPath when the path does not hold a
// valid workspace of the backend's kind.
var ErrNotADepot = errors.New("path is not a depot")

// RequirementMap names the changeset references that must be present
// locally, keyed by the source they can be fetched from. Sources are
// unique; ordering is irrelevant.
type RequirementMap map[string][]string

// Depot is one workspace in the cache chain. The parent reference is an
// ownership edge, not shared mutable state: a Depot delegates refreshes
// upward through it and otherwise operates only on its own path.
type Depot struct {
	path   string
	parent *Depot
	ops    Operations
}

// New wraps an existing workspace path without validation. Most callers
// want FromPath, which checks the path and clears stale VCS locks first.
func New(path string, parent *Depot, ops Operations) *Depot {
	return &Depot{path: path, parent: parent, ops: ops}
}

// FromPath validates that path holds a workspace, clears any stale VCS
// locks left by a crashed process, and wraps it as a Depot chained to
// parent. Returns ErrNotADepot for paths that do not hold one.
func FromPath(ctx context.Context, path string, parent *Depot, ops Operations) (*Depot, error) {
	if !ops.IsDepot(ctx, path) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotADepot)
	}
	if err := ops.CleanupStaleLocks(ctx, path); err != nil {
		return nil, fmt.Errorf("cleaning stale locks in %s: %w", path, err)
	}
	return New(path, parent, ops), nil
}

// Path returns the workspace's filesystem location.
func (d *Depot) Path() string {
	return d.path
}

// Parent returns the upstream cache node, or nil for the root cache.
func (d *Depot) Parent() *Depot {
	return d.parent
}

// Kind reports the VCS kind of the backing workspace.
func (d *Depot) Kind() Kind {
	return d.ops.Kind()
}

// SetSource records the default upstream origin for direct operations on
// this workspace.
func (d *Depot) SetSource(ctx context.Context, source string) error {
	return d.ops.SetSource(ctx, d.path, source)
}

// Refresh ensures every changeset named in requirements is present in
// this workspace, fetching only what is missing. Refreshing with an
// already-satisfied requirement map is a guaranteed no-op. The first
// source that fails to fetch aborts the refresh; partial refresh is a
// normal operational outcome, reported as an error for the caller to
// retry or ignore.
func (d *Depot) Refresh(ctx context.Context, requirements RequirementMap) error {
	log := clog.FromContext(ctx)
	log.Infof("Requested refresh of %s", d.path)
	refreshRequests.Inc()

	missing, err := d.filterMissing(ctx, requirements)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		log.Debugf("(%s) All required changesets already present", d.path)
		return nil
	}
	log.Debugf("(%s) Actually required: %v", d.path, missing)

	return d.grabFromUpstream(ctx, missing)
}

// filterMissing asks the backend which required changesets are absent,
// dropping sources with nothing missing.
func (d *Depot) filterMissing(ctx context.Context, requirements RequirementMap) (RequirementMap, error) {
	missing := RequirementMap{}
	for source, changesets := range requirements {
		absent, err := d.ops.CheckAvailability(ctx, d.path, changesets)
		if err != nil {
			return nil, fmt.Errorf("checking changeset availability in %s: %w", d.path, err)
		}
		if len(absent) > 0 {
			missing[source] = absent
		}
	}
	return missing, nil
}

// grabFromUpstream pulls the given changesets in. The root cache fetches
// each source from its external URL; any other node first refreshes its
// parent with the same requirements and then copies from the parent's
// local path.
func (d *Depot) grabFromUpstream(ctx context.Context, requirements RequirementMap) error {
	log := clog.FromContext(ctx)

	if d.parent == nil {
		log.Debugf("(%s) I am the root cache, grabbing from external sources", d.path)
		for source, changesets := range requirements {
			remoteFetches.Inc()
			if err := d.ops.GrabChangesets(ctx, d.path, source, changesets); err != nil {
				return fmt.Errorf("grabbing changesets from %s: %w", source, err)
			}
		}
		return nil
	}

	log.Debugf("(%s) Delegating to parent cache %s", d.path, d.parent.path)
	if err := d.parent.Refresh(ctx, requirements); err != nil {
		return err
	}
	for source, changesets := range requirements {
		parentFetches.Inc()
		if err := d.ops.GrabChangesets(ctx, d.path, d.parent.path, changesets); err != nil {
			return fmt.Errorf("grabbing changesets for %s from parent %s: %w",
				source, d.parent.path, err)
		}
	}
	return nil
}
