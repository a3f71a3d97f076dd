/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depotmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chainguard.dev/repoman/depot"
	"chainguard.dev/repoman/depot/gitops"
	"chainguard.dev/repoman/roster"
	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"
)

const (
	// cacheDirName is the root cache inside the working root.
	cacheDirName = "main_cache"

	// rosterFileName is the roster database inside the working root.
	rosterFileName = "roster.db"

	// workspacePrefix names the pool's workspace directories.
	workspacePrefix = "workspace"
)

// ErrProvision is returned when a new workspace cannot be provisioned:
// directory creation or depot initialization failed, or the reserved path
// no longer holds a valid workspace. Pool exhaustion surfaces separately
// as roster.ErrLimitReached so operators can tell backpressure from
// breakage.
var ErrProvision = errors.New("cannot provision clone")

// Manager orchestrates the clone pool rooted at a working directory.
type Manager struct {
	workPath string
	kind     depot.Kind
	source   string

	maxClones    int
	cloneTimeout time.Duration
	tokenSource  oauth2.TokenSource

	ops       depot.Operations
	roster    *roster.Roster
	rootCache *depot.Depot
}

// New constructs a Manager over workPath, creating the working root, the
// root cache, and the roster as needed. The bootstrap is idempotent:
// constructing two Managers over the same workPath (in the same process
// or not) yields the same pool.
func New(ctx context.Context, workPath string, opts ...Option) (*Manager, error) {
	if workPath == "" {
		return nil, errors.New("work path cannot be empty")
	}

	m := &Manager{
		workPath: workPath,
		kind:     depot.KindGit,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.ops == nil {
		ops, err := operationsFor(m.kind, m.tokenSource)
		if err != nil {
			return nil, err
		}
		m.ops = ops
	}

	if err := m.bootstrap(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// operationsFor maps a VCS kind to its backend. Kinds are bound
// statically; an unsupported kind fails construction rather than
// surfacing later as a missing implementation.
func operationsFor(kind depot.Kind, ts oauth2.TokenSource) (depot.Operations, error) {
	switch kind {
	case depot.KindGit:
		if ts != nil {
			return gitops.New(gitops.WithTokenSource(ts)), nil
		}
		return gitops.New(), nil
	default:
		return nil, fmt.Errorf("unsupported depot kind %q", kind)
	}
}

func (m *Manager) bootstrap(ctx context.Context) error {
	log := clog.FromContext(ctx)
	log.Debugf("Bootstrapping clone pool at %s", m.workPath)

	if err := os.MkdirAll(m.workPath, 0o755); err != nil {
		return fmt.Errorf("%w: creating working root %s: %v", ErrProvision, m.workPath, err)
	}

	cachePath := filepath.Join(m.workPath, cacheDirName)
	if m.ops.IsDepot(ctx, cachePath) {
		cache, err := depot.FromPath(ctx, cachePath, nil, m.ops)
		if err != nil {
			return fmt.Errorf("%w: opening root cache: %v", ErrProvision, err)
		}
		m.rootCache = cache
	} else {
		cache, err := m.ops.InitDepot(ctx, cachePath, nil, m.source)
		if err != nil {
			return fmt.Errorf("%w: initializing root cache: %v", ErrProvision, err)
		}
		m.rootCache = cache
	}

	var rosterOpts []roster.Option
	if m.maxClones > 0 {
		rosterOpts = append(rosterOpts, roster.WithMaxClones(m.maxClones))
	}
	if m.cloneTimeout > 0 {
		rosterOpts = append(rosterOpts, roster.WithCloneTimeout(m.cloneTimeout))
	}
	r, err := roster.New(ctx, filepath.Join(m.workPath, rosterFileName), rosterOpts...)
	if err != nil {
		return fmt.Errorf("%w: opening roster: %v", ErrProvision, err)
	}
	m.roster = r
	return nil
}

// Close releases the roster's database handle. Workspaces stay on disk.
func (m *Manager) Close() error {
	return m.roster.Close()
}

// RootCache returns the pool's root cache depot, the only workspace that
// fetches directly from external origins.
func (m *Manager) RootCache() *depot.Depot {
	return m.rootCache
}

// Acquire reserves a workspace for the task, provisioning a fresh clone
// when none is free. When source is non-empty it becomes the workspace's
// default origin; when requirements are given the workspace is refreshed
// to contain them.
//
// A failed refresh fails the acquisition: the clone is cleared, returned
// to the pool, and the refresh error is surfaced. Callers that want a
// workspace regardless of upstream availability should acquire without
// requirements and call Refresh themselves.
func (m *Manager) Acquire(ctx context.Context, task, taskName string, requirements depot.RequirementMap, source string) (*depot.Depot, error) {
	switch {
	case task == "":
		return nil, errors.New("task cannot be empty")
	case taskName == "":
		return nil, errors.New("task name cannot be empty")
	}
	log := clog.FromContext(ctx)

	var d *depot.Depot
	record, err := m.roster.Reserve(ctx, task, taskName)
	switch {
	case err == nil:
		d, err = depot.FromPath(ctx, record.Path, m.rootCache, m.ops)
		if err != nil {
			// The reserved path no longer holds a usable workspace.
			// Give the reservation back before surfacing.
			if ferr := m.roster.Free(ctx, record.Path, task); ferr != nil {
				log.Warnf("Freeing unusable clone %s: %v", record.Path, ferr)
			}
			return nil, fmt.Errorf("%w: reserved clone %s: %v", ErrProvision, record.Path, err)
		}
		log.Infof("Reused clone %s for task %s (%s)", d.Path(), task, taskName)
		poolAcquires.WithLabelValues("reused").Inc()

	case errors.Is(err, roster.ErrNoAvailable):
		log.Debugf("No free clones, provisioning a new workspace")
		d, err = m.provision(ctx, task, taskName)
		if err != nil {
			return nil, err
		}
		log.Infof("Provisioned clone %s for task %s (%s)", d.Path(), task, taskName)
		poolAcquires.WithLabelValues("provisioned").Inc()

	default:
		return nil, fmt.Errorf("reserving clone: %w", err)
	}

	if source != "" {
		if err := d.SetSource(ctx, source); err != nil {
			m.giveBack(ctx, d, task)
			return nil, fmt.Errorf("setting source of %s: %w", d.Path(), err)
		}
	}

	if len(requirements) > 0 {
		if err := d.Refresh(ctx, requirements); err != nil {
			refreshFailures.Inc()
			m.giveBack(ctx, d, task)
			return nil, fmt.Errorf("refreshing %s: %w", d.Path(), err)
		}
	}

	return d, nil
}

// provision creates a fresh uniquely-named workspace chained to the root
// cache and registers it with the roster.
func (m *Manager) provision(ctx context.Context, task, taskName string) (*depot.Depot, error) {
	dir, err := os.MkdirTemp(m.workPath, workspacePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: creating workspace directory: %v", ErrProvision, err)
	}

	d, err := m.ops.InitDepot(ctx, dir, m.rootCache, "")
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: initializing workspace %s: %v", ErrProvision, dir, err)
	}

	if _, err := m.roster.Add(ctx, dir, task, taskName); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("registering workspace %s: %w", dir, err)
	}
	return d, nil
}

// giveBack best-effort returns a clone whose acquisition failed midway.
func (m *Manager) giveBack(ctx context.Context, d *depot.Depot, task string) {
	if err := m.Release(ctx, d, task); err != nil {
		clog.FromContext(ctx).Warnf("Returning clone %s after failed acquire: %v", d.Path(), err)
	}
}

// AcquireByPath re-wraps an existing workspace path without consulting
// the roster's FREE/INUSE state, for multi-stage pipelines that pass a
// workspace between steps by path. Returns depot.ErrNotADepot if the
// path does not hold a valid workspace.
func (m *Manager) AcquireByPath(ctx context.Context, path string) (*depot.Depot, error) {
	return depot.FromPath(ctx, path, m.rootCache, m.ops)
}

// Release clears the workspace back to a pristine, origin-equivalent
// state and frees its roster record. Fails with roster.ErrConflict when
// task does not own the reservation.
func (m *Manager) Release(ctx context.Context, d *depot.Depot, task string) error {
	if d == nil {
		return errors.New("depot cannot be nil")
	}
	if err := m.ops.Clear(ctx, d.Path()); err != nil {
		return fmt.Errorf("clearing %s: %w", d.Path(), err)
	}
	if err := m.roster.Free(ctx, d.Path(), task); err != nil {
		return err
	}
	poolReleases.Inc()
	clog.FromContext(ctx).Infof("Released clone %s (task %s)", d.Path(), task)
	return nil
}

// Remove decommissions a workspace: its roster record is deleted and the
// directory is removed from disk.
func (m *Manager) Remove(ctx context.Context, path string) error {
	if err := m.roster.Remove(ctx, path); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing workspace %s: %w", path, err)
	}
	return nil
}

// Available returns the FREE roster record for path, or
// roster.ErrNotFound when path is not free.
func (m *Manager) Available(ctx context.Context, path string) (*roster.Clone, error) {
	clones, err := m.roster.Available(ctx)
	if err != nil {
		return nil, err
	}
	return firstMatching(clones, path)
}

// InUse returns the INUSE roster record for path, or roster.ErrNotFound
// when path is not in use.
func (m *Manager) InUse(ctx context.Context, path string) (*roster.Clone, error) {
	clones, err := m.roster.InUse(ctx)
	if err != nil {
		return nil, err
	}
	return firstMatching(clones, path)
}

// Roster exposes the underlying ledger for snapshot queries.
func (m *Manager) Roster() *roster.Roster {
	return m.roster
}

func firstMatching(clones []*roster.Clone, path string) (*roster.Clone, error) {
	for _, c := range clones {
		if c.Path == path {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, roster.ErrNotFound)
}
