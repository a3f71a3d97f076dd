/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depot

import "context"

// Kind identifies a supported version control system.
type Kind string

// KindGit is the git backend, implemented by depot/gitops.
const KindGit Kind = "git"

func (k Kind) String() string {
	return string(k)
}

// Operations is the VCS backend collaborator consumed by Depot and the
// pool orchestrator. Implementations are stateless with respect to any
// particular workspace and are shared across all depots of their kind.
//
// GrabChangesets must be safe under concurrent invocation against the
// same path, or must serialize internally: the root cache is a shared
// fetch target for every child refresh.
type Operations interface {
	// Kind reports which VCS this backend drives.
	Kind() Kind

	// IsDepot reports whether path holds a workspace of this kind.
	IsDepot(ctx context.Context, path string) bool

	// InitDepot initializes a new workspace at path. Workspaces without
	// a parent are caches that fetch from external origins; source, when
	// non-empty, is recorded as the default origin.
	InitDepot(ctx context.Context, path string, parent *Depot, source string) (*Depot, error)

	// CheckAvailability returns the subset of changesets not yet present
	// in the workspace at path.
	CheckAvailability(ctx context.Context, path string, changesets []string) ([]string, error)

	// GrabChangesets copies changesets into path from source, which may
	// be a remote URL or the filesystem path of another workspace.
	GrabChangesets(ctx context.Context, path, source string, changesets []string) error

	// Clear restores the workspace to a pristine, origin-equivalent
	// state: working tree reset, local-only refs and outgoing commits
	// discarded.
	Clear(ctx context.Context, path string) error

	// SetSource records the default upstream origin for the workspace.
	SetSource(ctx context.Context, path, source string) error

	// CleanupStaleLocks removes leftover VCS lock files from a crashed
	// process. Best effort; called before operations that might collide
	// with one.
	CleanupStaleLocks(ctx context.Context, path string) error
}
