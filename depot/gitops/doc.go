/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitops implements depot.Operations for git using go-git.
//
// Root caches are bare repositories; pool workspaces are regular clones.
// Every fetch points the origin remote at the requested source with a
// +refs/*:refs/* refspec, so a workspace mirrors whatever its upstream
// (external origin or parent cache) knows. After each successful fetch
// the ref and HEAD state is snapshotted inside the git directory; Clear
// restores that snapshot, which discards local branches, tags, and
// outgoing-only commits along with any working tree changes.
//
// Fetches and clears against one path are serialized with a flock(2)
// advisory lock scoped to that path, protecting the shared root cache
// from concurrent children corrupting its git directory.
package gitops
