/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package depot models one on-disk workspace clone as a node in a cache
// chain. A Depot optionally points at a parent Depot that acts as its
// upstream cache; the root of the chain (parent == nil) is the only node
// that fetches directly from external origins.
//
// Refresh implements the cascading algorithm: changesets already present
// are filtered out, missing ones are first pulled into the parent (making
// it authoritative), and then copied locally from the parent's path. Once
// the root cache is warm, a leaf's refresh cost is bounded by a same-host
// copy instead of a remote fetch.
//
// The VCS-specific mechanics live behind the Operations interface; see
// depot/gitops for the git implementation.
package depot
