/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package depotmanager is the public entry point of the clone pool. A
// Manager owns a working root directory containing a bare root cache, a
// SQLite roster, and a pool of workspace clones that tasks borrow and
// return:
//   - Acquire reserves a free clone from the roster, or provisions a new
//     workspace chained to the root cache when none is free.
//   - Release clears the workspace back to a pristine state and frees its
//     roster record.
//   - AcquireByPath re-wraps an existing workspace without touching the
//     roster, for pipelines that hand a clone between steps by path.
//
// Construct one Manager per process with explicit configuration; the
// bootstrap is idempotent, so many processes can share one working root
// and coordinate purely through the roster.
package depotmanager
