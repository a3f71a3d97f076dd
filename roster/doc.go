/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package roster tracks the reservation state of every managed workspace
// clone in a SQLite-backed table. The roster is the single source of truth
// for pool membership and ownership: callers in separate processes all
// mutate the same database file, and every mutation is expressed as a
// single conditional write so that two processes racing for the same clone
// can never both win.
//
// A clone record moves between two states: FREE (ownerless, reservable by
// anyone) and INUSE (owned by exactly one task, identified by its task
// GUID). Records whose timestamp is older than the configured clone
// timeout are considered abandoned and are force-freed before new
// reservations or additions proceed, bounding pool exhaustion from
// crashed tasks.
package roster
