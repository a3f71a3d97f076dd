/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package roster

import "errors"

var (
	// ErrNoAvailable is returned by Reserve when no clone is FREE.
	// Callers typically react by provisioning a new clone.
	ErrNoAvailable = errors.New("no available clones")

	// ErrLimitReached is returned by Add when registering another clone
	// would exceed the pool's maximum size.
	ErrLimitReached = errors.New("max limit of clones reached")

	// ErrAlreadyExists is returned by Add when the path is already
	// tracked by the roster.
	ErrAlreadyExists = errors.New("clone is already in the roster")

	// ErrConflict is returned when a mutation targets a record owned by
	// a different task. Ownership conflicts are always surfaced, never
	// silently resolved.
	ErrConflict = errors.New("clone reserved by another task")

	// ErrNotFound is returned when no record exists for the given path.
	ErrNotFound = errors.New("clone not found in roster")
)
