/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package roster

import "time"

// Option configures a Roster.
type Option func(*Roster)

// WithMaxClones caps the number of records the roster will hold.
func WithMaxClones(n int) Option {
	return func(r *Roster) {
		r.maxClones = n
	}
}

// WithCloneTimeout sets the age after which an INUSE record is considered
// abandoned and eligible for reclamation.
func WithCloneTimeout(d time.Duration) Option {
	return func(r *Roster) {
		r.cloneTimeout = d
	}
}
