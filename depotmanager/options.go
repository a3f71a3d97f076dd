/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depotmanager

import (
	"time"

	"chainguard.dev/repoman/depot"
	"golang.org/x/oauth2"
)

// Option configures a Manager.
type Option func(*Manager)

// WithKind selects the VCS backend. Defaults to git.
func WithKind(kind depot.Kind) Option {
	return func(m *Manager) {
		m.kind = kind
	}
}

// WithSource sets the default external origin recorded on the root cache
// when it is first initialized.
func WithSource(source string) Option {
	return func(m *Manager) {
		m.source = source
	}
}

// WithMaxClones caps the pool size.
func WithMaxClones(n int) Option {
	return func(m *Manager) {
		m.maxClones = n
	}
}

// WithCloneTimeout sets the staleness window after which an abandoned
// reservation is reclaimed.
func WithCloneTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.cloneTimeout = d
	}
}

// WithTokenSource installs an OAuth2 token source for authenticated
// fetches from HTTPS origins.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(m *Manager) {
		m.tokenSource = ts
	}
}

// WithOperations overrides the backend constructed from the kind. Useful
// for custom backends and tests.
func WithOperations(ops depot.Operations) Option {
	return func(m *Manager) {
		m.ops = ops
	}
}
