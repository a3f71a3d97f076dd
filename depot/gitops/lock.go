/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitops

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// lockPath takes a blocking exclusive flock scoped to the depot at path,
// serializing fetches and clears against one git directory across
// processes. This is a physical lock protecting git's on-disk state; the
// roster's logical reservation lock is a separate concern.
func lockPath(path string) (func(), error) {
	dir, err := gitDir(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, "repoman.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening depot lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locking depot %s: %w", path, err)
	}

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
