/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	refsDir      = "refs"
	refsPrevDir  = "refs.prev-state"
	headFile     = "HEAD"
	headPrevFile = "HEAD.prev-state"
)

// saveState snapshots the refs directory and HEAD inside the git
// directory. The snapshot is what Clear rolls back to, so it is taken
// right after a successful fetch, when the depot is origin-equivalent.
func saveState(path string) error {
	dir, err := gitDir(path)
	if err != nil {
		return err
	}

	prevRefs := filepath.Join(dir, refsPrevDir)
	if err := os.RemoveAll(prevRefs); err != nil {
		return fmt.Errorf("removing old refs snapshot: %w", err)
	}
	if err := copyDir(filepath.Join(dir, refsDir), prevRefs); err != nil {
		return fmt.Errorf("snapshotting refs: %w", err)
	}

	prevHead := filepath.Join(dir, headPrevFile)
	if err := os.RemoveAll(prevHead); err != nil {
		return fmt.Errorf("removing old HEAD snapshot: %w", err)
	}
	if err := copyFile(filepath.Join(dir, headFile), prevHead); err != nil {
		return fmt.Errorf("snapshotting HEAD: %w", err)
	}
	return nil
}

// restoreState replaces the refs directory and HEAD with the last
// snapshot. A depot that never fetched has no snapshot; it is restored
// to the state of a fresh init.
func restoreState(path string) error {
	dir, err := gitDir(path)
	if err != nil {
		return err
	}

	refs := filepath.Join(dir, refsDir)
	prevRefs := filepath.Join(dir, refsPrevDir)
	if err := os.RemoveAll(refs); err != nil {
		return fmt.Errorf("removing refs: %w", err)
	}
	if _, err := os.Stat(prevRefs); err == nil {
		if err := os.Rename(prevRefs, refs); err != nil {
			return fmt.Errorf("restoring refs snapshot: %w", err)
		}
	} else {
		for _, sub := range []string{"heads", "tags"} {
			if err := os.MkdirAll(filepath.Join(refs, sub), 0o755); err != nil {
				return fmt.Errorf("recreating refs/%s: %w", sub, err)
			}
		}
	}

	head := filepath.Join(dir, headFile)
	prevHead := filepath.Join(dir, headPrevFile)
	if _, err := os.Stat(prevHead); err == nil {
		if err := os.Remove(head); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing HEAD: %w", err)
		}
		if err := os.Rename(prevHead, head); err != nil {
			return fmt.Errorf("restoring HEAD snapshot: %w", err)
		}
	} else {
		// master may not exist, but this matches the HEAD of a fresh
		// init (or an init followed by a fetch that brought no master).
		if err := os.WriteFile(head, []byte("ref: refs/heads/master\n"), 0o644); err != nil {
			return fmt.Errorf("rewriting HEAD: %w", err)
		}
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
