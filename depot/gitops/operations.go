/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chainguard.dev/repoman/depot"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const (
	originRemote = "origin"

	// fetchRefSpec mirrors every ref from the source, so a depot holds
	// whatever its upstream holds.
	fetchRefSpec = "+refs/*:refs/*"
)

// Operations is the git backend. It is stateless per workspace and safe
// to share across all git depots.
type Operations struct {
	tokenSource oauth2.TokenSource
}

// Option configures Operations.
type Option func(*Operations)

// WithTokenSource installs an OAuth2 token source used to authenticate
// fetches from HTTPS origins. Local-path sources never use it.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *Operations) {
		o.tokenSource = ts
	}
}

// New constructs the git backend.
func New(opts ...Option) *Operations {
	o := &Operations{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Kind implements depot.Operations.
func (o *Operations) Kind() depot.Kind {
	return depot.KindGit
}

// IsDepot implements depot.Operations.
func (o *Operations) IsDepot(ctx context.Context, path string) bool {
	if _, err := git.PlainOpen(path); err != nil {
		clog.FromContext(ctx).Debugf("%s is not a git depot: %v", path, err)
		return false
	}
	return true
}

// InitDepot implements depot.Operations. Depots without a parent are
// caches and are initialized bare.
func (o *Operations) InitDepot(ctx context.Context, path string, parent *depot.Depot, source string) (*depot.Depot, error) {
	bare := parent == nil
	clog.FromContext(ctx).Infof("Initializing git depot %s (bare=%t)", path, bare)

	repo, err := git.PlainInit(path, bare)
	if err != nil {
		return nil, fmt.Errorf("initializing repository at %s: %w", path, err)
	}
	if source != "" {
		if err := setOrigin(repo, source); err != nil {
			return nil, fmt.Errorf("setting source of %s: %w", path, err)
		}
	}
	return depot.FromPath(ctx, path, parent, o)
}

// CheckAvailability implements depot.Operations. A changeset may be a
// branch name, tag, or revision id; whatever fails to resolve is missing.
func (o *Operations) CheckAvailability(ctx context.Context, path string, changesets []string) ([]string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}

	var missing []string
	for _, cs := range changesets {
		if _, err := repo.ResolveRevision(plumbing.Revision(cs)); err != nil {
			missing = append(missing, cs)
		}
	}
	clog.FromContext(ctx).Debugf("(%s) %d of %d changesets missing", path, len(missing), len(changesets))
	return missing, nil
}

// GrabChangesets implements depot.Operations. Source may be a remote URL
// or the filesystem path of another depot; either way the whole ref
// namespace of the source is fetched, which guarantees the requested
// changesets arrive if the source has them.
func (o *Operations) GrabChangesets(ctx context.Context, path, source string, changesets []string) error {
	log := clog.FromContext(ctx)
	log.Debugf("Grabbing changesets %s from %s into %s", strings.Join(changesets, ","), source, path)

	unlock, err := lockPath(path)
	if err != nil {
		return err
	}
	defer unlock()

	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("opening repository %s: %w", path, err)
	}
	if err := setOrigin(repo, source); err != nil {
		return fmt.Errorf("pointing origin of %s at %s: %w", path, source, err)
	}

	auth, err := o.authForSource(source)
	if err != nil {
		return fmt.Errorf("getting token for %s: %w", source, err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: originRemote,
		RefSpecs:   []gitconfig.RefSpec{fetchRefSpec},
		Auth:       auth,
		Force:      true,
		Tags:       git.AllTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching from %s: %w", source, err)
	}

	// Snapshot the post-fetch state so Clear can discard whatever a task
	// does to the refs afterwards.
	if err := saveState(path); err != nil {
		return fmt.Errorf("saving state of %s: %w", path, err)
	}
	log.Debugf("Done grabbing changesets into %s", path)
	return nil
}

// Clear implements depot.Operations. It restores the last snapshotted
// ref/HEAD state and resets the working copy, leaving the depot pristine
// for the next task.
func (o *Operations) Clear(ctx context.Context, path string) error {
	clog.FromContext(ctx).Debugf("Clearing depot %s", path)

	unlock, err := lockPath(path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := restoreState(path); err != nil {
		return fmt.Errorf("restoring state of %s: %w", path, err)
	}
	return clearWorkingCopy(path)
}

// SetSource implements depot.Operations.
func (o *Operations) SetSource(_ context.Context, path, source string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("opening repository %s: %w", path, err)
	}
	return setOrigin(repo, source)
}

// CleanupStaleLocks implements depot.Operations. A git index.lock left by
// a crashed process blocks every subsequent mutation, so it is removed
// before a depot is handed out.
func (o *Operations) CleanupStaleLocks(ctx context.Context, path string) error {
	dir, err := gitDir(path)
	if err != nil {
		return err
	}
	lock := filepath.Join(dir, "index.lock")
	if err := os.Remove(lock); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing stale lock %s: %w", lock, err)
	}
	clog.FromContext(ctx).Warnf("Removed stale git lock %s", lock)
	return nil
}

func (o *Operations) authForSource(source string) (transport.AuthMethod, error) {
	if o.tokenSource == nil || !strings.HasPrefix(source, "http") {
		return nil, nil
	}
	token, err := o.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// setOrigin points the origin remote at url and resets its refspec to
// mirror everything.
func setOrigin(repo *git.Repository, url string) error {
	if err := repo.DeleteRemote(originRemote); err != nil && !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("deleting origin remote: %w", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name:  originRemote,
		URLs:  []string{url},
		Fetch: []gitconfig.RefSpec{fetchRefSpec},
	}); err != nil {
		return fmt.Errorf("creating origin remote: %w", err)
	}
	return nil
}

// clearWorkingCopy hard-resets and cleans the working tree. With an
// unborn HEAD there is nothing to reset against, so everything except
// the git directory is removed instead. Bare depots have no working copy.
func clearWorkingCopy(path string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("opening repository %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	if _, err := repo.Head(); err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("resolving HEAD: %w", err)
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("listing %s: %w", path, err)
		}
		for _, e := range entries {
			if e.Name() == git.GitDirName {
				continue
			}
			if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
				return fmt.Errorf("removing %s: %w", e.Name(), err)
			}
		}
		return nil
	}

	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting worktree: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("cleaning worktree: %w", err)
	}
	return nil
}

// gitDir resolves the git directory for a depot path, which is the path
// itself for bare caches.
func gitDir(path string) (string, error) {
	dotGit := filepath.Join(path, git.GitDirName)
	if fi, err := os.Stat(dotGit); err == nil && fi.IsDir() {
		return dotGit, nil
	}
	if _, err := os.Stat(filepath.Join(path, "HEAD")); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no git directory under %s", path)
}
