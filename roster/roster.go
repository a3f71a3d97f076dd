/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	_ "modernc.org/sqlite"
)

const (
	// DefaultMaxClones is the pool size cap applied when WithMaxClones
	// is not given.
	DefaultMaxClones = 12

	// DefaultCloneTimeout is the staleness window applied when
	// WithCloneTimeout is not given. Reservations older than this are
	// treated as abandoned by a crashed task.
	DefaultCloneTimeout = 30 * time.Minute
)

// Roster is the persisted reservation ledger. It is safe for use by
// concurrent callers in separate processes: every mutation is a single
// conditional statement, and the database's own locking serializes
// writers. No in-memory synchronization is used because it could not help
// across processes.
type Roster struct {
	db       *sql.DB
	location string

	maxClones    int
	cloneTimeout time.Duration

	// now is a test seam for staleness checks.
	now func() time.Time
}

// New opens (creating if needed) the roster database at location and
// ensures the clones table exists. Opening the same location from several
// processes is the intended mode of operation.
func New(ctx context.Context, location string, opts ...Option) (*Roster, error) {
	if location == "" {
		return nil, errors.New("roster location cannot be empty")
	}

	r := &Roster{
		location:     location,
		maxClones:    DefaultMaxClones,
		cloneTimeout: DefaultCloneTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := sql.Open("sqlite", location)
	if err != nil {
		return nil, fmt.Errorf("opening roster database: %w", err)
	}
	// One writer per process; cross-process serialization is the store's
	// job, and busy_timeout keeps contending processes from failing fast.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 60000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS clones (
  path      TEXT PRIMARY KEY,
  status    TEXT NOT NULL,
  task      TEXT NOT NULL,
  task_name TEXT NOT NULL,
  timestamp INTEGER NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating clones table: %w", err)
	}

	r.db = db
	return r, nil
}

// Close releases the underlying database handle.
func (r *Roster) Close() error {
	return r.db.Close()
}

// Location returns the path of the roster database file.
func (r *Roster) Location() string {
	return r.location
}

// Reserve atomically claims any FREE clone for the given task, stamping it
// INUSE with the current time. Exactly one of any set of concurrent
// callers wins a given record. Stale reservations are reclaimed first, so
// a clone abandoned by a crashed task can be handed to a new one.
// Returns ErrNoAvailable when no record could be claimed.
func (r *Roster) Reserve(ctx context.Context, task, taskName string) (*Clone, error) {
	switch {
	case task == "":
		return nil, errors.New("task cannot be empty")
	case taskName == "":
		return nil, errors.New("task name cannot be empty")
	}

	if err := r.reclaimStale(ctx); err != nil {
		return nil, err
	}

	stamp := r.now().UnixNano()
	res, err := r.db.ExecContext(ctx, `
UPDATE clones SET status = ?, task = ?, task_name = ?, timestamp = ?
WHERE path IN (SELECT path FROM clones WHERE status = ? LIMIT 1);`,
		StatusInUse, task, taskName, stamp, StatusFree)
	if err != nil {
		return nil, fmt.Errorf("reserving clone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reserving clone: %w", err)
	}
	if n == 0 {
		return nil, ErrNoAvailable
	}

	row := r.db.QueryRowContext(ctx, `
SELECT path, status, task, task_name, timestamp FROM clones
WHERE task = ? AND timestamp = ? AND status = ?;`,
		task, stamp, StatusInUse)
	clone, err := scanClone(row)
	if err != nil {
		return nil, fmt.Errorf("reading reserved clone: %w", err)
	}

	clog.FromContext(ctx).Debugf("Reserved clone %s for task %s (%s)", clone.Path, task, taskName)
	return clone, nil
}

// Free returns the clone at path to the pool. Freeing an already-FREE
// record is idempotent; freeing a record INUSE under a different task
// fails with ErrConflict and leaves the record unchanged.
func (r *Roster) Free(ctx context.Context, path, task string) error {
	switch {
	case path == "":
		return errors.New("path cannot be empty")
	case task == "":
		return errors.New("task cannot be empty")
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE clones SET status = ?, task = ?, timestamp = ?
WHERE path = ? AND (status = ? OR task = ?);`,
		StatusFree, task, r.now().UnixNano(), path, StatusFree, task)
	if err != nil {
		return fmt.Errorf("freeing clone %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("freeing clone %s: %w", path, err)
	}
	if n == 0 {
		owner, err := r.Get(ctx, path)
		if err != nil {
			return err
		}
		return fmt.Errorf("freeing clone %s held by task %s (%s): %w",
			path, owner.Task, owner.TaskName, ErrConflict)
	}

	clog.FromContext(ctx).Debugf("Freed clone %s (task %s)", path, task)
	return nil
}

// Add registers a brand-new clone as INUSE by the given task. Stale
// reservations are reclaimed first. Fails with ErrAlreadyExists if the
// path is tracked, or ErrLimitReached if the pool is at capacity.
func (r *Roster) Add(ctx context.Context, path, task, taskName string) (*Clone, error) {
	switch {
	case path == "":
		return nil, errors.New("path cannot be empty")
	case task == "":
		return nil, errors.New("task cannot be empty")
	case taskName == "":
		return nil, errors.New("task name cannot be empty")
	}

	if err := r.reclaimStale(ctx); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("adding clone %s: %w", path, err)
	}
	defer func() { _ = tx.Rollback() }()

	var present int
	if err := tx.QueryRowContext(ctx,
		"SELECT count(*) FROM clones WHERE path = ?;", path).Scan(&present); err != nil {
		return nil, fmt.Errorf("adding clone %s: %w", path, err)
	}
	if present > 0 {
		return nil, fmt.Errorf("adding clone %s: %w", path, ErrAlreadyExists)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM clones;").Scan(&total); err != nil {
		return nil, fmt.Errorf("adding clone %s: %w", path, err)
	}
	if total >= r.maxClones {
		return nil, fmt.Errorf("adding clone %s (%d of %d): %w",
			path, total, r.maxClones, ErrLimitReached)
	}

	stamp := r.now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO clones (path, status, task, task_name, timestamp) VALUES (?, ?, ?, ?, ?);",
		path, StatusInUse, task, taskName, stamp); err != nil {
		return nil, fmt.Errorf("adding clone %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("adding clone %s: %w", path, err)
	}

	clog.FromContext(ctx).Debugf("Added clone %s for task %s (%s)", path, task, taskName)
	return r.Get(ctx, path)
}

// Remove deletes the record at path permanently. Removing an untracked
// path is a no-op.
func (r *Roster) Remove(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("path cannot be empty")
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM clones WHERE path = ?;", path); err != nil {
		return fmt.Errorf("removing clone %s: %w", path, err)
	}
	return nil
}

// Get returns the record at path, or ErrNotFound.
func (r *Roster) Get(ctx context.Context, path string) (*Clone, error) {
	if path == "" {
		return nil, errors.New("path cannot be empty")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT path, status, task, task_name, timestamp FROM clones WHERE path = ?;`, path)
	return scanClone(row)
}

// Available returns a snapshot of all FREE records.
func (r *Roster) Available(ctx context.Context) ([]*Clone, error) {
	return r.byStatus(ctx, StatusFree)
}

// InUse returns a snapshot of all INUSE records.
func (r *Roster) InUse(ctx context.Context) ([]*Clone, error) {
	return r.byStatus(ctx, StatusInUse)
}

func (r *Roster) byStatus(ctx context.Context, status Status) ([]*Clone, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT path, status, task, task_name, timestamp FROM clones WHERE status = ?;`, status)
	if err != nil {
		return nil, fmt.Errorf("listing %s clones: %w", status, err)
	}
	defer rows.Close()

	var clones []*Clone
	for rows.Next() {
		c, err := scanClone(rows)
		if err != nil {
			return nil, err
		}
		clones = append(clones, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s clones: %w", status, err)
	}
	return clones, nil
}

// reclaimStale force-frees records whose reservation is older than the
// clone timeout. Ownership is reset, not removed, so the workspace stays
// in the pool. This deliberately has no liveness probe: a slow task that
// outlives the timeout loses its reservation, and its eventual Free will
// fail with ErrConflict once the clone is reassigned.
func (r *Roster) reclaimStale(ctx context.Context) error {
	cutoff := r.now().Add(-r.cloneTimeout).UnixNano()
	res, err := r.db.ExecContext(ctx, `
UPDATE clones SET status = ?, timestamp = ?
WHERE status = ? AND timestamp < ?;`,
		StatusFree, r.now().UnixNano(), StatusInUse, cutoff)
	if err != nil {
		return fmt.Errorf("reclaiming stale clones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reclaiming stale clones: %w", err)
	}
	if n > 0 {
		clog.FromContext(ctx).Warnf("Reclaimed %d stale clones older than %s", n, r.cloneTimeout)
		staleReclaims.Add(float64(n))
	}
	return nil
}
