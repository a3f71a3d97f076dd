/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package roster

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status describes whether a clone is reservable.
type Status string

const (
	// StatusFree marks a clone as ownerless and reservable by any task.
	StatusFree Status = "FREE"
	// StatusInUse marks a clone as exclusively owned by one task.
	StatusInUse Status = "INUSE"
)

// Clone is one row of the roster: a managed on-disk workspace and its
// reservation state. Path doubles as the record's primary key and the
// workspace's filesystem location.
type Clone struct {
	Path      string
	Status    Status
	Task      string
	TaskName  string
	Timestamp time.Time
}

func (c *Clone) String() string {
	return fmt.Sprintf("%s [%s] task=%s (%s)", c.Path, c.Status, c.Task, c.TaskName)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanClone(s scanner) (*Clone, error) {
	var c Clone
	var status string
	var nanos int64
	if err := s.Scan(&c.Path, &status, &c.Task, &c.TaskName, &nanos); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning clone row: %w", err)
	}
	c.Status = Status(status)
	c.Timestamp = time.Unix(0, nanos)
	return &c, nil
}
