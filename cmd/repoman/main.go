/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the repoman CLI, a thin operational surface
// over the clone pool for scripts and pipelines: acquire a workspace,
// release it, and inspect the roster.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chainguard.dev/repoman/depot"
	"chainguard.dev/repoman/depotmanager"
	"chainguard.dev/repoman/roster"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	Workspace    string        `env:"REPOMAN_WORKSPACE"`
	Kind         string        `env:"REPOMAN_KIND,default=git"`
	Source       string        `env:"REPOMAN_SOURCE"`
	MaxClones    int           `env:"REPOMAN_MAX_CLONES,default=12"`
	CloneTimeout time.Duration `env:"REPOMAN_CLONE_TIMEOUT,default=30m"`
}

// requireFlag accumulates repeated -require source=ref1,ref2 arguments
// into a requirement map.
type requireFlag struct {
	reqs depot.RequirementMap
}

func (r *requireFlag) String() string {
	return fmt.Sprintf("%v", r.reqs)
}

func (r *requireFlag) Set(v string) error {
	source, refs, ok := strings.Cut(v, "=")
	if !ok || source == "" || refs == "" {
		return fmt.Errorf("expected source=ref[,ref...], got %q", v)
	}
	if r.reqs == nil {
		r.reqs = depot.RequirementMap{}
	}
	r.reqs[source] = append(r.reqs[source], strings.Split(refs, ",")...)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}
	if cfg.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			clog.FatalContextf(ctx, "resolving home directory: %v", err)
		}
		cfg.Workspace = filepath.Join(home, ".repoman")
	}

	if len(os.Args) < 2 {
		usage()
	}

	m, err := depotmanager.New(ctx, cfg.Workspace,
		depotmanager.WithKind(depot.Kind(cfg.Kind)),
		depotmanager.WithSource(cfg.Source),
		depotmanager.WithMaxClones(cfg.MaxClones),
		depotmanager.WithCloneTimeout(cfg.CloneTimeout),
	)
	if err != nil {
		clog.FatalContextf(ctx, "opening clone pool at %s: %v", cfg.Workspace, err)
	}
	defer m.Close()

	switch os.Args[1] {
	case "acquire":
		acquire(ctx, m, os.Args[2:])
	case "release":
		release(ctx, m, os.Args[2:])
	case "list":
		list(ctx, m, os.Args[2:])
	default:
		usage()
	}
}

func acquire(ctx context.Context, m *depotmanager.Manager, args []string) {
	fs := flag.NewFlagSet("acquire", flag.ExitOnError)
	task := fs.String("task", "", "task GUID reserving the clone (default: random)")
	name := fs.String("name", "", "human-readable task label")
	source := fs.String("source", "", "default origin to record on the workspace")
	var reqs requireFlag
	fs.Var(&reqs, "require", "changesets to refresh, as source=ref[,ref...] (repeatable)")
	_ = fs.Parse(args)

	if *task == "" {
		*task = uuid.NewString()
	}
	if *name == "" {
		*name = *task
	}

	d, err := m.Acquire(ctx, *task, *name, reqs.reqs, *source)
	if err != nil {
		clog.FatalContextf(ctx, "acquiring clone: %v", err)
	}
	clog.InfoContextf(ctx, "Acquired %s for task %s", d.Path(), *task)
	fmt.Println(d.Path())
}

func release(ctx context.Context, m *depotmanager.Manager, args []string) {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	path := fs.String("path", "", "workspace path to release")
	task := fs.String("task", "", "task GUID that owns the reservation")
	_ = fs.Parse(args)

	if *path == "" || *task == "" {
		clog.FatalContextf(ctx, "release requires -path and -task")
	}

	d, err := m.AcquireByPath(ctx, *path)
	if err != nil {
		clog.FatalContextf(ctx, "opening workspace %s: %v", *path, err)
	}
	if err := m.Release(ctx, d, *task); err != nil {
		clog.FatalContextf(ctx, "releasing %s: %v", *path, err)
	}
}

func list(ctx context.Context, m *depotmanager.Manager, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	state := fs.String("state", "all", "filter: free, inuse, or all")
	_ = fs.Parse(args)

	var clones []*roster.Clone
	if *state == "free" || *state == "all" {
		free, err := m.Roster().Available(ctx)
		if err != nil {
			clog.FatalContextf(ctx, "listing free clones: %v", err)
		}
		clones = append(clones, free...)
	}
	if *state == "inuse" || *state == "all" {
		inUse, err := m.Roster().InUse(ctx)
		if err != nil {
			clog.FatalContextf(ctx, "listing in-use clones: %v", err)
		}
		clones = append(clones, inUse...)
	}

	for _, c := range clones {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
			c.Path, c.Status, c.Task, c.TaskName, c.Timestamp.Format(time.RFC3339))
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: repoman <command> [flags]

commands:
  acquire   reserve or provision a workspace clone
  release   clear a workspace and return it to the pool
  list      show roster records

The pool location and limits come from REPOMAN_* environment variables.
`)
	os.Exit(2)
}
