// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rosycloud/rosycloud/internal/engine"
	"github.com/rosycloud/rosycloud/internal/mutate"
	"github.com/rosycloud/rosycloud/internal/store"
	"github.com/rosycloud/rosycloud/internal/syncer"
	"github.com/rosycloud/rosycloud/internal/watch"
)

const defaultSyncInterval = 60 * time.Second

// startCmd runs the long-lived daemon: a watcher feeding the Merkle mutator
// against the primary backend, and a periodic syncer reconciling every
// configured backend, both sharing one engine.Context, per spec.md §5's
// "source" flag protocol.
type startCmd struct{}

func (c *startCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendList := make([]store.Backend, 0, len(a.order))
	for _, cloud := range a.order {
		backendList = append(backendList, a.backends[cloud])
	}

	ectx := engine.New(backendList[0], a.dec, backendList[1:]...)

	if root, err := a.pointers.Root(); err == nil && root != "" {
		snap, err := a.primaryBackend().GetSnapshot(ctx, root)
		if err == nil {
			ectx.Lock()
			if err := ectx.RefreshHierarchy(ctx, root, snap.Root); err != nil {
				ectx.Unlock()
				return fmt.Errorf("start: refresh hierarchy: %w", err)
			}
			ectx.Unlock()
		} else if !store.IsNotFound(err) {
			return fmt.Errorf("start: load current snapshot: %w", err)
		}
	}

	excludes, err := loadExcludes(a.global.Map["EXCLUDE_FILE"])
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	mut := mutate.New(ectx, a.global.SysTmp, excludes, a.log)

	w, err := watch.New(ctx, a.global.SrcDir, a.log)
	if err != nil {
		return fmt.Errorf("start: watch %s: %w", a.global.SrcDir, err)
	}
	defer w.Close()

	interval := defaultSyncInterval
	if raw, ok := a.global.Map["INTERVAL"]; ok && raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			interval = time.Duration(secs) * time.Second
		}
	}

	sy := syncer.New(ectx, backendList, a.pointers, a.global.SrcDir, interval, a.log)

	syncDone := make(chan error, 1)
	go func() { syncDone <- sy.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			if err := <-syncDone; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case ev := <-w.Events:
			if err := mut.Handle(ctx, ev); err != nil {
				a.log.Error("mutate handle failed", "err", err)
			}
		case werr := <-w.Errors:
			a.log.Error("watch error", "err", werr)
		}
	}
}

// loadExcludes reads one glob pattern per line from path, matching
// spec.md §6's EXCLUDE_FILE config key. An empty path means no exclusions.
func loadExcludes(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open EXCLUDE_FILE %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}
