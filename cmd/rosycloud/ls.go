// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/dag"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// lsCmd implements the original's tools/ls.py: every snapshot, on every
// configured backend, that resolves path is printed newest first.
type lsCmd struct {
	Path string `arg:"" help:"Path to list, relative to the synced tree root."`
}

func (c *lsCmd) Run(a *app) error {
	ctx := context.Background()

	for _, cloud := range a.order {
		b := a.backends[cloud]

		_, snapshots, err := dag.TreeSnapshot(ctx, b)
		if err != nil {
			return fmt.Errorf("ls: %s: %w", cloud, err)
		}
		timestamps, err := b.ListSnapshots(ctx)
		if err != nil {
			return fmt.Errorf("ls: %s: %w", cloud, err)
		}

		ids := make([]chash.Hash, 0, len(snapshots))
		for id := range snapshots {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return timestamps[ids[i]].After(timestamps[ids[j]]) })

		for _, id := range ids {
			snap := snapshots[id]
			h, err := tree.Load(ctx, b, a.dec, snap.Root)
			if err != nil {
				continue
			}
			entry, err := resolvePath(h, snap.Root, c.Path)
			if err != nil {
				continue
			}
			fmt.Printf("%s\t%s\t%s\t%d\t%s\n",
				cloud, id, timestamps[id].Format(time.RFC3339), entry.Fsize, entry.ObjID)
		}
	}

	return nil
}
