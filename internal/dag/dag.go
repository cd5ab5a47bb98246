// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package dag computes the snapshot DAG's roots and, in the two-root
// divergence case, the lowest common ancestor of those roots, per
// spec.md §4.5.
package dag

import (
	"context"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

// Snapshots is the full id -> Snapshot map for a backend (or the union
// across several).
type Snapshots map[chash.Hash]record.Snapshot

// TreeSnapshot returns every snapshot known to backend together with the
// subset of ids that are roots: ids that are nobody's parent. Under
// convergence there is exactly one root.
func TreeSnapshot(ctx context.Context, backend store.Backend) (roots []chash.Hash, snapshots Snapshots, err error) {
	ids, err := backend.ListSnapshots(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("dag: list snapshots: %w", err)
	}

	snapshots = make(Snapshots, len(ids))
	isParent := make(map[chash.Hash]bool, len(ids))
	for id := range ids {
		snap, err := backend.GetSnapshot(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("dag: get snapshot %s: %w", id, err)
		}
		snapshots[id] = snap
		for _, p := range snap.Parents {
			isParent[p] = true
		}
	}

	for id := range snapshots {
		if !isParent[id] {
			roots = append(roots, id)
		}
	}
	return roots, snapshots, nil
}

// EmptyLCA is the synthetic ancestor used when r1 and r2 share no common
// ancestor: a snapshot whose root is the empty directory.
var EmptyLCA = record.Snapshot{Root: chash.Empty}

// LCA finds the lowest common ancestor of r1 and r2 within snapshots, per
// spec.md §4.5: a full breadth-expansion of r1's ancestry, then a
// short-circuiting breadth-expansion of r2's ancestry that returns on the
// first hit in r1's ancestor set.
//
// If no ancestor is shared, EmptyLCA's id (the hash of its own encoding)
// is returned together with EmptyLCA itself, so callers can both persist
// and look the synthetic snapshot up in a uniform way.
func LCA(r1, r2 chash.Hash, snapshots Snapshots) (chash.Hash, record.Snapshot) {
	ancestors1 := ancestorSet(r1, snapshots)

	visited := map[chash.Hash]bool{}
	queue := []chash.Hash{r2}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		if ancestors1[id] {
			return id, snapshots[id]
		}

		snap, ok := snapshots[id]
		if !ok {
			continue
		}
		queue = append(queue, snap.Parents...)
	}

	return chash.Sum(EmptyLCA.Encode()), EmptyLCA
}

// ancestorSet returns every id transitively reachable from root via
// Parents, including root itself.
func ancestorSet(root chash.Hash, snapshots Snapshots) map[chash.Hash]bool {
	seen := map[chash.Hash]bool{}
	queue := []chash.Hash{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		snap, ok := snapshots[id]
		if !ok {
			continue
		}
		queue = append(queue, snap.Parents...)
	}
	return seen
}
