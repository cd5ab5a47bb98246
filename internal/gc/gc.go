// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package gc implements the two pruning policies of spec.md §4.10:
// KEEP_ONE collapses the whole snapshot set to the current root; KEEP_LANDMARK
// walks the primary parent chain, keeping only landmark snapshots, rewrites
// the survivors into a linear chain, then sweeps every blob no surviving
// snapshot's tree reaches.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/dag"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// LongTermTimeDelta is the staleness window past which a non-marked
// snapshot is promoted to landmark anyway, per spec.md §4.10.
const LongTermTimeDelta = 24 * time.Hour

// Policy selects which pruning rule Run applies.
type Policy int

const (
	// KeepOne retains only the current root snapshot.
	KeepOne Policy = iota
	// KeepLandmark retains marked snapshots and any snapshot whose
	// timestamp is more than LongTermTimeDelta from the prior landmark.
	KeepLandmark
)

// Run prunes backend's snapshot set under policy, rooted at current, then
// sweeps every blob unreachable from the surviving snapshots.
func Run(ctx context.Context, backend store.Backend, dec decorator.Decorator, current chash.Hash, policy Policy) error {
	timestamps, err := backend.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("gc: list snapshots: %w", err)
	}
	snapshots := make(dag.Snapshots, len(timestamps))
	for id := range timestamps {
		snap, err := backend.GetSnapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("gc: get snapshot %s: %w", id, err)
		}
		snapshots[id] = snap
	}

	var survivors []chash.Hash
	switch policy {
	case KeepOne:
		survivors = []chash.Hash{current}
	case KeepLandmark:
		survivors = landmarks(current, snapshots, timestamps)
	default:
		return fmt.Errorf("gc: unknown policy %d", policy)
	}

	survivorSet := make(map[chash.Hash]bool, len(survivors))
	for _, id := range survivors {
		survivorSet[id] = true
	}
	for id := range snapshots {
		if !survivorSet[id] {
			if err := backend.RemoveSnapshot(ctx, id); err != nil {
				return fmt.Errorf("gc: remove snapshot %s: %w", id, err)
			}
		}
	}

	if policy == KeepLandmark {
		if err := relink(ctx, backend, survivors, snapshots); err != nil {
			return err
		}
	}

	return sweep(ctx, backend, dec, survivors, snapshots)
}

// landmarks walks the primary-parent chain from current (spec.md §4.10:
// parents[0], or the LCA of both parents for a merge snapshot), collecting
// every snapshot that is either marked or separated from the previous
// landmark by more than LongTermTimeDelta.
func landmarks(current chash.Hash, snapshots dag.Snapshots, timestamps map[chash.Hash]time.Time) []chash.Hash {
	var out []chash.Hash
	var lastLandmarkTime time.Time
	haveLast := false

	id := current
	for {
		snap, ok := snapshots[id]
		if !ok {
			break
		}

		ts := timestamps[id]
		promote := snap.Marked() || !haveLast || absDuration(ts.Sub(lastLandmarkTime)) > LongTermTimeDelta
		if promote {
			out = append(out, id)
			lastLandmarkTime = ts
			haveLast = true
		}

		next := primaryParent(snap, snapshots)
		if next == "" {
			break
		}
		id = next
	}

	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// primaryParent returns the snapshot to follow next while walking toward
// the root of history: parents[0] for an ordinary snapshot, or the LCA of
// both parents for a merge snapshot (len(Parents) == 2), per spec.md §4.10.
func primaryParent(snap record.Snapshot, snapshots dag.Snapshots) chash.Hash {
	switch len(snap.Parents) {
	case 0:
		return ""
	case 1:
		return snap.Parents[0]
	default:
		lcaID, _ := dag.LCA(snap.Parents[0], snap.Parents[1], snapshots)
		return lcaID
	}
}

// relink rewrites the surviving landmark snapshots into a linear chain:
// each one's parents becomes [previous landmark] and its marked bit is
// set, per spec.md §4.10. survivors is ordered from newest (current) to
// oldest, matching landmarks' walk order, but the rewrite must proceed
// oldest to newest: appending a snapshot mints it a new content-addressed
// id, so a child can only be linked to its parent's *new* id once that
// parent has actually been re-appended under it.
func relink(ctx context.Context, backend store.Backend, survivors []chash.Hash, snapshots dag.Snapshots) error {
	var prevNewID chash.Hash
	for i := len(survivors) - 1; i >= 0; i-- {
		id := survivors[i]
		snap := snapshots[id]
		snap.Mark()
		if prevNewID != "" {
			snap.Parents = []chash.Hash{prevNewID}
		} else {
			snap.Parents = nil
		}

		if err := backend.RemoveSnapshot(ctx, id); err != nil {
			return fmt.Errorf("gc: remove pre-relink snapshot %s: %w", id, err)
		}
		newID, err := backend.AppendSnapshot(ctx, snap)
		if err != nil {
			return fmt.Errorf("gc: append relinked snapshot: %w", err)
		}
		snapshots[newID] = snap
		prevNewID = newID
	}
	return nil
}

// sweep computes the union of blobs reachable from every surviving
// snapshot's directory tree and removes everything backend.ListObjects
// reports that isn't in that set, per spec.md §4.10's closing sentence.
func sweep(ctx context.Context, backend store.Backend, dec decorator.Decorator, survivors []chash.Hash, snapshots dag.Snapshots) error {
	reachable := make(map[chash.Hash]bool)
	for _, id := range survivors {
		snap, ok := snapshots[id]
		if !ok {
			continue
		}
		h, err := tree.Load(ctx, backend, dec, snap.Root)
		if err != nil {
			return fmt.Errorf("gc: load hierarchy for %s: %w", id, err)
		}
		for dirHash, dir := range h {
			reachable[dirHash] = true
			for _, e := range dir.Entries {
				if !e.IsDir() {
					reachable[e.ObjID] = true
				}
			}
		}
	}

	all, err := backend.ListObjects(ctx)
	if err != nil {
		return fmt.Errorf("gc: list objects: %w", err)
	}
	for _, id := range all {
		if id.IsEmpty() || reachable[id] {
			continue
		}
		if err := backend.Remove(ctx, id); err != nil {
			return fmt.Errorf("gc: remove unreachable blob %s: %w", id, err)
		}
	}
	return nil
}
