// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package syncer implements the periodic reconciliation loop described in
// spec.md §4.9: pull remote snapshots, resolve divergence by three-way
// merge, and apply the resulting tree to the local filesystem.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/dag"
	"github.com/rosycloud/rosycloud/internal/engine"
	"github.com/rosycloud/rosycloud/internal/merge"
	"github.com/rosycloud/rosycloud/internal/pointerstore"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// Syncer runs the periodic tick described in spec.md §4.9 against a set of
// backends, reconciling them into the engine's materialized hierarchy and
// the local filesystem tree rooted at LocalRoot.
type Syncer struct {
	ctx       *engine.Context
	backends  []store.Backend
	pointers  *pointerstore.Store
	localRoot string
	period    time.Duration
	log       *slog.Logger
}

// New returns a Syncer. period of zero disables the repeat timer — Run
// then performs exactly one tick and returns.
func New(ectx *engine.Context, backends []store.Backend, pointers *pointerstore.Store, localRoot string, period time.Duration, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{ctx: ectx, backends: backends, pointers: pointers, localRoot: localRoot, period: period, log: log}
}

// Run drives the sync loop until ctx is cancelled. If the syncer was
// constructed with period == 0, it ticks exactly once.
func (s *Syncer) Run(ctx context.Context) error {
	if s.period <= 0 {
		return s.Tick(ctx)
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			s.log.Error("sync tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one full reconciliation pass, steps 1-7 of spec.md §4.9.
func (s *Syncer) Tick(ctx context.Context) error {
	s.ctx.Lock()
	defer s.ctx.Unlock()

	// Step 1: gate out the mutator for the duration of this pass.
	s.ctx.SetSource(false)
	defer s.ctx.SetSource(true) // step 7, always re-armed even on error.

	// Step 2-3: pull every backend's snapshot set and recompute DAG roots
	// over the union.
	allSnapshots := dag.Snapshots{}
	for _, b := range s.backends {
		roots, snaps, err := dag.TreeSnapshot(ctx, b)
		if err != nil {
			return fmt.Errorf("syncer: tree_snapshot: %w", err)
		}
		for id, snap := range snaps {
			allSnapshots[id] = snap
		}
		_ = roots // per-backend roots are superseded by the union's below.
	}

	roots := unionRoots(allSnapshots)

	previousRoot := s.ctx.RootHash()
	previousHierarchy := s.ctx.Hierarchy()

	var newRootHash chash.Hash
	var newSnapshotID chash.Hash

	switch len(roots) {
	case 0:
		return nil // nothing to sync yet.

	case 1:
		newSnapshotID = roots[0]
		newRootHash = allSnapshots[newSnapshotID].Root

		// The winning snapshot may so far exist on only the one backend
		// that produced it. Replicate its whole tree and the snapshot
		// record itself to every backend so testable property 7
		// (|roots| == 1 on every backend) actually holds afterward.
		ffHierarchy, err := s.loadHierarchyFromAny(ctx, newRootHash)
		if err != nil {
			return fmt.Errorf("syncer: load fast-forward hierarchy: %w", err)
		}
		dirs := make([]*record.Dir, 0, len(ffHierarchy))
		for _, d := range ffHierarchy {
			dirs = append(dirs, d)
		}
		if err := s.uploadAll(ctx, dirs); err != nil {
			return err
		}
		if _, err := s.appendSnapshotAll(ctx, allSnapshots[newSnapshotID]); err != nil {
			return fmt.Errorf("syncer: replicate fast-forward snapshot: %w", err)
		}

	case 2:
		lcaID, _ := dag.LCA(roots[0], roots[1], allSnapshots)

		h1, err := s.loadHierarchyFromAny(ctx, allSnapshots[roots[0]].Root)
		if err != nil {
			return fmt.Errorf("syncer: load branch1 hierarchy: %w", err)
		}
		h2, err := s.loadHierarchyFromAny(ctx, allSnapshots[roots[1]].Root)
		if err != nil {
			return fmt.Errorf("syncer: load branch2 hierarchy: %w", err)
		}
		baseRoot := chash.Empty
		if baseSnap, ok := allSnapshots[lcaID]; ok {
			baseRoot = baseSnap.Root
		}
		h0, err := s.loadHierarchyFromAny(ctx, baseRoot)
		if err != nil {
			return fmt.Errorf("syncer: load base hierarchy: %w", err)
		}

		d1, _ := h1.Get(allSnapshots[roots[0]].Root)
		d2, _ := h2.Get(allSnapshots[roots[1]].Root)
		d0, _ := h0.Get(baseRoot)

		mergedRoot, newDirs, err := merge.Root(d1, d2, d0, h1, h2, h0, s.ctx.Decor)
		if err != nil {
			return fmt.Errorf("syncer: merge: %w", err)
		}

		if err := s.uploadAll(ctx, newDirs); err != nil {
			return err
		}

		mergeSnap := record.Snapshot{Root: mergedRoot, Parents: []chash.Hash{roots[0], roots[1]}}
		newSnapshotID, err = s.appendSnapshotAll(ctx, mergeSnap)
		if err != nil {
			return fmt.Errorf("syncer: append merge snapshot: %w", err)
		}
		newRootHash = mergedRoot

	default:
		return fmt.Errorf("syncer: %d-way divergence is out of scope (spec.md §4.5)", len(roots))
	}

	// Step 5: load the new root's hierarchy and diff-apply to local disk.
	newHierarchy, err := s.loadHierarchyFromAny(ctx, newRootHash)
	if err != nil {
		return fmt.Errorf("syncer: load new hierarchy: %w", err)
	}

	newDir, _ := newHierarchy.Get(newRootHash)
	var oldDir *record.Dir
	if previousHierarchy != nil {
		oldDir, _ = previousHierarchy.Get(previousRoot)
	}
	if oldDir == nil {
		oldDir = record.NewDir()
	}

	if err := s.applyToDisk(ctx, s.localRoot, newDir, oldDir, newHierarchy, previousHierarchy); err != nil {
		return fmt.Errorf("syncer: apply to disk: %w", err)
	}

	// Step 6: publish.
	s.ctx.SetHierarchy(newHierarchy)
	s.ctx.Install(newSnapshotID, newRootHash)
	if s.pointers != nil {
		if err := s.pointers.SetRoot(newSnapshotID); err != nil {
			return fmt.Errorf("syncer: publish pointer: %w", err)
		}
	}

	return nil
}

func (s *Syncer) primaryBackend() store.Backend {
	return s.backends[0]
}

// loadHierarchyFromAny loads the hierarchy rooted at root from whichever
// configured backend actually holds it. A fast-forward or merge branch may
// have been produced on any one backend before the others have seen it, so
// the primary backend alone cannot be assumed to have every root in play.
func (s *Syncer) loadHierarchyFromAny(ctx context.Context, root chash.Hash) (tree.Hierarchy, error) {
	var lastErr error
	for _, b := range s.backends {
		h, err := tree.Load(ctx, b, s.ctx.Decor, root)
		if err == nil {
			return h, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("root %s not found on any backend: %w", root, lastErr)
}

// appendSnapshotAll appends snap to every configured backend. Every backend
// computes the same content-addressed id for identical snapshot bytes, so
// the id returned by the last backend is the same one every other backend
// just produced.
func (s *Syncer) appendSnapshotAll(ctx context.Context, snap record.Snapshot) (chash.Hash, error) {
	var id chash.Hash
	for _, b := range s.backends {
		appended, err := b.AppendSnapshot(ctx, snap)
		if err != nil {
			return "", err
		}
		id = appended
	}
	return id, nil
}

func (s *Syncer) uploadAll(ctx context.Context, dirs []*record.Dir) error {
	for _, d := range dirs {
		plain, err := d.Encode()
		if err != nil {
			return fmt.Errorf("syncer: encode merged directory: %w", err)
		}
		decorated, err := s.ctx.Decor.Decorate(plain)
		if err != nil {
			return fmt.Errorf("syncer: decorate merged directory: %w", err)
		}
		hash := chash.Sum(decorated)
		for _, b := range s.backends {
			if err := b.Store(ctx, hash, decorated); err != nil {
				return fmt.Errorf("syncer: store merged directory: %w", err)
			}
		}
		s.ctx.PutDir(hash, d)
	}
	return nil
}

// applyToDisk walks newDir and oldDir in pre-order, applying created,
// updated and removed entries to localPath, then recurses into
// subdirectories — spec.md §4.9 step 5.
func (s *Syncer) applyToDisk(ctx context.Context, localPath string, newDir, oldDir *record.Dir, newHier, oldHier tree.Hierarchy) error {
	created, updated, removed := newDir.Diff(oldDir)

	for _, e := range removed {
		p := filepath.Join(localPath, e.Fname)
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("syncer: remove %s: %w", p, err)
		}
	}

	for _, e := range append(created, updated...) {
		p := filepath.Join(localPath, e.Fname)
		if e.IsDir() {
			if err := os.MkdirAll(p, 0o755); err != nil {
				return fmt.Errorf("syncer: mkdir %s: %w", p, err)
			}
			continue
		}
		if err := s.retrieveToFile(ctx, e.ObjID, p); err != nil {
			return fmt.Errorf("syncer: retrieve %s: %w", p, err)
		}
	}

	for name, e := range newDir.Entries {
		if !e.IsDir() {
			continue
		}
		sub, ok := newHier.Get(e.ObjID)
		if !ok {
			continue
		}
		var oldSub *record.Dir
		if oe, existed := oldDir.Get(name); existed && oldHier != nil {
			oldSub, _ = oldHier.Get(oe.ObjID)
		}
		if oldSub == nil {
			oldSub = record.NewDir()
		}
		if err := s.applyToDisk(ctx, filepath.Join(localPath, name), sub, oldSub, newHier, oldHier); err != nil {
			return err
		}
	}

	return nil
}

func (s *Syncer) retrieveToFile(ctx context.Context, id chash.Hash, path string) error {
	if id.IsEmpty() {
		return os.WriteFile(path, nil, 0o644)
	}
	decorated, err := s.primaryBackend().Retrieve(ctx, id)
	if err != nil {
		return err
	}
	plain, err := s.ctx.Decor.Undecorate(decorated)
	if err != nil {
		return &store.DecoratorError{Op: "undecorate " + id.String(), Err: err}
	}
	return os.WriteFile(path, plain, 0o644)
}

func unionRoots(snapshots dag.Snapshots) []chash.Hash {
	isParent := make(map[chash.Hash]bool, len(snapshots))
	for _, snap := range snapshots {
		for _, p := range snap.Parents {
			isParent[p] = true
		}
	}
	var roots []chash.Hash
	for id := range snapshots {
		if !isParent[id] {
			roots = append(roots, id)
		}
	}
	return roots
}
