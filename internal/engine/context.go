// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package engine holds the explicit state object that replaces the three
// global mutables of the original implementation (current root snapshot
// pointer, hierarchy map cache, "source" flag), per spec.md §9 Design
// Notes. Every component that used to reach for process globals instead
// takes a *Context.
package engine

import (
	"context"
	"sync"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// Context is the shared state one running instance of the engine operates
// on. It owns the single hierarchy mutex spec.md §5 requires to be held for
// the entire duration of an upward Merkle rebuild, a sync-orchestrator
// merge, or a GC pass.
type Context struct {
	// mu guards currentSnapshot, rootHash, hierarchy and source together:
	// spec.md §5 requires them to change as one atomic unit from the point of
	// view of any concurrent reader.
	mu sync.Mutex

	// currentSnapshot is the id of the last snapshot this context appended
	// or installed; empty until the very first snapshot exists.
	currentSnapshot chash.Hash

	// rootHash is the directory hash currentSnapshot's Root field names —
	// the root of the materialized hierarchy below.
	rootHash  chash.Hash
	hierarchy tree.Hierarchy

	// source is true while local filesystem events should be allowed to
	// flow into the mutator, and false for the duration of a sync
	// orchestrator write pass, so remote-applied changes don't loop back
	// as if the user made them.
	source bool

	// Backend is the primary backend: reads (hierarchy loads, snapshot
	// lookups) always go through it.
	Backend store.Backend
	// Backends is every configured backend, primary first. Writes that
	// must replicate everywhere — new blobs and new snapshots produced by
	// a local mutation, per spec.md §2/§4.8 — fan out across all of them.
	Backends []store.Backend
	Decor    decorator.Decorator
}

// New returns a Context with the mutator armed (Source() == true) and an
// empty hierarchy, ready to be populated by the first RefreshHierarchy (or
// by the mutator's PutDir calls on a fresh tree). backend is
// the primary; replicas are any additional configured backends writes
// should also fan out to.
func New(backend store.Backend, dec decorator.Decorator, replicas ...store.Backend) *Context {
	return &Context{
		source:   true,
		Backend:  backend,
		Backends: append([]store.Backend{backend}, replicas...),
		Decor:    dec,
	}
}

// Lock acquires the hierarchy mutex. Callers must Unlock when the critical
// section — Merkle rebuild, merge, or GC pass — completes.
func (c *Context) Lock() { c.mu.Lock() }

// Unlock releases the hierarchy mutex.
func (c *Context) Unlock() { c.mu.Unlock() }

// Source reports whether locally observed filesystem events should feed
// the mutator. Callers must hold the lock.
func (c *Context) Source() bool { return c.source }

// SetSource sets the source flag. Per spec.md §5 this must happen
// synchronously before (false) and after (true) any sync-side filesystem
// write; callers must hold the lock across that entire span.
func (c *Context) SetSource(v bool) { c.source = v }

// CurrentSnapshot returns the id of the last snapshot installed into this
// context, or the empty Hash ("") if none has been appended yet. Callers
// must hold the lock.
func (c *Context) CurrentSnapshot() chash.Hash { return c.currentSnapshot }

// RootHash returns the directory hash the current snapshot names as its
// root. Callers must hold the lock.
func (c *Context) RootHash() chash.Hash { return c.rootHash }

// Install records a newly appended snapshot as current and its root
// directory hash, without touching the materialized hierarchy — callers
// that already hold the matching Dir objects in hand (the mutator's
// upward rebuild) use PutDir instead of a full RefreshHierarchy. Callers
// must hold the lock.
func (c *Context) Install(snapshotID, rootHash chash.Hash) {
	c.currentSnapshot = snapshotID
	c.rootHash = rootHash
}

// Hierarchy returns the currently materialized directory hierarchy.
// Callers must hold the lock.
func (c *Context) Hierarchy() tree.Hierarchy { return c.hierarchy }

// SetHierarchy replaces the materialized hierarchy wholesale. Callers must
// hold the lock.
func (c *Context) SetHierarchy(h tree.Hierarchy) { c.hierarchy = h }

// PutDir adds or overwrites a single directory in the materialized
// hierarchy, used by the mutator's upward rebuild to register each newly
// produced directory without reloading the whole tree. Callers must hold
// the lock.
func (c *Context) PutDir(hash chash.Hash, dir *record.Dir) {
	if c.hierarchy == nil {
		c.hierarchy = make(tree.Hierarchy)
	}
	c.hierarchy[hash] = dir
}

// RefreshHierarchy reloads the hierarchy from root via the backend,
// replacing whatever was previously cached. The caller must hold the lock
// across both the refresh and whatever mutation follows it, so the
// materialized tree cannot go stale mid-operation.
func (c *Context) RefreshHierarchy(ctx context.Context, snapshotID, root chash.Hash) error {
	h, err := tree.Load(ctx, c.Backend, c.Decor, root)
	if err != nil {
		return err
	}
	c.hierarchy = h
	c.currentSnapshot = snapshotID
	c.rootHash = root
	return nil
}

// PathStack resolves a filesystem path (relative to the tree root) to the
// chain of directories from the root down to (but not including) the
// directory the path names, following the engine's current hierarchy. The
// final element is the innermost directory containing the path's last
// component. An empty rootHash (no snapshot installed yet) yields an empty
// stack, which callers treat as "the tree does not exist yet".
//
// Grounded on original_source/src/fs/filesystem.py's FileSystem.find: a
// sequence of path components walked against the in-memory hierarchy,
// never touching the backend, since RefreshHierarchy already materialized
// every directory on the path.
func (c *Context) PathStack(rootHash chash.Hash, components []string) ([]*record.Dir, error) {
	if rootHash == "" {
		return nil, nil
	}
	dir, ok := c.hierarchy.Get(rootHash)
	if !ok {
		return nil, &store.InvariantViolationError{What: "root " + rootHash.String() + " missing from hierarchy"}
	}
	stack := []*record.Dir{dir}
	cur := dir
	for _, name := range components {
		e, ok := cur.Get(name)
		if !ok || !e.IsDir() {
			break
		}
		next, ok := c.hierarchy.Get(e.ObjID)
		if !ok {
			return nil, &store.InvariantViolationError{What: "directory " + e.ObjID.String() + " missing from hierarchy"}
		}
		stack = append(stack, next)
		cur = next
	}
	return stack, nil
}
