// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package tree materializes a directory hierarchy — the full set of Dir
// records reachable from a root hash — by breadth-first traversal over a
// store.Backend, per spec.md §4.6.
package tree

import (
	"context"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

// Hierarchy is the full set of directories reachable from a root hash,
// keyed by their own content hash.
type Hierarchy map[chash.Hash]*record.Dir

// Load materializes the hierarchy rooted at root by breadth-first traversal,
// consulting backend (typically a *cache.Cache, which itself falls through
// to remote storage) for each directory blob and undecorating it with dec.
//
// An EMPTY_HASH root short-circuits to a singleton map holding the empty
// directory, matching the reserved hash's no-I/O contract everywhere else
// in the engine.
func Load(ctx context.Context, backend store.Backend, dec decorator.Decorator, root chash.Hash) (Hierarchy, error) {
	h := make(Hierarchy)
	if root.IsEmpty() {
		h[root] = record.NewDir()
		return h, nil
	}

	queue := []chash.Hash{root}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]

		if _, seen := h[hash]; seen {
			continue
		}

		dir, err := fetchDir(ctx, backend, dec, hash)
		if err != nil {
			return nil, fmt.Errorf("tree: load %s: %w", hash, err)
		}
		h[hash] = dir

		for _, e := range dir.Entries {
			if e.IsDir() && !e.ObjID.IsEmpty() {
				if _, seen := h[e.ObjID]; !seen {
					queue = append(queue, e.ObjID)
				}
			}
		}
	}

	return h, nil
}

func fetchDir(ctx context.Context, backend store.Backend, dec decorator.Decorator, hash chash.Hash) (*record.Dir, error) {
	if hash.IsEmpty() {
		return record.NewDir(), nil
	}

	decorated, err := backend.Retrieve(ctx, hash)
	if err != nil {
		return nil, err
	}
	plain, err := dec.Undecorate(decorated)
	if err != nil {
		return nil, &store.DecoratorError{Op: "undecorate dir " + hash.String(), Err: err}
	}
	return record.DecodeDir(plain)
}

// Get returns the directory at hash from an already-loaded hierarchy,
// falling back to the empty directory for EMPTY_HASH even if Load wasn't
// given that exact root (e.g. a base hierarchy for a newly created subtree).
func (h Hierarchy) Get(hash chash.Hash) (*record.Dir, bool) {
	if hash.IsEmpty() {
		return record.NewDir(), true
	}
	d, ok := h[hash]
	return d, ok
}
