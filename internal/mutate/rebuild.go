// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package mutate

import (
	"context"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
)

// rebuild performs the upward copy-on-write Merkle rebuild described in
// spec.md §4.8: clone the directory containing ev.Name, apply mutate to
// it, hash and store it, then walk every ancestor back to the root
// replacing the child entry's obj_id and re-hashing, finally appending a
// new snapshot. The caller must already hold the engine's hierarchy lock.
func (m *Mutator) rebuild(ctx context.Context, ev Event, rmCurrentSnapshot bool, mutate func(*record.Dir)) error {
	stack, err := m.ctx.PathStack(m.ctx.RootHash(), ev.Components)
	if err != nil {
		return err
	}

	var newRoot chash.Hash
	if len(stack) == 0 {
		// The tree itself doesn't exist yet: this is the very first entry
		// ever recorded, so the leaf directory IS the new root.
		leaf := record.NewDir()
		mutate(leaf)
		newRoot, err = m.storeDir(ctx, leaf)
		if err != nil {
			return err
		}
	} else {
		leaf := stack[len(stack)-1].Clone()
		mutate(leaf)
		hash, err := m.storeDir(ctx, leaf)
		if err != nil {
			return err
		}

		for i := len(stack) - 2; i >= 0; i-- {
			parent := stack[i].Clone()
			parent.Add(record.DirEntry{Mode: record.ModeDir, Fname: ev.Components[i], ObjID: hash})
			hash, err = m.storeDir(ctx, parent)
			if err != nil {
				return err
			}
		}
		newRoot = hash
	}

	return m.publishSnapshot(ctx, newRoot, rmCurrentSnapshot)
}

// storeDir encodes, decorates, hashes and uploads dir, registering it in
// the engine's in-memory hierarchy so immediately-following lookups (the
// next ancestor up the stack, or a subsequent event) see it without a
// round trip to the backend.
func (m *Mutator) storeDir(ctx context.Context, dir *record.Dir) (chash.Hash, error) {
	plain, err := dir.Encode()
	if err != nil {
		return "", fmt.Errorf("mutate: encode directory: %w", err)
	}
	decorated, err := m.ctx.Decor.Decorate(plain)
	if err != nil {
		return "", fmt.Errorf("mutate: decorate directory: %w", err)
	}
	hash := chash.Sum(decorated)
	if err := m.storeAll(ctx, hash, decorated); err != nil {
		return "", fmt.Errorf("mutate: store directory: %w", err)
	}
	m.ctx.PutDir(hash, dir)
	return hash, nil
}

// publishSnapshot appends a new snapshot naming newRoot, parented on the
// previously installed snapshot (or no parent for the very first one), and
// installs it as current. If rmCurrentSnapshot is set, the previous
// snapshot is atomically removed first — used to collapse a MOVED_FROM's
// intermediate snapshot into the paired MOVED_TO's, so a rename produces
// exactly one snapshot rather than two. Both the removal and the append
// fan out across every configured backend, per spec.md §2/§4.8: a locally
// produced snapshot must reach every backend, not just the primary.
func (m *Mutator) publishSnapshot(ctx context.Context, newRoot chash.Hash, rmCurrentSnapshot bool) error {
	prev := m.ctx.CurrentSnapshot()

	var parents []chash.Hash
	if rmCurrentSnapshot {
		if prev != "" {
			prevSnap, err := m.ctx.Backend.GetSnapshot(ctx, prev)
			if err == nil {
				parents = prevSnap.Parents
			}
			for _, b := range m.ctx.Backends {
				if err := b.RemoveSnapshot(ctx, prev); err != nil {
					return fmt.Errorf("mutate: remove intermediate snapshot: %w", err)
				}
			}
		}
	} else if prev != "" {
		parents = []chash.Hash{prev}
	}

	snap := record.Snapshot{Root: newRoot, Parents: parents}
	var id chash.Hash
	for _, b := range m.ctx.Backends {
		appended, err := b.AppendSnapshot(ctx, snap)
		if err != nil {
			return fmt.Errorf("mutate: append snapshot: %w", err)
		}
		id = appended
	}

	m.ctx.Install(id, newRoot)
	return nil
}
