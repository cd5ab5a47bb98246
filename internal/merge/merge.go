// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package merge implements the three-way directory merge used to reconcile
// two diverged snapshot roots, per spec.md §4.7.
package merge

import (
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// emptyDir is the base substituted whenever a directory has no counterpart
// in one of the three branches being merged.
var emptyDir = record.NewDir()

// Merge reconciles branch1 and branch2 against their common ancestor base,
// returning the merged directory and every new directory produced in the
// process (including nested merge results), for the caller to hash, store
// and upload exactly once.
//
// h1, h2 and h0 are the fully materialized hierarchies (tree.Load) for
// branch1, branch2 and base respectively; recursion looks up subtrees by
// content hash uniformly across all three, never by name, so a renamed-but-
// identical subtree is still recognized as unchanged.
//
// dec is the decorator the caller will use when it actually uploads the
// returned directories: content hashes are computed over decorated bytes
// (spec.md §4.3), so the self-hash embedded in a parent entry must be
// derived the same way or it will not match what the caller later stores
// the blob under. Decorate is deterministic, so hashing here and decorating
// again at upload time yield identical bytes.
func Merge(branch1, branch2, base *record.Dir, h1, h2, h0 tree.Hierarchy, dec decorator.Decorator) (*record.Dir, []*record.Dir, error) {
	if base == nil {
		base = emptyDir
	}
	if branch1 == nil {
		branch1 = emptyDir
	}
	if branch2 == nil {
		branch2 = emptyDir
	}

	out := record.NewDir()
	var newDirs []*record.Dir

	names := unionNames(branch1, branch2)
	for _, name := range names {
		e1, in1 := branch1.Get(name)
		e2, in2 := branch2.Get(name)
		e0, in0 := base.Get(name)

		switch {
		case in1 && in2 && !in0:
			// Case A.
			if e1.ObjID == e2.ObjID {
				out.Add(e1)
				continue
			}
			c1, c2 := materializeConflict(e1, e2)
			out.Add(c1)
			out.Add(c2)

		case in1 && in2 && in0:
			// Case B.
			if e1.ObjID == e2.ObjID {
				out.Add(e1)
				continue
			}
			if e0.IsDir() {
				sub1, sub2, sub0 := h1[e1.ObjID], h2[e2.ObjID], h0[e0.ObjID]
				merged, subNew, err := Merge(sub1, sub2, sub0, h1, h2, h0, dec)
				if err != nil {
					return nil, nil, err
				}
				selfHash, err := hashDir(merged, dec)
				if err != nil {
					return nil, nil, err
				}
				newDirs = append(newDirs, subNew...)
				newDirs = append(newDirs, merged)
				out.Add(record.DirEntry{Mode: record.ModeDir, Fname: name, ObjID: selfHash})
				continue
			}
			switch {
			case e1.ObjID == e0.ObjID:
				out.Add(e2) // branch1 unmodified, branch2 changed.
			case e2.ObjID == e0.ObjID:
				out.Add(e1) // branch2 unmodified, branch1 changed.
			default:
				c1, c2 := materializeConflict(e1, e2)
				out.Add(c1)
				out.Add(c2)
			}

		case in1 && !in2 && !in0:
			// Case C.
			out.Add(e1)

		case in1 && !in2 && in0:
			// Case D.
			if e1.ObjID == e0.ObjID {
				continue // branch2 deleted it, branch1 didn't touch it: drop.
			}
			out.Add(e1)
			out.Add(tombstone(e0))

		case !in1 && in2 && !in0:
			// Case E.
			out.Add(e2)

		case !in1 && in2 && in0:
			// Case F, symmetric to D.
			if e2.ObjID == e0.ObjID {
				continue
			}
			out.Add(e2)
			out.Add(tombstone(e0))
		}
	}

	return out, newDirs, nil
}

// Root runs Merge at the top of two diverged hierarchies and additionally
// computes and returns the resulting root hash, appending the merged root
// directory itself to the new-directory list — spec.md §4.7's "after
// processing, the new directory's self-hash is recomputed and appended to
// new_dir_list" applies at every level, including the one the caller
// invokes directly, not only at recursive call sites.
func Root(branch1, branch2, base *record.Dir, h1, h2, h0 tree.Hierarchy, dec decorator.Decorator) (chash.Hash, []*record.Dir, error) {
	merged, newDirs, err := Merge(branch1, branch2, base, h1, h2, h0, dec)
	if err != nil {
		return "", nil, err
	}
	rootHash, err := hashDir(merged, dec)
	if err != nil {
		return "", nil, err
	}
	newDirs = append(newDirs, merged)
	return rootHash, newDirs, nil
}

func unionNames(a, b *record.Dir) []string {
	seen := make(map[string]bool, len(a.Entries)+len(b.Entries))
	var names []string
	for n := range a.Entries {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range b.Entries {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

// materializeConflict renames the entry with the lexicographically smaller
// ObjID under ModifyConflictPrefix per spec.md §4.7, leaving the other at
// its original name. Both entries are always retained.
func materializeConflict(e1, e2 record.DirEntry) (record.DirEntry, record.DirEntry) {
	if e1.ObjID < e2.ObjID {
		e1.Fname = record.ModifyConflictPrefix + e1.Fname
	} else {
		e2.Fname = record.ModifyConflictPrefix + e2.Fname
	}
	return e1, e2
}

// tombstone renames the base entry under DeleteConflictPrefix, marking it as
// the sibling of a delete/modify conflict.
func tombstone(e record.DirEntry) record.DirEntry {
	e.Fname = record.DeleteConflictPrefix + e.Fname
	return e
}

// hashDir computes the content hash a merged directory will be stored
// under: chash.Sum of its decorated encoding, matching package store's
// Store/Retrieve contract.
func hashDir(d *record.Dir, dec decorator.Decorator) (chash.Hash, error) {
	enc, err := d.Encode()
	if err != nil {
		// Every entry already round-tripped through Encode once to reach
		// this directory, so a failure here would mean fname length was
		// corrupted in-memory after decode — a bug, not a runtime condition.
		return "", fmt.Errorf("merge: re-encoding merged directory: %w", err)
	}
	decorated, err := dec.Decorate(enc)
	if err != nil {
		return "", fmt.Errorf("merge: decorating merged directory: %w", err)
	}
	return chash.Sum(decorated), nil
}
