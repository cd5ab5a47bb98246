// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"log/slog"
	"sort"

	"github.com/rosycloud/rosycloud/internal/chash"
)

// SelfRef is the reserved entry name for a directory's self-reference.
// Per the Design Notes, the self-entry is never stored in Dir.Entries or
// serialized onto the wire: it is derived by the caller (whoever holds the
// DirEntry that named this directory) and attached only in memory.
const SelfRef = "."

// ModifyConflictPrefix marks the losing side of a both-modified conflict.
const ModifyConflictPrefix = "modify.conf."

// DeleteConflictPrefix marks the tombstone sibling of a delete/modify conflict.
const DeleteConflictPrefix = "delete.conf."

// Dir is an unordered mapping of file name to DirEntry. It never holds the
// "." self-entry — that is reconstructed from parent context.
type Dir struct {
	Entries map[string]DirEntry
}

// NewDir returns an empty directory.
func NewDir() *Dir {
	return &Dir{Entries: make(map[string]DirEntry)}
}

// Clone returns a deep copy of d.
func (d *Dir) Clone() *Dir {
	out := NewDir()
	for k, v := range d.Entries {
		out.Entries[k] = v
	}
	return out
}

// Add inserts or overwrites an entry.
func (d *Dir) Add(e DirEntry) {
	d.Entries[e.Fname] = e
}

// Remove deletes an entry by name. Removing a name not present is a no-op.
func (d *Dir) Remove(name string) {
	delete(d.Entries, name)
}

// Get looks up an entry by name.
func (d *Dir) Get(name string) (DirEntry, bool) {
	e, ok := d.Entries[name]
	return e, ok
}

// sortedNames returns member names in sorted order for deterministic encoding.
func (d *Dir) sortedNames() []string {
	names := make([]string, 0, len(d.Entries))
	for n := range d.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Encode serializes the directory as the concatenation of its member
// DirEntry records, excluding the self-entry, sorted by name.
//
// Sorting is not required by the wire format itself but is required for
// content addressing to be deterministic regardless of map iteration order —
// the same reasoning and technique as the teacher's
// fstree/capture.go:serializeTree, which sorts TreeEntry by name before
// hashing.
func (d *Dir) Encode() ([]byte, error) {
	names := d.sortedNames()
	out := make([]byte, 0, len(names)*DirEntrySize)
	for _, name := range names {
		b, err := d.Entries[name].Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeDir parses a directory's serialized member entries.
//
// Per spec.md §4.1, the format is append-safe but not self-describing: a
// byte length that is not a multiple of DirEntrySize indicates a trailing
// partial record, which is discarded with a warning rather than treated as
// a decode failure.
func DecodeDir(data []byte) (*Dir, error) {
	d := NewDir()

	if rem := len(data) % DirEntrySize; rem != 0 {
		slog.Warn("record: dir data length not a multiple of entry size, discarding trailing partial record",
			"length", len(data), "entry_size", DirEntrySize, "discarded_bytes", rem)
		data = data[:len(data)-rem]
	}

	for i := 0; i < len(data); i += DirEntrySize {
		e, err := DecodeDirEntry(data[i : i+DirEntrySize])
		if err != nil {
			return nil, err
		}
		d.Entries[e.Fname] = e
	}

	return d, nil
}

// SelfEntry builds the derived "." record for this directory given the name
// it is known by and the content hash it was (or will be) stored under.
func SelfEntry(name string, hash chash.Hash) DirEntry {
	return DirEntry{
		Mode:  ModeDir,
		Fname: name,
		ObjID: hash,
	}
}

// EmptyDir returns an empty directory and the self-entry that names it,
// named name, with the reserved chash.Empty object id (no blob upload needed).
func EmptyDir(name string) (*Dir, DirEntry) {
	return NewDir(), SelfEntry(name, chash.Empty)
}

// Diff compares d (the new version) against old, returning the entries that
// were created, updated (content changed, and not a directory in old) and
// removed. Mirrors original_source/src/fs/meta/dir.py:Dir.diff, reused by
// the sync orchestrator (spec.md §4.9 step 5).
func (d *Dir) Diff(old *Dir) (created, updated, removed []DirEntry) {
	for name, e := range d.Entries {
		oe, existed := old.Entries[name]
		if !existed {
			created = append(created, e)
			continue
		}
		if e.ObjID != oe.ObjID && !oe.IsDir() {
			updated = append(updated, e)
		}
	}
	for name, oe := range old.Entries {
		if _, still := d.Entries[name]; !still {
			removed = append(removed, oe)
		}
	}
	return created, updated, removed
}
