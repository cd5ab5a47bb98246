// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"strings"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// resolvePath walks path (slash-separated, relative to the tree root)
// against h starting at root, returning the DirEntry it names. An empty or
// "." path resolves to a synthetic entry naming the root directory itself.
func resolvePath(h tree.Hierarchy, root chash.Hash, path string) (record.DirEntry, error) {
	clean := strings.Trim(filepath.ToSlash(path), "/")
	if clean == "" || clean == "." {
		return record.SelfEntry(record.SelfRef, root), nil
	}

	dir, ok := h.Get(root)
	if !ok {
		return record.DirEntry{}, &store.InvariantViolationError{What: "root " + root.String() + " missing from hierarchy"}
	}

	parts := strings.Split(clean, "/")
	for i, name := range parts {
		e, ok := dir.Get(name)
		if !ok {
			return record.DirEntry{}, store.ErrNotFound
		}
		if i == len(parts)-1 {
			return e, nil
		}
		if !e.IsDir() {
			return record.DirEntry{}, store.ErrNotFound
		}
		dir, ok = h.Get(e.ObjID)
		if !ok {
			return record.DirEntry{}, &store.InvariantViolationError{What: "directory " + e.ObjID.String() + " missing from hierarchy"}
		}
	}

	return record.DirEntry{}, store.ErrNotFound
}
