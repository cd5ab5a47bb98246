// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/store"
	"github.com/rosycloud/rosycloud/internal/tree"
)

// xtrCmd implements the original's tools/xtr.py: pull one snapshot's view
// of path out of cloud and materialize it under the current directory.
type xtrCmd struct {
	Cloud   string `arg:"" help:"Configured backend id to extract from."`
	Version string `arg:"" help:"Snapshot id to extract."`
	Path    string `arg:"" help:"Path within the snapshot, relative to the tree root."`
}

func (c *xtrCmd) Run(a *app) error {
	b, ok := a.backends[c.Cloud]
	if !ok {
		return &badCLIError{what: fmt.Sprintf("unknown cloud %q", c.Cloud)}
	}

	ctx := context.Background()
	snap, err := b.GetSnapshot(ctx, chash.Hash(c.Version))
	if err != nil {
		return fmt.Errorf("xtr: get snapshot %s: %w", c.Version, err)
	}

	h, err := tree.Load(ctx, b, a.dec, snap.Root)
	if err != nil {
		return fmt.Errorf("xtr: load hierarchy: %w", err)
	}

	entry, err := resolvePath(h, snap.Root, c.Path)
	if err != nil {
		return fmt.Errorf("xtr: resolve %s: %w", c.Path, err)
	}

	dest := filepath.Join(".", filepath.Base(filepath.Clean(c.Path)))
	if _, err := os.Stat(dest); err == nil {
		return &targetExistsError{path: dest}
	}

	if entry.IsDir() {
		return extractDir(ctx, b, a.dec, h, entry.ObjID, dest)
	}
	return extractFile(ctx, b, a.dec, entry.ObjID, dest)
}

func extractFile(ctx context.Context, b store.Backend, dec decorator.Decorator, id chash.Hash, dest string) error {
	if id.IsEmpty() {
		return os.WriteFile(dest, nil, 0o644)
	}
	decorated, err := b.Retrieve(ctx, id)
	if err != nil {
		return fmt.Errorf("xtr: retrieve %s: %w", id, err)
	}
	plain, err := dec.Undecorate(decorated)
	if err != nil {
		return fmt.Errorf("xtr: undecorate %s: %w", id, err)
	}
	return os.WriteFile(dest, plain, 0o644)
}

func extractDir(ctx context.Context, b store.Backend, dec decorator.Decorator, h tree.Hierarchy, root chash.Hash, dest string) error {
	dir, ok := h.Get(root)
	if !ok {
		return &store.InvariantViolationError{What: "directory " + root.String() + " missing from hierarchy"}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("xtr: mkdir %s: %w", dest, err)
	}
	for name, e := range dir.Entries {
		childDest := filepath.Join(dest, name)
		if e.IsDir() {
			if err := extractDir(ctx, b, dec, h, e.ObjID, childDest); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(ctx, b, dec, e.ObjID, childDest); err != nil {
			return err
		}
	}
	return nil
}
