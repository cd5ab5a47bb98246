// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/record"
)

// tagAddCmd implements spec.md §6's "tag add <tag> <path>": names the
// current snapshot (the one the pointer store's root names) under a tag,
// on every configured backend.
type tagAddCmd struct {
	Tag  string `arg:"" help:"Tag name to create."`
	Path string `arg:"" help:"Path the tag records, relative to the tree root."`
}

func (c *tagAddCmd) Run(a *app) error {
	ctx := context.Background()

	current, err := a.pointers.Root()
	if err != nil {
		return fmt.Errorf("tag add: read current snapshot: %w", err)
	}
	if current == "" {
		return &badCLIError{what: "no current snapshot to tag"}
	}

	tag := record.Tag{SnapshotID: current, Path: c.Path}
	for _, cloud := range a.order {
		if err := a.backends[cloud].Tag(ctx, c.Tag, tag); err != nil {
			return fmt.Errorf("tag add: %s: %w", cloud, err)
		}
	}
	return nil
}

// tagDeleteCmd implements spec.md §6's "tag delete <tag>".
type tagDeleteCmd struct {
	Tag string `arg:"" help:"Tag name to remove."`
}

func (c *tagDeleteCmd) Run(a *app) error {
	ctx := context.Background()
	for _, cloud := range a.order {
		if err := a.backends[cloud].Untag(ctx, c.Tag); err != nil {
			return fmt.Errorf("tag delete: %s: %w", cloud, err)
		}
	}
	return nil
}
