// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/gc"
)

// fsckCmd implements spec.md §6's "fsck [--one]": run garbage collection
// against every configured backend, rooted at the locally-known current
// snapshot.
type fsckCmd struct {
	One bool `help:"Use the keep-one policy instead of the default keep-landmark policy."`
}

func (c *fsckCmd) Run(a *app) error {
	ctx := context.Background()

	policy := gc.KeepLandmark
	if c.One {
		policy = gc.KeepOne
	}

	current, err := a.pointers.Root()
	if err != nil {
		return fmt.Errorf("fsck: read current snapshot: %w", err)
	}
	if current == "" {
		return &badCLIError{what: "no current snapshot to garbage-collect from"}
	}

	for _, cloud := range a.order {
		if err := gc.Run(ctx, a.backends[cloud], a.dec, current, policy); err != nil {
			return fmt.Errorf("fsck: %s: %w", cloud, err)
		}
	}
	return nil
}
