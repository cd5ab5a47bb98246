// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the local blob cache that sits in front of a
// store.Backend: every read checks disk first and only falls back to the
// backend on a miss, populating the cache as it goes; every write lands on
// disk and is forwarded to the backend so the two never diverge.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

var _ store.Backend = (*Cache)(nil)

// Cache wraps a store.Backend with a content-addressed local directory of
// blobs. It implements store.Backend itself so every consumer (tree loader,
// syncer, gc) can use it as a drop-in backend.
type Cache struct {
	dir     string
	backend store.Backend
	log     *slog.Logger
}

// New returns a Cache rooted at dir, falling through to backend on misses.
// dir is created if it does not already exist.
func New(dir string, backend store.Backend, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}
	return &Cache{dir: dir, backend: backend, log: log}, nil
}

func (c *Cache) path(id chash.Hash) string {
	s := string(id)
	// Two-level fan-out keeps any single directory from holding every blob
	// the cache has ever seen, the same layout convention used by git's
	// loose object store.
	if len(s) >= 2 {
		return filepath.Join(c.dir, s[0:2], s[2:])
	}
	return filepath.Join(c.dir, s)
}

// Store writes data to the local cache and forwards it to the backend.
func (c *Cache) Store(ctx context.Context, id chash.Hash, data []byte) error {
	if id.IsEmpty() {
		return nil
	}
	p := c.path(id)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("cache: mkdir for %s: %w", id, err)
	}
	if err := writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("cache: write %s: %w", id, err)
	}
	return c.backend.Store(ctx, id, data)
}

// Retrieve reads from the local cache, falling back to the backend and
// populating the cache on a miss.
func (c *Cache) Retrieve(ctx context.Context, id chash.Hash) ([]byte, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	p := c.path(id)
	data, err := os.ReadFile(p)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cache: read %s: %w", id, err)
	}

	c.log.Debug("cache miss, fetching from backend", "hash", id)
	data, err = c.backend.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err == nil {
		_ = writeFileAtomic(p, data)
	}
	return data, nil
}

// Remove deletes the blob from both the local cache and the backend.
func (c *Cache) Remove(ctx context.Context, id chash.Hash) error {
	_ = os.Remove(c.path(id))
	return c.backend.Remove(ctx, id)
}

// ListObjects delegates to the backend: the cache is not assumed to hold
// every object the backend has, so it is never authoritative for listing.
func (c *Cache) ListObjects(ctx context.Context) ([]chash.Hash, error) {
	return c.backend.ListObjects(ctx)
}

// ListSnapshots, GetSnapshot, AppendSnapshot, RemoveSnapshot, ListTags, Tag,
// GetTagged and Untag are not cached: snapshots and tags are small,
// infrequent, and must always reflect the backend's authoritative state, so
// the cache delegates them straight through.

func (c *Cache) ListSnapshots(ctx context.Context) (map[chash.Hash]time.Time, error) {
	return c.backend.ListSnapshots(ctx)
}

func (c *Cache) GetSnapshot(ctx context.Context, id chash.Hash) (record.Snapshot, error) {
	return c.backend.GetSnapshot(ctx, id)
}

func (c *Cache) AppendSnapshot(ctx context.Context, snap record.Snapshot) (chash.Hash, error) {
	return c.backend.AppendSnapshot(ctx, snap)
}

func (c *Cache) RemoveSnapshot(ctx context.Context, id chash.Hash) error {
	return c.backend.RemoveSnapshot(ctx, id)
}

func (c *Cache) ListTags(ctx context.Context) ([]string, error) {
	return c.backend.ListTags(ctx)
}

func (c *Cache) Tag(ctx context.Context, name string, tag record.Tag) error {
	return c.backend.Tag(ctx, name, tag)
}

func (c *Cache) GetTagged(ctx context.Context, name string) (record.Tag, error) {
	return c.backend.GetTagged(ctx, name)
}

func (c *Cache) Untag(ctx context.Context, name string) error {
	return c.backend.Untag(ctx, name)
}

// Close closes the underlying backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// writeFileAtomic writes data to a temp file and renames it into place, so
// a reader never observes a partial write at path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
