// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package local implements store.Backend against a plain directory tree,
// used both as a standalone "local" backend (a second on-disk replica,
// useful for testing or an external drive) and as the model other adapters
// generalize from.
//
// Grounded on original_source/src/fs/localfs.py's LocalFS: the same
// "dir/" object-blob namespace plus the shared "ss/"/"t/" prefixes from
// package store, all rooted under one configured storage directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/registry"
	"github.com/rosycloud/rosycloud/internal/store"
)

// ID is the backend identifier configured via CLOUDS=local in the global
// config file, matching the original's LocalFS.ID.
const ID = "local"

// blobDir mirrors localfs.py's "dir/" object folder, kept distinct from the
// "ss/"/"t/" namespaces package store reserves.
const blobDir = "dir"

func init() {
	registry.Register(ID, func(config map[string]string) (store.Backend, error) {
		storage, ok := config["STORAGE"]
		if !ok {
			return nil, fmt.Errorf("local: missing required config key STORAGE")
		}
		return New(storage)
	})
}

// Backend stores blobs, snapshots and tags as files under a root directory.
type Backend struct {
	root string
}

// New returns a Backend rooted at root, creating the blob/snapshot/tag
// subdirectories if they don't already exist.
func New(root string) (*Backend, error) {
	for _, sub := range []string{blobDir, store.SnapshotNamespace, store.TagNamespace} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("local: create %s: %w", sub, err)
		}
	}
	return &Backend{root: root}, nil
}

var _ store.Backend = (*Backend)(nil)

func (b *Backend) Store(_ context.Context, id chash.Hash, data []byte) error {
	if id.IsEmpty() {
		return nil
	}
	return writeFile(filepath.Join(b.root, blobDir, id.String()), data)
}

func (b *Backend) Retrieve(_ context.Context, id chash.Hash) ([]byte, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(b.root, blobDir, id.String()))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	return data, err
}

func (b *Backend) Remove(_ context.Context, id chash.Hash) error {
	if id.IsEmpty() {
		return nil
	}
	err := os.Remove(filepath.Join(b.root, blobDir, id.String()))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *Backend) ListObjects(_ context.Context) ([]chash.Hash, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, blobDir))
	if err != nil {
		return nil, fmt.Errorf("local: list objects: %w", err)
	}
	out := make([]chash.Hash, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, chash.Hash(e.Name()))
		}
	}
	return out, nil
}

func (b *Backend) ListSnapshots(_ context.Context) (map[chash.Hash]time.Time, error) {
	dir := filepath.Join(b.root, store.SnapshotNamespace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("local: list snapshots: %w", err)
	}
	out := make(map[chash.Hash]time.Time, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[chash.Hash(e.Name())] = info.ModTime()
	}
	return out, nil
}

func (b *Backend) GetSnapshot(_ context.Context, id chash.Hash) (record.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(b.root, store.SnapshotNamespace, id.String()))
	if errors.Is(err, os.ErrNotExist) {
		return record.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return record.Snapshot{}, err
	}
	return record.DecodeSnapshot(data)
}

func (b *Backend) AppendSnapshot(_ context.Context, snap record.Snapshot) (chash.Hash, error) {
	encoded := snap.Encode()
	id := chash.Sum(encoded)
	path := filepath.Join(b.root, store.SnapshotNamespace, id.String())
	if _, err := os.Stat(path); err == nil {
		return id, nil // append-only: identical content already present.
	}
	if err := writeFile(path, encoded); err != nil {
		return "", err
	}
	return id, nil
}

func (b *Backend) RemoveSnapshot(_ context.Context, id chash.Hash) error {
	err := os.Remove(filepath.Join(b.root, store.SnapshotNamespace, id.String()))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *Backend) ListTags(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, store.TagNamespace))
	if err != nil {
		return nil, fmt.Errorf("local: list tags: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

func (b *Backend) Tag(_ context.Context, name string, tag record.Tag) error {
	encoded, err := tag.Encode()
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(b.root, store.TagNamespace, name), encoded)
}

func (b *Backend) GetTagged(_ context.Context, name string) (record.Tag, error) {
	data, err := os.ReadFile(filepath.Join(b.root, store.TagNamespace, name))
	if errors.Is(err, os.ErrNotExist) {
		return record.Tag{}, store.ErrNotFound
	}
	if err != nil {
		return record.Tag{}, err
	}
	return record.DecodeTag(data)
}

func (b *Backend) Untag(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(b.root, store.TagNamespace, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *Backend) Close() error { return nil }

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("local: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
