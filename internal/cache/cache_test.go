// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

// memBackend is a minimal in-memory store.Backend used only to exercise
// Cache's fall-through behavior in tests.
type memBackend struct {
	mu    sync.Mutex
	blobs map[chash.Hash][]byte
	gets  int
	puts  int
	tags  map[string]record.Tag
	snaps map[chash.Hash]record.Snapshot
}

func newMemBackend() *memBackend {
	return &memBackend{
		blobs: make(map[chash.Hash][]byte),
		tags:  make(map[string]record.Tag),
		snaps: make(map[chash.Hash]record.Snapshot),
	}
}

func (m *memBackend) Store(_ context.Context, id chash.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.blobs[id] = append([]byte(nil), data...)
	return nil
}

func (m *memBackend) Retrieve(_ context.Context, id chash.Hash) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	data, ok := m.blobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (m *memBackend) Remove(_ context.Context, id chash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

func (m *memBackend) ListObjects(_ context.Context) ([]chash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chash.Hash, 0, len(m.blobs))
	for id := range m.blobs {
		out = append(out, id)
	}
	return out, nil
}

func (m *memBackend) ListSnapshots(context.Context) (map[chash.Hash]time.Time, error) {
	return map[chash.Hash]time.Time{}, nil
}

func (m *memBackend) GetSnapshot(_ context.Context, id chash.Hash) (record.Snapshot, error) {
	s, ok := m.snaps[id]
	if !ok {
		return record.Snapshot{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memBackend) AppendSnapshot(_ context.Context, snap record.Snapshot) (chash.Hash, error) {
	id := chash.Sum(snap.Encode())
	m.snaps[id] = snap
	return id, nil
}

func (m *memBackend) RemoveSnapshot(_ context.Context, id chash.Hash) error {
	delete(m.snaps, id)
	return nil
}

func (m *memBackend) ListTags(context.Context) ([]string, error) {
	names := make([]string, 0, len(m.tags))
	for n := range m.tags {
		names = append(names, n)
	}
	return names, nil
}

func (m *memBackend) Tag(_ context.Context, name string, tag record.Tag) error {
	m.tags[name] = tag
	return nil
}

func (m *memBackend) GetTagged(_ context.Context, name string) (record.Tag, error) {
	t, ok := m.tags[name]
	if !ok {
		return record.Tag{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memBackend) Untag(_ context.Context, name string) error {
	delete(m.tags, name)
	return nil
}

func (m *memBackend) Close() error { return nil }

func TestCacheStoreThenRetrieveHitsLocalDisk(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	c, err := New(t.TempDir(), mb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id := chash.Sum([]byte("payload"))
	if err := c.Store(ctx, id, []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if mb.puts != 1 {
		t.Fatalf("backend puts = %d, want 1", mb.puts)
	}

	got, err := c.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Errorf("got %q, want %q", got, "payload")
	}
	if mb.gets != 0 {
		t.Errorf("backend gets = %d, want 0 (should be served from disk)", mb.gets)
	}
}

func TestCacheRetrieveFallsThroughOnMiss(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	id := chash.Sum([]byte("remote-only"))
	if err := mb.Store(ctx, id, []byte("remote-only")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, err := New(t.TempDir(), mb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !bytes.Equal(got, []byte("remote-only")) {
		t.Errorf("got %q, want %q", got, "remote-only")
	}
	if mb.gets != 1 {
		t.Errorf("backend gets = %d, want 1", mb.gets)
	}

	// Second retrieve should now be served from the populated local cache.
	mb.gets = 0
	if _, err := c.Retrieve(ctx, id); err != nil {
		t.Fatalf("Retrieve (2nd): %v", err)
	}
	if mb.gets != 0 {
		t.Errorf("backend gets = %d after warm cache, want 0", mb.gets)
	}
}

func TestCacheRetrieveEmptyHashShortCircuits(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	c, err := New(t.TempDir(), mb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Retrieve(ctx, chash.Empty)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if mb.gets != 0 {
		t.Errorf("backend should not be touched for the empty hash")
	}
}
