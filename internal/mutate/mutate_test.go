// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package mutate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/engine"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

// fakeBackend is a minimal in-memory store.Backend for mutator tests.
type fakeBackend struct {
	blobs map[chash.Hash][]byte
	snaps map[chash.Hash]record.Snapshot
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		blobs: make(map[chash.Hash][]byte),
		snaps: make(map[chash.Hash]record.Snapshot),
	}
}

func (f *fakeBackend) Store(_ context.Context, id chash.Hash, data []byte) error {
	f.blobs[id] = data
	return nil
}
func (f *fakeBackend) Retrieve(_ context.Context, id chash.Hash) ([]byte, error) {
	d, ok := f.blobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}
func (f *fakeBackend) Remove(_ context.Context, id chash.Hash) error { delete(f.blobs, id); return nil }
func (f *fakeBackend) ListObjects(context.Context) ([]chash.Hash, error) {
	out := make([]chash.Hash, 0, len(f.blobs))
	for id := range f.blobs {
		out = append(out, id)
	}
	return out, nil
}
func (f *fakeBackend) ListSnapshots(context.Context) (map[chash.Hash]time.Time, error) {
	out := make(map[chash.Hash]time.Time, len(f.snaps))
	for id := range f.snaps {
		out[id] = time.Time{}
	}
	return out, nil
}
func (f *fakeBackend) GetSnapshot(_ context.Context, id chash.Hash) (record.Snapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return record.Snapshot{}, store.ErrNotFound
	}
	return s, nil
}
func (f *fakeBackend) AppendSnapshot(_ context.Context, snap record.Snapshot) (chash.Hash, error) {
	id := chash.Sum(snap.Encode())
	f.snaps[id] = snap
	return id, nil
}
func (f *fakeBackend) RemoveSnapshot(_ context.Context, id chash.Hash) error {
	delete(f.snaps, id)
	return nil
}
func (f *fakeBackend) ListTags(context.Context) ([]string, error) { return nil, nil }
func (f *fakeBackend) Tag(context.Context, string, record.Tag) error { return nil }
func (f *fakeBackend) GetTagged(context.Context, string) (record.Tag, error) {
	return record.Tag{}, store.ErrNotFound
}
func (f *fakeBackend) Untag(context.Context, string) error { return nil }
func (f *fakeBackend) Close() error                        { return nil }

func newTestMutator(t *testing.T) (*Mutator, *engine.Context, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	ectx := engine.New(fb, decorator.Identity{})
	tmp := t.TempDir()
	return New(ectx, tmp, []string{"*.swp"}, nil), ectx, fb
}

func TestCreateFileThenCloseWriteProducesRootSnapshot(t *testing.T) {
	m, ectx, _ := newTestMutator(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}

	if err := m.Handle(ctx, Event{Kind: Create, Name: "a.txt", SourcePath: src}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Handle(ctx, Event{Kind: CloseWrite, Name: "a.txt", SourcePath: src}); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	ectx.Lock()
	root := ectx.RootHash()
	dir, ok := ectx.Hierarchy().Get(root)
	ectx.Unlock()

	if !ok {
		t.Fatal("expected root directory to be registered in hierarchy")
	}
	e, ok := dir.Get("a.txt")
	if !ok || e.ObjID != chash.Sum([]byte("hello")) {
		t.Errorf("expected a.txt entry with content hash, got ok=%v entry=%+v", ok, e)
	}
}

func TestIgnoredPathProducesNoSnapshot(t *testing.T) {
	m, ectx, _ := newTestMutator(t)
	ctx := context.Background()

	if err := m.Handle(ctx, Event{Kind: Create, Name: "foo.swp", IsDir: true}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	ectx.Lock()
	snap := ectx.CurrentSnapshot()
	ectx.Unlock()
	if snap != "" {
		t.Error("expected ignored event to produce no snapshot")
	}
}

func TestCreateDirThenDeleteRemovesEntry(t *testing.T) {
	m, ectx, _ := newTestMutator(t)
	ctx := context.Background()

	if err := m.Handle(ctx, Event{Kind: Create, Name: "sub", IsDir: true}); err != nil {
		t.Fatalf("Create dir: %v", err)
	}
	ectx.Lock()
	root := ectx.RootHash()
	dir, _ := ectx.Hierarchy().Get(root)
	_, hasSub := dir.Get("sub")
	ectx.Unlock()
	if !hasSub {
		t.Fatal("expected sub directory entry after Create")
	}

	if err := m.Handle(ctx, Event{Kind: Delete, Name: "sub", IsDir: true}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ectx.Lock()
	root = ectx.RootHash()
	dir, _ = ectx.Hierarchy().Get(root)
	_, hasSub = dir.Get("sub")
	ectx.Unlock()
	if hasSub {
		t.Error("expected sub directory entry removed after Delete")
	}
}

func TestMoveCollapsesToSingleSnapshot(t *testing.T) {
	m, ectx, fb := newTestMutator(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := m.Handle(ctx, Event{Kind: Create, Name: "a.txt", SourcePath: src}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Handle(ctx, Event{Kind: CloseWrite, Name: "a.txt", SourcePath: src}); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	snapshotsBeforeMove := len(fb.snaps)

	if err := m.Handle(ctx, Event{Kind: MovedFrom, Name: "a.txt", Cookie: 42}); err != nil {
		t.Fatalf("MovedFrom: %v", err)
	}
	if err := m.Handle(ctx, Event{Kind: MovedTo, Name: "b.txt", Cookie: 42, SourcePath: src}); err != nil {
		t.Fatalf("MovedTo: %v", err)
	}

	// MovedFrom appends one intermediate snapshot, MovedTo removes it and
	// appends its own: net +1 over the pre-move count.
	if got, want := len(fb.snaps), snapshotsBeforeMove+1; got != want {
		t.Errorf("snapshot count = %d, want %d", got, want)
	}

	ectx.Lock()
	root := ectx.RootHash()
	dir, _ := ectx.Hierarchy().Get(root)
	_, hasOld := dir.Get("a.txt")
	newEntry, hasNew := dir.Get("b.txt")
	ectx.Unlock()

	if hasOld {
		t.Error("expected a.txt to be gone after move")
	}
	if !hasNew || newEntry.ObjID != chash.Sum([]byte("payload")) {
		t.Errorf("expected b.txt with original content hash, got ok=%v entry=%+v", hasNew, newEntry)
	}
}
