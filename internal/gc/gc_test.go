// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"context"
	"testing"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

type fakeBackend struct {
	blobs map[chash.Hash][]byte
	snaps map[chash.Hash]record.Snapshot
	times map[chash.Hash]time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		blobs: make(map[chash.Hash][]byte),
		snaps: make(map[chash.Hash]record.Snapshot),
		times: make(map[chash.Hash]time.Time),
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
	out := make(map[chash.Hash]time.Time, len(f.times))
	for id, ts := range f.times {
		out[id] = ts
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
	if _, ok := f.times[id]; !ok {
		f.times[id] = time.Now()
	}
	return id, nil
}
func (f *fakeBackend) RemoveSnapshot(_ context.Context, id chash.Hash) error {
	delete(f.snaps, id)
	delete(f.times, id)
	return nil
}
func (f *fakeBackend) ListTags(context.Context) ([]string, error)        { return nil, nil }
func (f *fakeBackend) Tag(context.Context, string, record.Tag) error     { return nil }
func (f *fakeBackend) GetTagged(context.Context, string) (record.Tag, error) {
	return record.Tag{}, store.ErrNotFound
}
func (f *fakeBackend) Untag(context.Context, string) error { return nil }
func (f *fakeBackend) Close() error                        { return nil }

// put stores snap directly keyed by its content hash (bypassing
// AppendSnapshot's own hashing) so tests can build a fixed, known DAG shape.
func put(f *fakeBackend, id chash.Hash, snap record.Snapshot, ts time.Time) {
	f.snaps[id] = snap
	f.times[id] = ts
}

func TestKeepOneRemovesAllButCurrent(t *testing.T) {
	f := newFakeBackend()
	root1 := chash.Sum([]byte("root1"))
	root2 := chash.Sum([]byte("root2"))
	s1 := chash.Sum([]byte("snap1"))
	s2 := chash.Sum([]byte("snap2"))
	now := time.Now()
	put(f, s1, record.Snapshot{Root: root1}, now.Add(-time.Hour))
	put(f, s2, record.Snapshot{Root: root2, Parents: []chash.Hash{s1}}, now)

	if err := Run(context.Background(), f, decorator.Identity{}, s2, KeepOne); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := f.snaps[s2]; !ok {
		t.Error("expected current snapshot to survive KeepOne")
	}
	if _, ok := f.snaps[s1]; ok {
		t.Error("expected non-current snapshot to be removed by KeepOne")
	}
}

func TestKeepLandmarkCollapsesDenseChain(t *testing.T) {
	f := newFakeBackend()
	now := time.Now()

	var prev chash.Hash
	var head chash.Hash
	for i := 0; i < 10; i++ {
		root := chash.Sum([]byte{byte(i)})
		var parents []chash.Hash
		if prev != "" {
			parents = []chash.Hash{prev}
		}
		id := chash.Sum([]byte{byte(100 + i)})
		// All ten snapshots fall within a single minute, well inside
		// LongTermTimeDelta, so only the head should be promoted.
		put(f, id, record.Snapshot{Root: root, Parents: parents}, now.Add(time.Duration(i)*time.Second))
		prev = id
		head = id
	}

	if err := Run(context.Background(), f, decorator.Identity{}, head, KeepLandmark); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.snaps) != 1 {
		t.Errorf("len(f.snaps) = %d, want 1 (only the head landmark survives)", len(f.snaps))
	}
}

func TestKeepLandmarkPromotesOnLongGap(t *testing.T) {
	f := newFakeBackend()
	now := time.Now()

	old := chash.Sum([]byte("old-snap"))
	put(f, old, record.Snapshot{Root: chash.Sum([]byte("old-root"))}, now.Add(-48*time.Hour))

	head := chash.Sum([]byte("head-snap"))
	put(f, head, record.Snapshot{Root: chash.Sum([]byte("head-root")), Parents: []chash.Hash{old}}, now)

	if err := Run(context.Background(), f, decorator.Identity{}, head, KeepLandmark); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.snaps) != 2 {
		t.Errorf("len(f.snaps) = %d, want 2 (both landmarks survive a >24h gap)", len(f.snaps))
	}
}

func TestSweepRemovesUnreachableBlobs(t *testing.T) {
	f := newFakeBackend()

	liveEntry := record.DirEntry{Fname: "kept.txt", ObjID: chash.Sum([]byte("kept"))}
	root := record.NewDir()
	root.Add(liveEntry)
	plain, _ := root.Encode()
	rootHash := chash.Sum(plain)
	f.blobs[rootHash] = plain
	f.blobs[liveEntry.ObjID] = []byte("kept")

	orphan := chash.Sum([]byte("orphan"))
	f.blobs[orphan] = []byte("orphan")

	snapID := chash.Sum([]byte("snap"))
	put(f, snapID, record.Snapshot{Root: rootHash}, time.Now())

	if err := Run(context.Background(), f, decorator.Identity{}, snapID, KeepOne); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := f.blobs[liveEntry.ObjID]; !ok {
		t.Error("expected reachable blob to survive sweep")
	}
	if _, ok := f.blobs[orphan]; ok {
		t.Error("expected unreachable blob to be removed by sweep")
	}
}
