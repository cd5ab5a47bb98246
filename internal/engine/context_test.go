// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/tree"
)

func TestPathStackWalksNestedDirectories(t *testing.T) {
	leaf := record.NewDir()
	leaf.Add(record.DirEntry{Fname: "file.txt", ObjID: chash.Sum([]byte("content"))})
	leafHash := chash.Sum([]byte("leaf"))

	sub := record.NewDir()
	sub.Add(record.DirEntry{Mode: record.ModeDir, Fname: "sub", ObjID: leafHash})
	subHash := chash.Sum([]byte("sub"))

	root := record.NewDir()
	root.Add(record.DirEntry{Mode: record.ModeDir, Fname: "a", ObjID: subHash})
	rootHash := chash.Sum([]byte("root"))

	ctx := New(nil, decorator.Identity{})
	ctx.Lock()
	ctx.SetHierarchy(tree.Hierarchy{rootHash: root, subHash: sub, leafHash: leaf})
	ctx.Unlock()

	ctx.Lock()
	stack, err := ctx.PathStack(rootHash, []string{"a"})
	ctx.Unlock()
	if err != nil {
		t.Fatalf("PathStack: %v", err)
	}
	if len(stack) != 2 {
		t.Fatalf("stack length = %d, want 2", len(stack))
	}
	if stack[0] != root || stack[1] != sub {
		t.Error("PathStack did not resolve the expected directory chain")
	}
}

func TestPathStackStopsAtMissingComponent(t *testing.T) {
	root := record.NewDir()
	rootHash := chash.Sum([]byte("root"))

	ctx := New(nil, decorator.Identity{})
	ctx.Lock()
	ctx.SetHierarchy(tree.Hierarchy{rootHash: root})
	stack, err := ctx.PathStack(rootHash, []string{"missing"})
	ctx.Unlock()
	if err != nil {
		t.Fatalf("PathStack: %v", err)
	}
	if len(stack) != 1 {
		t.Errorf("stack length = %d, want 1 (stop at root)", len(stack))
	}
}

func TestInstallAndPutDir(t *testing.T) {
	ctx := New(nil, decorator.Identity{})
	d := record.NewDir()
	h := chash.Sum([]byte("x"))

	ctx.Lock()
	ctx.PutDir(h, d)
	ctx.Install(chash.Sum([]byte("snap")), h)
	got, ok := ctx.Hierarchy().Get(h)
	snapID := ctx.CurrentSnapshot()
	rootHash := ctx.RootHash()
	ctx.Unlock()

	if !ok || got != d {
		t.Error("PutDir did not register the directory")
	}
	if snapID != chash.Sum([]byte("snap")) || rootHash != h {
		t.Error("Install did not record snapshot/root")
	}
}

func TestSourceFlagDefaultsArmed(t *testing.T) {
	ctx := New(nil, decorator.Identity{})
	ctx.Lock()
	armed := ctx.Source()
	ctx.Unlock()
	if !armed {
		t.Error("expected Source() to default true")
	}
}
