// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"testing"

	"github.com/rosycloud/rosycloud/internal/chash"
)

func TestDirEntryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		e    DirEntry
	}{
		{"file", DirEntry{Mode: 0, Fname: "a.txt", ObjID: chash.Sum([]byte("hello")), Fsize: 5}},
		{"dir", DirEntry{Mode: ModeDir, Fname: "sub", ObjID: chash.Sum([]byte("dir-content")), Fsize: 0}},
		{"empty-name", DirEntry{Mode: 0, Fname: "", ObjID: chash.Empty, Fsize: 0}},
		{"with-source", DirEntry{Mode: 0, Fname: "x", ObjID: chash.Sum([]byte("A")), Fsize: 1, Source: chash.Sum([]byte("prov"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := tt.e.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(enc) != DirEntrySize {
				t.Fatalf("Encode length = %d, want %d", len(enc), DirEntrySize)
			}

			got, err := DecodeDirEntry(enc)
			if err != nil {
				t.Fatalf("DecodeDirEntry: %v", err)
			}
			if got != tt.e {
				t.Errorf("round trip = %+v, want %+v", got, tt.e)
			}
		})
	}
}

func TestDirEntryFnameTooLong(t *testing.T) {
	e := DirEntry{Fname: string(make([]byte, deLenFname+1))}
	if _, err := e.Encode(); err == nil {
		t.Error("expected error for over-long fname")
	}
}

func TestDirRoundTrip(t *testing.T) {
	d := NewDir()
	d.Add(DirEntry{Fname: "b.txt", ObjID: chash.Sum([]byte("B")), Fsize: 1})
	d.Add(DirEntry{Fname: "a.txt", ObjID: chash.Sum([]byte("A")), Fsize: 1})
	d.Add(DirEntry{Fname: "sub", Mode: ModeDir, ObjID: chash.Sum([]byte("sub-dir"))})

	enc, err := d.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc)%DirEntrySize != 0 {
		t.Fatalf("Encode length %d is not a multiple of %d", len(enc), DirEntrySize)
	}

	got, err := DecodeDir(enc)
	if err != nil {
		t.Fatalf("DecodeDir: %v", err)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(got.Entries))
	}
	for name, e := range d.Entries {
		ge, ok := got.Entries[name]
		if !ok || ge != e {
			t.Errorf("entry %q = %+v, want %+v", name, ge, e)
		}
	}
}

func TestDirEncodeDeterministic(t *testing.T) {
	mk := func(order []string) *Dir {
		d := NewDir()
		for _, n := range order {
			d.Add(DirEntry{Fname: n, ObjID: chash.Sum([]byte(n))})
		}
		return d
	}

	d1 := mk([]string{"c", "a", "b"})
	d2 := mk([]string{"a", "b", "c"})

	e1, _ := d1.Encode()
	e2, _ := d2.Encode()
	if string(e1) != string(e2) {
		t.Error("Encode is not deterministic across insertion order")
	}
}

func TestDirDecodeDropsTrailingPartialRecord(t *testing.T) {
	d := NewDir()
	d.Add(DirEntry{Fname: "a", ObjID: chash.Sum([]byte("a"))})
	enc, _ := d.Encode()
	corrupted := append(enc, []byte{1, 2, 3}...)

	got, err := DecodeDir(corrupted)
	if err != nil {
		t.Fatalf("DecodeDir: %v", err)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(got.Entries))
	}
}

func TestDirDiff(t *testing.T) {
	oldD := NewDir()
	oldD.Add(DirEntry{Fname: "keep", ObjID: chash.Sum([]byte("k"))})
	oldD.Add(DirEntry{Fname: "gone", ObjID: chash.Sum([]byte("g"))})
	oldD.Add(DirEntry{Fname: "changed", ObjID: chash.Sum([]byte("old"))})

	newD := NewDir()
	newD.Add(DirEntry{Fname: "keep", ObjID: chash.Sum([]byte("k"))})
	newD.Add(DirEntry{Fname: "changed", ObjID: chash.Sum([]byte("new"))})
	newD.Add(DirEntry{Fname: "added", ObjID: chash.Sum([]byte("a"))})

	created, updated, removed := newD.Diff(oldD)
	if len(created) != 1 || created[0].Fname != "added" {
		t.Errorf("created = %+v", created)
	}
	if len(updated) != 1 || updated[0].Fname != "changed" {
		t.Errorf("updated = %+v", updated)
	}
	if len(removed) != 1 || removed[0].Fname != "gone" {
		t.Errorf("removed = %+v", removed)
	}
}

func TestSnapshotRoundTripNoParents(t *testing.T) {
	s := Snapshot{Flag: FlagMarked, Root: chash.Sum([]byte("root"))}
	enc := s.Encode()

	got, err := DecodeSnapshot(enc)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if got.Flag != s.Flag || got.Root != s.Root || len(got.Parents) != 0 {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
	if !got.Marked() {
		t.Error("expected marked snapshot")
	}
}

func TestSnapshotRoundTripMultipleParents(t *testing.T) {
	s := Snapshot{
		Root:    chash.Sum([]byte("root")),
		Parents: []chash.Hash{chash.Sum([]byte("p1")), chash.Sum([]byte("p2"))},
	}
	enc := s.Encode()

	got, err := DecodeSnapshot(enc)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if len(got.Parents) != 2 || got.Parents[0] != s.Parents[0] || got.Parents[1] != s.Parents[1] {
		t.Errorf("round trip parents = %+v, want %+v", got.Parents, s.Parents)
	}
}

func TestTagRoundTrip(t *testing.T) {
	tag := Tag{SnapshotID: chash.Sum([]byte("ss")), Path: "/some/path"}
	enc, err := tag.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc) != TagSize {
		t.Fatalf("Encode length = %d, want %d", len(enc), TagSize)
	}

	got, err := DecodeTag(enc)
	if err != nil {
		t.Fatalf("DecodeTag: %v", err)
	}
	if got != tag {
		t.Errorf("round trip = %+v, want %+v", got, tag)
	}
}
