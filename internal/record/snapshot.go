// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"encoding/binary"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
)

// FlagMarked is the bit in Snapshot.Flag that marks a landmark snapshot.
const FlagMarked uint16 = 0x1

const (
	ssLenFlag = 2
	ssLenRoot = chash.Len
)

// Snapshot is an immutable record naming a root directory and zero or more
// parent snapshots.
type Snapshot struct {
	Flag    uint16
	Root    chash.Hash
	Parents []chash.Hash
}

// Marked reports whether the snapshot carries the landmark flag.
func (s Snapshot) Marked() bool {
	return s.Flag&FlagMarked != 0
}

// Mark sets the landmark flag.
func (s *Snapshot) Mark() {
	s.Flag |= FlagMarked
}

// Encode serializes s: flag(2) + root(32) + parent(32) per parent, or a
// single all-zero sentinel block when there are no parents.
func (s Snapshot) Encode() []byte {
	n := len(s.Parents)
	if n == 0 {
		n = 1
	}
	buf := make([]byte, ssLenFlag+ssLenRoot+n*chash.Len)

	binary.LittleEndian.PutUint16(buf[0:ssLenFlag], s.Flag)

	root := s.Root.Bytes()
	copy(buf[ssLenFlag:ssLenFlag+ssLenRoot], root[:])

	off := ssLenFlag + ssLenRoot
	if len(s.Parents) == 0 {
		zero := chash.Zero.Bytes()
		copy(buf[off:off+chash.Len], zero[:])
	} else {
		for _, p := range s.Parents {
			pb := p.Bytes()
			copy(buf[off:off+chash.Len], pb[:])
			off += chash.Len
		}
	}

	return buf
}

// DecodeSnapshot parses a Snapshot record. The terminator sentinel (an
// all-zero parent field) is consumed but not included in Parents.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	if len(b) < ssLenFlag+ssLenRoot {
		return Snapshot{}, fmt.Errorf("record: snapshot too short (%d bytes)", len(b))
	}
	if (len(b)-ssLenFlag-ssLenRoot)%chash.Len != 0 {
		return Snapshot{}, fmt.Errorf("record: snapshot parent section not a multiple of %d bytes", chash.Len)
	}

	var s Snapshot
	s.Flag = binary.LittleEndian.Uint16(b[0:ssLenFlag])

	var root [chash.Len]byte
	copy(root[:], b[ssLenFlag:ssLenFlag+ssLenRoot])
	s.Root = chash.FromBytes(root)

	off := ssLenFlag + ssLenRoot
	for off < len(b) {
		var p [chash.Len]byte
		copy(p[:], b[off:off+chash.Len])
		off += chash.Len

		h := chash.FromBytes(p)
		if h == chash.Zero {
			break
		}
		s.Parents = append(s.Parents, h)
	}

	return s, nil
}

// ID returns the content hash that identifies this snapshot: the hash of its
// decorated serialization. Callers decorate Encode()'s output and pass the
// result here; ID itself is decoration-agnostic so package record has no
// dependency on the decorator pipeline.
func (s Snapshot) ID(decoratedEncoding []byte) chash.Hash {
	return chash.Sum(decoratedEncoding)
}
