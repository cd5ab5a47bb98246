// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package record implements the fixed-field binary encoding for DirEntry,
// Dir, Snapshot and Tag records.
//
// Every record is little-endian and NUL-padded to a fixed width, matching
// the on-wire/on-disk layout fixed by the specification. The framing style
// (encoding/binary, little-endian, fixed header widths) follows the
// teacher's own binary protocol in client.go/fs.go rather than the
// msgpack encoding used elsewhere in this codebase — these records must
// round-trip bit-exact, so they get the same treatment as CXDB's wire frames.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
)

// ModeDir is the bit in DirEntry.Mode that marks a directory.
const ModeDir uint16 = 0x1

// Field widths, per spec.md §6.
const (
	deLenMode  = 2
	deLenFname = 128
	deLenObjID = chash.Len // 32
	deLenFsize = 4
	deLenSrc   = chash.Len // 32

	// DirEntrySize is the total fixed record size: 2+128+32+4+32 = 198 bytes.
	DirEntrySize = deLenMode + deLenFname + deLenObjID + deLenFsize + deLenSrc
)

// DirEntry is one directory member record.
type DirEntry struct {
	Mode   uint16
	Fname  string
	ObjID  chash.Hash
	Fsize  uint32
	Source chash.Hash
}

// IsDir reports whether the entry names a directory.
func (e DirEntry) IsDir() bool {
	return e.Mode&ModeDir != 0
}

// Encode serializes e to its fixed 198-byte wire form.
func (e DirEntry) Encode() ([]byte, error) {
	if len(e.Fname) > deLenFname {
		return nil, fmt.Errorf("record: fname %q exceeds %d bytes", e.Fname, deLenFname)
	}

	buf := make([]byte, DirEntrySize)
	binary.LittleEndian.PutUint16(buf[0:2], e.Mode)
	copy(buf[2:2+deLenFname], []byte(e.Fname))

	objID := e.ObjID.Bytes()
	copy(buf[2+deLenFname:2+deLenFname+deLenObjID], objID[:])

	binary.LittleEndian.PutUint32(buf[2+deLenFname+deLenObjID:2+deLenFname+deLenObjID+deLenFsize], e.Fsize)

	src := e.Source.Bytes()
	copy(buf[DirEntrySize-deLenSrc:], src[:])

	return buf, nil
}

// DecodeDirEntry parses a fixed 198-byte wire record.
func DecodeDirEntry(b []byte) (DirEntry, error) {
	if len(b) != DirEntrySize {
		return DirEntry{}, fmt.Errorf("record: DirEntry wants %d bytes, got %d", DirEntrySize, len(b))
	}

	var e DirEntry
	e.Mode = binary.LittleEndian.Uint16(b[0:2])

	nameField := b[2 : 2+deLenFname]
	e.Fname = string(bytes.TrimRight(nameField, "\x00"))

	var objID [deLenObjID]byte
	copy(objID[:], b[2+deLenFname:2+deLenFname+deLenObjID])
	e.ObjID = chash.FromBytes(objID)

	e.Fsize = binary.LittleEndian.Uint32(b[2+deLenFname+deLenObjID : 2+deLenFname+deLenObjID+deLenFsize])

	var src [deLenSrc]byte
	copy(src[:], b[DirEntrySize-deLenSrc:])
	e.Source = chash.FromBytes(src)

	return e, nil
}
