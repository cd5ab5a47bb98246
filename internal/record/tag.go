// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"fmt"

	"github.com/rosycloud/rosycloud/internal/chash"
)

const (
	tagLenSS   = chash.Len
	tagLenPath = 256

	// TagSize is the fixed record size: 32 + 256 = 288 bytes.
	TagSize = tagLenSS + tagLenPath
)

// Tag is a named pointer from a tag id to a snapshot id and path.
type Tag struct {
	SnapshotID chash.Hash
	Path       string
}

// Encode serializes t to its fixed 288-byte wire form.
func (t Tag) Encode() ([]byte, error) {
	if len(t.Path) > tagLenPath {
		return nil, fmt.Errorf("record: tag path %q exceeds %d bytes", t.Path, tagLenPath)
	}

	buf := make([]byte, TagSize)
	ss := t.SnapshotID.Bytes()
	copy(buf[0:tagLenSS], ss[:])
	copy(buf[tagLenSS:], []byte(t.Path))

	return buf, nil
}

// DecodeTag parses a fixed 288-byte wire record.
func DecodeTag(b []byte) (Tag, error) {
	if len(b) != TagSize {
		return Tag{}, fmt.Errorf("record: tag wants %d bytes, got %d", TagSize, len(b))
	}

	var t Tag
	var ss [tagLenSS]byte
	copy(ss[:], b[0:tagLenSS])
	t.SnapshotID = chash.FromBytes(ss)

	t.Path = string(bytes.TrimRight(b[tagLenSS:], "\x00"))

	return t, nil
}
