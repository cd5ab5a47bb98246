// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package chash defines the content hash used to address every blob,
// directory and snapshot in the engine.
//
// A Hash is the 32-hex-character (16-byte) BLAKE3 digest of the decorated
// bytes of an object, stored as an ASCII hex string so it fits directly into
// the fixed-width wire records defined by package record.
package chash

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Len is the number of hex characters (and on-wire bytes) a Hash occupies.
const Len = 32

// rawLen is the number of raw digest bytes hex-encoded into a Hash.
const rawLen = Len / 2

// Hash is a content hash: 32 lowercase hex characters.
type Hash string

// Empty is the reserved hash of the decorated empty payload. It short-circuits
// all blob I/O paths: stores are no-ops and retrieves return empty bytes
// without touching a backend.
var Empty = Sum(nil)

// Sum computes the content hash of decorated bytes.
func Sum(decorated []byte) Hash {
	full := blake3.Sum256(decorated)
	return Hash(hex.EncodeToString(full[:rawLen]))
}

// Zero is the all-zero hash used as the Snapshot parent sentinel ("no parent").
var Zero Hash = Hash(strings.Repeat("0", Len))

// Valid reports whether h is a well-formed Hash (exactly Len lowercase hex chars).
func (h Hash) Valid() bool {
	if len(h) != Len {
		return false
	}
	return strings.IndexFunc(string(h), func(r rune) bool {
		return !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f')
	}) == -1
}

// IsEmpty reports whether h is the reserved empty-payload hash.
func (h Hash) IsEmpty() bool {
	return h == Empty
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return string(h)
}

// Bytes returns the fixed-width on-wire representation: the hex characters
// of h as raw ASCII bytes, NUL-padded/truncated to Len.
func (h Hash) Bytes() [Len]byte {
	var out [Len]byte
	copy(out[:], []byte(h))
	return out
}

// FromBytes reconstructs a Hash from its fixed-width on-wire representation.
func FromBytes(b [Len]byte) Hash {
	s := string(b[:])
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return Hash(s)
}
