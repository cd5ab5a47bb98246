// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package decorator

import (
	"bytes"
	"testing"
)

func TestCompressorRoundTrip(t *testing.T) {
	c, err := NewCompressor()
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}

	plain := bytes.Repeat([]byte("hello world, this compresses nicely. "), 64)
	enc, err := c.Decorate(plain)
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	if len(enc) >= len(plain) {
		t.Errorf("compressed length %d not smaller than plain %d", len(enc), len(plain))
	}

	got, err := c.Undecorate(enc)
	if err != nil {
		t.Fatalf("Undecorate: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("round trip mismatch")
	}
}

func TestCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plain := []byte("top secret directory listing")
	enc1, err := c.Decorate(plain)
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	enc2, err := c.Decorate(plain)
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	if !bytes.Equal(enc1, enc2) {
		t.Error("expected identical ciphertexts across calls (deterministic nonce for content addressing)")
	}

	got, err := c.Undecorate(enc1)
	if err != nil {
		t.Fatalf("Undecorate: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("round trip mismatch")
	}
}

func TestCipherRejectsBadKeyLength(t *testing.T) {
	if _, err := NewCipher([]byte("too short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestCipherRejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x7}, 32)
	c, _ := NewCipher(key)

	enc, err := c.Decorate([]byte("payload"))
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	enc[len(enc)-1] ^= 0xFF

	if _, err := c.Undecorate(enc); err == nil {
		t.Error("expected authentication failure on tampered ciphertext")
	}
}

func TestChainRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x9}, 32)
	ch, err := NewDefault(key)
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}

	plain := []byte("directory contents go here, repeated repeated repeated")
	enc, err := ch.Decorate(plain)
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	got, err := ch.Undecorate(enc)
	if err != nil {
		t.Fatalf("Undecorate: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("chain round trip mismatch")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	var id Identity
	plain := []byte("passthrough")

	enc, err := id.Decorate(plain)
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	got, err := id.Undecorate(enc)
	if err != nil {
		t.Fatalf("Undecorate: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("identity round trip mismatch")
	}
}
