// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package decorator implements the symmetric, invertible compress+encrypt
// pipeline applied to every blob before it reaches a store.Backend, and
// undone on every blob as it comes back out.
//
// Decorate and Undecorate must be exact inverses: Undecorate(Decorate(b))
// == b for all b, since content hashes (package chash) are computed over
// the decorated bytes while every reader works with the plaintext that
// Undecorate recovers.
package decorator

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// Decorator applies a reversible transform to blob bytes on the way to and
// from storage. Implementations must be safe for concurrent use.
type Decorator interface {
	Decorate(plain []byte) ([]byte, error)
	Undecorate(decorated []byte) ([]byte, error)
}

// Chain applies a sequence of Decorators in order on Decorate, and in
// reverse order on Undecorate, the same composition technique as the
// teacher's retry/backoff wrapping in reconnect.go.
type Chain []Decorator

// Decorate runs plain through every stage in order.
func (c Chain) Decorate(plain []byte) ([]byte, error) {
	out := plain
	for _, d := range c {
		var err error
		out, err = d.Decorate(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Undecorate runs decorated through every stage in reverse order.
func (c Chain) Undecorate(decorated []byte) ([]byte, error) {
	out := decorated
	for i := len(c) - 1; i >= 0; i-- {
		var err error
		out, err = c[i].Undecorate(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// zstdCompressor implements Decorator with zstd compression. A single
// encoder/decoder pair is reused across calls, following klauspost/compress's
// documented recommendation to amortize their setup cost.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCompressor returns a Decorator that zstd-compresses on Decorate and
// decompresses on Undecorate.
func NewCompressor() (Decorator, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("decorator: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("decorator: new zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Decorate(plain []byte) ([]byte, error) {
	return z.enc.EncodeAll(plain, nil), nil
}

func (z *zstdCompressor) Undecorate(decorated []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(decorated, nil)
	if err != nil {
		return nil, fmt.Errorf("decorator: zstd decode: %w", err)
	}
	return out, nil
}

// aeadCipher implements Decorator with chacha20poly1305 authenticated
// encryption. The nonce is derived deterministically from the key and
// plaintext (a BLAKE3 MAC, truncated to the AEAD's nonce size) rather than
// drawn at random: package chash addresses every object by the hash of its
// decorated bytes, so Decorate must be a pure function of its input or the
// same directory would mint a new identity on every re-upload. This is the
// same convergent-encryption trade other content-addressed backup tools
// accept — it leaks which stored blobs share plaintext, not the plaintext
// itself.
type aeadCipher struct {
	key  []byte
	aead cipherAEAD
}

type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewCipher returns a Decorator that authenticates and encrypts blob bytes
// with chacha20poly1305 under key, which must be exactly 32 bytes.
func NewCipher(key []byte) (Decorator, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("decorator: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("decorator: new cipher: %w", err)
	}
	return &aeadCipher{key: key, aead: aead}, nil
}

func (c *aeadCipher) nonce(plain []byte) []byte {
	h := blake3.New()
	h.Write(c.key)
	h.Write(plain)
	return h.Sum(nil)[:c.aead.NonceSize()]
}

func (c *aeadCipher) Decorate(plain []byte) ([]byte, error) {
	nonce := c.nonce(plain)
	sealed := c.aead.Seal(nil, nonce, plain, nil)
	return append(nonce, sealed...), nil
}

func (c *aeadCipher) Undecorate(decorated []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(decorated) < n {
		return nil, fmt.Errorf("decorator: ciphertext shorter than nonce (%d bytes)", len(decorated))
	}
	nonce, ciphertext := decorated[:n], decorated[n:]
	out, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decorator: open: %w", err)
	}
	return out, nil
}

// NewDefault builds the standard compress-then-encrypt chain: plaintext is
// compressed first (so the entropy added by encryption doesn't defeat
// compression), then encrypted.
func NewDefault(key []byte) (Decorator, error) {
	comp, err := NewCompressor()
	if err != nil {
		return nil, err
	}
	ciph, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return Chain{comp, ciph}, nil
}

// Identity is a no-op Decorator, used when no key is configured (local-only,
// single-user setups where compression/encryption add no value).
type Identity struct{}

func (Identity) Decorate(plain []byte) ([]byte, error) { return plain, nil }

func (Identity) Undecorate(decorated []byte) ([]byte, error) { return bytes.Clone(decorated), nil }
