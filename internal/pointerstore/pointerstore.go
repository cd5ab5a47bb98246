// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package pointerstore persists the locally-known current root snapshot id
// across process restarts. The start command reads it on startup to seed
// the engine's "previous root" that new remote state is diffed against,
// and the sync orchestrator updates it after every successful tick.
//
// Grounded on the teacher's own bbolt usage pattern for small durable
// key/value state, with the root pointer's ancillary metadata (the time it
// was last set) carried as a msgpack-encoded value, mirroring
// encoding.go's EncodeMsgpack/DecodeMsgpackInto helpers.
package pointerstore

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/rosycloud/rosycloud/internal/chash"
)

var bucketName = []byte("rosycloud.pointer")

const rootKey = "root"

// record is the value stored at rootKey: the current snapshot id plus the
// time it was installed, so a restarted process can log how stale its view
// of the world is before the first tick refreshes it.
type record struct {
	SnapshotID string    `msgpack:"snapshot_id"`
	UpdatedAt  time.Time `msgpack:"updated_at"`
}

// Store is a single bbolt database file holding the current root pointer.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the pointer database at path, creating its bucket
// if absent.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("pointerstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pointerstore: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Root returns the currently stored snapshot id, or "" if none has ever
// been set.
func (s *Store) Root() (chash.Hash, error) {
	var id chash.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(rootKey))
		if raw == nil {
			return nil
		}
		var rec record
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode pointer record: %w", err)
		}
		id = chash.Hash(rec.SnapshotID)
		return nil
	})
	return id, err
}

// SetRoot persists id as the current root snapshot.
func (s *Store) SetRoot(id chash.Hash) error {
	rec := record{SnapshotID: string(id), UpdatedAt: time.Now()}
	raw, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pointerstore: encode pointer record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(rootKey), raw)
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
