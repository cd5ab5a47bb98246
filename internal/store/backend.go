// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package store defines the Backend contract every cloud/local object
// store adapter implements, and the namespace layout shared by all of
// them. Concrete adapters live under backend/ (local, s3, azureblob,
// gdrive); package store only knows the interface and the conventions
// grounded on original_source/src/fs/ossfs.py's "ss/", "t/" and blob-root
// prefixing scheme.
package store

import (
	"context"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
)

// Namespace prefixes a Backend must apply to keys of each kind, matching
// ossfs.py's SNAPSHOT_PREFIX ("ss/") and TAG_PREFIX ("t/"). Content blobs
// are unprefixed, living directly at the bucket/container root.
const (
	SnapshotNamespace = "ss/"
	TagNamespace      = "t/"
)

// Backend is the minimal contract a storage provider must satisfy: content
// blobs addressed by hash, an append-only snapshot log, and a mutable tag
// pointer table. Every method takes a context so network-backed
// implementations can honor cancellation and deadlines, per the teacher's
// convention of threading context.Context through blocking calls.
type Backend interface {
	// Store uploads already-decorated bytes under id, which the caller has
	// computed as chash.Sum(data). Storing chash.Empty is always a no-op,
	// so callers may pass it without checking first.
	Store(ctx context.Context, id chash.Hash, data []byte) error

	// Retrieve downloads the decorated bytes stored under id. Retrieving
	// chash.Empty returns (nil, nil) without touching the backend.
	Retrieve(ctx context.Context, id chash.Hash) ([]byte, error)

	// Remove deletes the blob at id. Removing an id that does not exist is
	// not an error.
	Remove(ctx context.Context, id chash.Hash) error

	// ListObjects enumerates every content blob id present, for use by the
	// garbage collector's reachability sweep.
	ListObjects(ctx context.Context) ([]chash.Hash, error)

	// ListSnapshots enumerates every snapshot id together with the time it
	// was appended, for DAG root discovery and landmark pruning.
	ListSnapshots(ctx context.Context) (map[chash.Hash]time.Time, error)

	// GetSnapshot fetches and decodes the snapshot record at id.
	GetSnapshot(ctx context.Context, id chash.Hash) (record.Snapshot, error)

	// AppendSnapshot writes a new snapshot record, returning the id it
	// was (or would be) stored under. Snapshots are content-addressed and
	// append-only: appending an id that already exists with different
	// content is an ErrConflict.
	AppendSnapshot(ctx context.Context, snap record.Snapshot) (chash.Hash, error)

	// RemoveSnapshot deletes a snapshot record, used by the GC's KEEP_ONE
	// and KEEP_LANDMARK policies.
	RemoveSnapshot(ctx context.Context, id chash.Hash) error

	// ListTags enumerates every tag name currently set.
	ListTags(ctx context.Context) ([]string, error)

	// Tag points name at the given tag record, overwriting any previous
	// value.
	Tag(ctx context.Context, name string, tag record.Tag) error

	// GetTagged resolves a tag name to its current record.
	GetTagged(ctx context.Context, name string) (record.Tag, error)

	// Untag removes a tag name. Untagging a name that does not exist is
	// not an error.
	Untag(ctx context.Context, name string) error

	// Close releases any resources (connections, file handles) held by
	// the backend.
	Close() error
}
