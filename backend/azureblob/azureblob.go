// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package azureblob implements store.Backend against Azure Blob Storage,
// generalizing original_source/src/fs/azurefs.py's AzureFS onto the
// current azblob SDK: container-existence-check-then-create at
// construction, blobs named directly by hash, snapshots/tags under the
// "ss/"/"t/" prefixes listed via the container's hierarchical listing.
package azureblob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/registry"
	"github.com/rosycloud/rosycloud/internal/retry"
	"github.com/rosycloud/rosycloud/internal/store"
)

// ID is the backend identifier configured via CLOUDS=azureblob.
const ID = "azureblob"

func init() {
	registry.Register(ID, func(config map[string]string) (store.Backend, error) {
		account, ok := config["AZURE_ACCOUNT_NAME"]
		if !ok {
			return nil, fmt.Errorf("azureblob: missing required config key AZURE_ACCOUNT_NAME")
		}
		key, ok := config["AZURE_ACCOUNT_KEY"]
		if !ok {
			return nil, fmt.Errorf("azureblob: missing required config key AZURE_ACCOUNT_KEY")
		}
		containerName, ok := config["AZURE_CONTAINER"]
		if !ok {
			return nil, fmt.Errorf("azureblob: missing required config key AZURE_CONTAINER")
		}
		return New(context.Background(), account, key, containerName)
	})
}

// Backend stores blobs, snapshots and tags as blobs in a single Azure
// container, following the namespace convention package store defines.
type Backend struct {
	client        *azblob.Client
	containerName string
}

// New builds a Backend against the named container, creating it if it
// does not already exist.
func New(ctx context.Context, account, accountKey, containerName string) (*Backend, error) {
	cred, err := azblob.NewSharedKeyCredential(account, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azureblob: credentials: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azureblob: new client: %w", err)
	}

	b := &Backend{client: client, containerName: containerName}

	err = retry.Do(ctx, retry.DefaultAttempts, func() error {
		_, createErr := client.CreateContainer(ctx, containerName, nil)
		if createErr == nil || bloberror.HasCode(createErr, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return createErr
	})
	if err != nil {
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}

	return b, nil
}

var _ store.Backend = (*Backend)(nil)

func (b *Backend) Store(ctx context.Context, id chash.Hash, data []byte) error {
	if id.IsEmpty() {
		return nil
	}
	return b.upload(ctx, id.String(), data)
}

func (b *Backend) Retrieve(ctx context.Context, id chash.Hash) ([]byte, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	return b.download(ctx, id.String())
}

func (b *Backend) Remove(ctx context.Context, id chash.Hash) error {
	if id.IsEmpty() {
		return nil
	}
	return b.delete(ctx, id.String())
}

func (b *Backend) ListObjects(ctx context.Context) ([]chash.Hash, error) {
	var out []chash.Hash
	pager := b.client.NewListBlobsFlatPager(b.containerName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			name := *item.Name
			if !hasNamespacePrefix(name) {
				out = append(out, chash.Hash(name))
			}
		}
	}
	return out, nil
}

func (b *Backend) ListSnapshots(ctx context.Context) (map[chash.Hash]time.Time, error) {
	out := make(map[chash.Hash]time.Time)
	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: strPtr(store.SnapshotNamespace),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			id := chash.Hash((*item.Name)[len(store.SnapshotNamespace):])
			if item.Properties.LastModified != nil {
				out[id] = *item.Properties.LastModified
			}
		}
	}
	return out, nil
}

func (b *Backend) GetSnapshot(ctx context.Context, id chash.Hash) (record.Snapshot, error) {
	data, err := b.download(ctx, store.SnapshotNamespace+id.String())
	if err != nil {
		return record.Snapshot{}, err
	}
	return record.DecodeSnapshot(data)
}

func (b *Backend) AppendSnapshot(ctx context.Context, snap record.Snapshot) (chash.Hash, error) {
	encoded := snap.Encode()
	id := chash.Sum(encoded)
	key := store.SnapshotNamespace + id.String()

	if _, err := b.download(ctx, key); err == nil {
		return id, nil // append-only: identical content already present.
	}

	if err := b.upload(ctx, key, encoded); err != nil {
		return "", err
	}
	return id, nil
}

func (b *Backend) RemoveSnapshot(ctx context.Context, id chash.Hash) error {
	return b.delete(ctx, store.SnapshotNamespace+id.String())
}

func (b *Backend) ListTags(ctx context.Context) ([]string, error) {
	var out []string
	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: strPtr(store.TagNamespace),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			out = append(out, (*item.Name)[len(store.TagNamespace):])
		}
	}
	return out, nil
}

func (b *Backend) Tag(ctx context.Context, name string, tag record.Tag) error {
	encoded, err := tag.Encode()
	if err != nil {
		return err
	}
	return b.upload(ctx, store.TagNamespace+name, encoded)
}

func (b *Backend) GetTagged(ctx context.Context, name string) (record.Tag, error) {
	data, err := b.download(ctx, store.TagNamespace+name)
	if err != nil {
		return record.Tag{}, err
	}
	return record.DecodeTag(data)
}

func (b *Backend) Untag(ctx context.Context, name string) error {
	return b.delete(ctx, store.TagNamespace+name)
}

func (b *Backend) Close() error { return nil }

func (b *Backend) upload(ctx context.Context, key string, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.containerName, key, data, nil)
	if err != nil {
		return &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	return nil
}

func (b *Backend) download(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.containerName, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *Backend) delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteBlob(ctx, b.containerName, key, nil)
	if err != nil && bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

func strPtr(s string) *string { return &s }

func hasNamespacePrefix(key string) bool {
	return len(key) >= len(store.SnapshotNamespace) && key[:len(store.SnapshotNamespace)] == store.SnapshotNamespace ||
		len(key) >= len(store.TagNamespace) && key[:len(store.TagNamespace)] == store.TagNamespace
}
