// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package gdrive implements store.Backend against Google Drive,
// generalizing original_source/src/fs/gdfs.py's GDFS onto the current
// drive/v3 client: there is no container concept on Drive, so "ss" and
// "t" folders are created (or found) under the account root at startup,
// exactly as the original's _create_folder_if_not_exists did, and every
// subsequent listing scopes its query to one of those two folder ids or
// to the account root for plain blobs.
package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/registry"
	"github.com/rosycloud/rosycloud/internal/retry"
	"github.com/rosycloud/rosycloud/internal/store"
)

// ID is the backend identifier configured via CLOUDS=gdrive.
const ID = "gdrive"

const mimeFolder = "application/vnd.google-apps.folder"
const mimeBlob = "application/octet-stream"

func init() {
	registry.Register(ID, func(config map[string]string) (store.Backend, error) {
		credFile, ok := config["CREDENTIALS_FILE"]
		if !ok {
			return nil, fmt.Errorf("gdrive: missing required config key CREDENTIALS_FILE")
		}
		return New(context.Background(), credFile)
	})
}

// Backend stores blobs as files at the Drive account root, and snapshots
// and tags as files inside dedicated "ss"/"t" folders.
type Backend struct {
	svc      *drive.Service
	ssFolder string
	tFolder  string
}

// New builds a Backend authenticated from the service account JSON key at
// credentialsFile, creating the "ss"/"t" folders if they don't already exist.
func New(ctx context.Context, credentialsFile string) (*Backend, error) {
	svc, err := drive.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}

	b := &Backend{svc: svc}

	err = retry.Do(ctx, retry.DefaultAttempts, func() error {
		ssFolder, ferr := b.folderIDOrCreate(ctx, "ss")
		if ferr != nil {
			return ferr
		}
		tFolder, ferr := b.folderIDOrCreate(ctx, "t")
		if ferr != nil {
			return ferr
		}
		b.ssFolder, b.tFolder = ssFolder, tFolder
		return nil
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
	return b.upload(ctx, id.String(), "", data)
}

func (b *Backend) Retrieve(ctx context.Context, id chash.Hash) ([]byte, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	return b.download(ctx, id.String(), "")
}

func (b *Backend) Remove(ctx context.Context, id chash.Hash) error {
	if id.IsEmpty() {
		return nil
	}
	return b.deleteByName(ctx, id.String(), "")
}

func (b *Backend) ListObjects(ctx context.Context) ([]chash.Hash, error) {
	files, err := b.listChildren(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]chash.Hash, 0, len(files))
	for _, f := range files {
		out = append(out, chash.Hash(f.Name))
	}
	return out, nil
}

func (b *Backend) ListSnapshots(ctx context.Context) (map[chash.Hash]time.Time, error) {
	files, err := b.listChildren(ctx, b.ssFolder)
	if err != nil {
		return nil, err
	}
	out := make(map[chash.Hash]time.Time, len(files))
	for _, f := range files {
		ts, perr := time.Parse(time.RFC3339, f.ModifiedTime)
		if perr != nil {
			continue
		}
		out[chash.Hash(f.Name)] = ts
	}
	return out, nil
}

func (b *Backend) GetSnapshot(ctx context.Context, id chash.Hash) (record.Snapshot, error) {
	data, err := b.download(ctx, id.String(), b.ssFolder)
	if err != nil {
		return record.Snapshot{}, err
	}
	return record.DecodeSnapshot(data)
}

func (b *Backend) AppendSnapshot(ctx context.Context, snap record.Snapshot) (chash.Hash, error) {
	encoded := snap.Encode()
	id := chash.Sum(encoded)

	if _, err := b.findFile(ctx, id.String(), b.ssFolder); err == nil {
		return id, nil // append-only: identical content already present.
	}

	if err := b.upload(ctx, id.String(), b.ssFolder, encoded); err != nil {
		return "", err
	}
	return id, nil
}

func (b *Backend) RemoveSnapshot(ctx context.Context, id chash.Hash) error {
	return b.deleteByName(ctx, id.String(), b.ssFolder)
}

func (b *Backend) ListTags(ctx context.Context) ([]string, error) {
	files, err := b.listChildren(ctx, b.tFolder)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out, nil
}

func (b *Backend) Tag(ctx context.Context, name string, tag record.Tag) error {
	encoded, err := tag.Encode()
	if err != nil {
		return err
	}
	return b.upload(ctx, name, b.tFolder, encoded)
}

func (b *Backend) GetTagged(ctx context.Context, name string) (record.Tag, error) {
	data, err := b.download(ctx, name, b.tFolder)
	if err != nil {
		return record.Tag{}, err
	}
	return record.DecodeTag(data)
}

func (b *Backend) Untag(ctx context.Context, name string) error {
	return b.deleteByName(ctx, name, b.tFolder)
}

func (b *Backend) Close() error { return nil }

func (b *Backend) folderIDOrCreate(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", name, mimeFolder)
	res, err := b.svc.Files.List().Q(query).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(res.Files) > 0 {
		return res.Files[0].Id, nil
	}

	f, err := b.svc.Files.Create(&drive.File{Name: name, MimeType: mimeFolder}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

// findFile locates the single file named name, scoped to parent (the
// account root when parent is empty), mirroring the original's _find.
func (b *Backend) findFile(ctx context.Context, name, parent string) (*drive.File, error) {
	query := fmt.Sprintf("name='%s' and trashed=false", name)
	if parent != "" {
		query += fmt.Sprintf(" and '%s' in parents", parent)
	}
	res, err := b.svc.Files.List().Q(query).Fields("files(id,name,modifiedTime)").Context(ctx).Do()
	if err != nil {
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	if len(res.Files) == 0 {
		return nil, store.ErrNotFound
	}
	return res.Files[0], nil
}

func (b *Backend) listChildren(ctx context.Context, parent string) ([]*drive.File, error) {
	query := "trashed=false"
	if parent != "" {
		query += fmt.Sprintf(" and '%s' in parents", parent)
	} else {
		query += fmt.Sprintf(" and not ('%s' in parents) and not ('%s' in parents) and mimeType != '%s'", b.ssFolder, b.tFolder, mimeFolder)
	}
	res, err := b.svc.Files.List().Q(query).Fields("files(id,name,modifiedTime)").Context(ctx).Do()
	if err != nil {
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	return res.Files, nil
}

func (b *Backend) upload(ctx context.Context, name, parent string, data []byte) error {
	existing, err := b.findFile(ctx, name, parent)
	if err == nil {
		_, uerr := b.svc.Files.Update(existing.Id, &drive.File{}).Media(newReader(data)).Context(ctx).Do()
		if uerr != nil {
			return &store.BackendUnavailableError{Backend: ID, Err: uerr}
		}
		return nil
	}
	if !store.IsNotFound(err) {
		return err
	}

	f := &drive.File{Name: name, MimeType: mimeBlob}
	if parent != "" {
		f.Parents = []string{parent}
	}
	_, cerr := b.svc.Files.Create(f).Media(newReader(data)).Context(ctx).Do()
	if cerr != nil {
		return &store.BackendUnavailableError{Backend: ID, Err: cerr}
	}
	return nil
}

func (b *Backend) download(ctx context.Context, name, parent string) ([]byte, error) {
	f, err := b.findFile(ctx, name, parent)
	if err != nil {
		return nil, err
	}
	resp, err := b.svc.Files.Get(f.Id).Context(ctx).Download()
	if err != nil {
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func newReader(data []byte) io.Reader { return bytes.NewReader(data) }

func (b *Backend) deleteByName(ctx context.Context, name, parent string) error {
	f, err := b.findFile(ctx, name, parent)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if derr := b.svc.Files.Delete(f.Id).Context(ctx).Do(); derr != nil {
		return &store.BackendUnavailableError{Backend: ID, Err: derr}
	}
	return nil
}
