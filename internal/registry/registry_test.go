// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/store"
)

type nopBackend struct{}

func (nopBackend) Store(context.Context, chash.Hash, []byte) error         { return nil }
func (nopBackend) Retrieve(context.Context, chash.Hash) ([]byte, error)    { return nil, nil }
func (nopBackend) Remove(context.Context, chash.Hash) error                { return nil }
func (nopBackend) ListObjects(context.Context) ([]chash.Hash, error)       { return nil, nil }
func (nopBackend) ListSnapshots(context.Context) (map[chash.Hash]time.Time, error) {
	return nil, nil
}
func (nopBackend) GetSnapshot(context.Context, chash.Hash) (record.Snapshot, error) {
	return record.Snapshot{}, store.ErrNotFound
}
func (nopBackend) AppendSnapshot(context.Context, record.Snapshot) (chash.Hash, error) {
	return "", nil
}
func (nopBackend) RemoveSnapshot(context.Context, chash.Hash) error { return nil }
func (nopBackend) ListTags(context.Context) ([]string, error)      { return nil, nil }
func (nopBackend) Tag(context.Context, string, record.Tag) error    { return nil }
func (nopBackend) GetTagged(context.Context, string) (record.Tag, error) {
	return record.Tag{}, store.ErrNotFound
}
func (nopBackend) Untag(context.Context, string) error { return nil }
func (nopBackend) Close() error                        { return nil }

func TestRegisterAndNew(t *testing.T) {
	id := "test-backend-register-and-new"
	Register(id, func(config map[string]string) (store.Backend, error) {
		return nopBackend{}, nil
	})

	b, err := New(id, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.(nopBackend); !ok {
		t.Errorf("New returned %T, want nopBackend", b)
	}

	found := false
	for _, known := range Known() {
		if known == id {
			found = true
		}
	}
	if !found {
		t.Errorf("Known() = %v, want it to contain %q", Known(), id)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("test-backend-does-not-exist", nil); err == nil {
		t.Error("expected an error for an unregistered backend id")
	}
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	id := "test-backend-duplicate"
	Register(id, func(map[string]string) (store.Backend, error) { return nopBackend{}, nil })

	defer func() {
		if recover() == nil {
			t.Error("expected Register to panic on duplicate id")
		}
	}()
	Register(id, func(map[string]string) (store.Backend, error) { return nopBackend{}, nil })
}
