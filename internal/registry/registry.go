// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package registry maps a backend id string to the constructor that builds
// a store.Backend for it, replacing the original implementation's
// class-name-keyed reflection (every *FS subclass carried an ID class
// attribute such as OSSFS.ID == "oss", looked up by string at startup) with
// an explicit Go table, per spec.md §9 Design Notes.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rosycloud/rosycloud/internal/store"
)

// Constructor builds a store.Backend from its resolved configuration.
// config is the raw key=value map read for this backend's config section;
// each constructor interprets its own keys.
type Constructor func(config map[string]string) (store.Backend, error)

var (
	mu    sync.RWMutex
	ctors = make(map[string]Constructor)
)

// Register associates id with a Constructor. Called from each backend
// adapter package's init(), so importing backend/local, backend/s3,
// backend/azureblob or backend/gdrive for side effect is sufficient to make
// that backend available by id.
func Register(id string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := ctors[id]; exists {
		panic(fmt.Sprintf("registry: backend id %q registered twice", id))
	}
	ctors[id] = ctor
}

// New builds the backend named id, per spec.md §9's replacement for the
// original's subclass ID constant lookup.
func New(id string, config map[string]string) (store.Backend, error) {
	mu.RLock()
	ctor, ok := ctors[id]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown backend id %q (known: %v)", id, knownLocked())
	}
	return ctor(config)
}

// Known returns every registered backend id, sorted, for error messages and
// the CLI's --help output.
func Known() []string {
	mu.RLock()
	defer mu.RUnlock()
	return knownLocked()
}

func knownLocked() []string {
	ids := make([]string, 0, len(ctors))
	for id := range ctors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
