// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rosycloud/rosycloud/internal/cache"
	"github.com/rosycloud/rosycloud/internal/config"
	"github.com/rosycloud/rosycloud/internal/decorator"
	"github.com/rosycloud/rosycloud/internal/pointerstore"
	"github.com/rosycloud/rosycloud/internal/registry"
	"github.com/rosycloud/rosycloud/internal/store"
)

// app bundles the resources every subcommand needs: the global config, the
// decorator pipeline, one store.Backend per configured cloud (in the order
// CLOUDS names them, first entry primary), and the durable root pointer.
type app struct {
	global   *config.Global
	dec      decorator.Decorator
	backends map[string]store.Backend
	order    []string
	pointers *pointerstore.Store
	log      *slog.Logger
}

func buildApp(configPath string) (*app, error) {
	global, err := config.LoadGlobal(configPath)
	if err != nil {
		return nil, &missingGlobalConfigError{path: configPath, err: err}
	}
	if len(global.Clouds) == 0 {
		return nil, &missingGlobalConfigError{path: configPath, err: fmt.Errorf("CLOUDS names no backends")}
	}

	for _, dir := range []string{global.SysDirSS, global.SysDirCache, global.SysTmp} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("rosycloud: create %s: %w", dir, err)
		}
	}

	dec, err := buildDecorator(global)
	if err != nil {
		return nil, err
	}

	log := slog.Default()

	backends := make(map[string]store.Backend, len(global.Clouds))
	for _, cloud := range global.Clouds {
		cloudConf, err := config.LoadCloud(filepath.Dir(configPath), cloud)
		if err != nil {
			return nil, fmt.Errorf("rosycloud: load %s.conf: %w", cloud, err)
		}
		if cloudConf == nil {
			return nil, &missingCloudConfigError{cloud: cloud}
		}

		merged := mergeConfig(global.Map, cloudConf)
		b, err := registry.New(cloud, merged)
		if err != nil {
			return nil, fmt.Errorf("rosycloud: build backend %s: %w", cloud, err)
		}

		// Every backend is wrapped in the local cache (SPEC_FULL.md §4.4):
		// reads are served cache-first and every write lands on disk as
		// well as the backend, so the engine, mutator and syncer never
		// talk to a raw backend directly.
		cached, err := cache.New(filepath.Join(global.SysDirCache, cloud), b, log)
		if err != nil {
			return nil, fmt.Errorf("rosycloud: build cache for %s: %w", cloud, err)
		}
		backends[cloud] = cached
	}

	pointers, err := pointerstore.Open(global.SysDB)
	if err != nil {
		return nil, fmt.Errorf("rosycloud: open pointer store: %w", err)
	}

	return &app{
		global:   global,
		dec:      dec,
		backends: backends,
		order:    global.Clouds,
		pointers: pointers,
		log:      log,
	}, nil
}

// buildDecorator builds the compress+encrypt chain from the global config's
// ENCRYPTION_KEY (32 bytes, hex-encoded), or decorator.Identity when unset —
// matching original_source/src/rosycloud.py's optional decorator parameters
// (spec.md §6's "decorator parameters" config keys).
func buildDecorator(global *config.Global) (decorator.Decorator, error) {
	hexKey, ok := global.Map["ENCRYPTION_KEY"]
	if !ok || hexKey == "" {
		return decorator.Identity{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("rosycloud: ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return decorator.NewDefault(key)
}

// mergeConfig layers cloud-specific keys over the global map, so a backend
// constructor sees both its own credentials and the shared SYS_DIR-derived
// paths without every backend.conf having to repeat them.
func mergeConfig(global config.Map, cloud config.Map) map[string]string {
	out := make(map[string]string, len(global)+len(cloud))
	for k, v := range global {
		out[k] = v
	}
	for k, v := range cloud {
		out[k] = v
	}
	return out
}

func (a *app) primaryCloud() string { return a.order[0] }

func (a *app) primaryBackend() store.Backend { return a.backends[a.primaryCloud()] }

func (a *app) Close() {
	a.pointers.Close()
	for _, b := range a.backends {
		b.Close()
	}
}

// Error types mapping onto spec.md §6's exit code table.

type missingGlobalConfigError struct {
	path string
	err  error
}

func (e *missingGlobalConfigError) Error() string {
	return fmt.Sprintf("rosycloud: global config %s: %v", e.path, e.err)
}

func (e *missingGlobalConfigError) Unwrap() error { return e.err }

type missingCloudConfigError struct {
	cloud string
}

func (e *missingCloudConfigError) Error() string {
	return fmt.Sprintf("rosycloud: missing %s.conf for configured cloud %q", e.cloud, e.cloud)
}

type targetExistsError struct {
	path string
}

func (e *targetExistsError) Error() string {
	return fmt.Sprintf("rosycloud: target %s already exists", e.path)
}

type badCLIError struct {
	what string
}

func (e *badCLIError) Error() string { return "rosycloud: " + e.what }

func isMissingGlobalConfig(err error) bool {
	var e *missingGlobalConfigError
	return errors.As(err, &e)
}

func isMissingCloudConfig(err error) bool {
	var e *missingCloudConfigError
	return errors.As(err, &e)
}

func isNotFound(err error) bool {
	return store.IsNotFound(err)
}

func isTargetExists(err error) bool {
	var e *targetExistsError
	return errors.As(err, &e) || errors.Is(err, os.ErrExist)
}

func isInvariantViolation(err error) bool {
	var e *store.InvariantViolationError
	return errors.As(err, &e)
}

func isFileNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
