// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package mutate implements the event-driven Merkle mutator: it consumes
// filesystem change events and performs an upward copy-on-write rebuild of
// the directory hierarchy, appending a new snapshot after each event, per
// spec.md §4.8.
package mutate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"log/slog"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/engine"
	"github.com/rosycloud/rosycloud/internal/record"
)

// Kind enumerates the five filesystem event kinds the mutator reacts to.
type Kind int

const (
	Create Kind = iota
	Delete
	CloseWrite
	MovedFrom
	MovedTo
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "CREATE"
	case Delete:
		return "DELETE"
	case CloseWrite:
		return "CLOSE_WRITE"
	case MovedFrom:
		return "MOVED_FROM"
	case MovedTo:
		return "MOVED_TO"
	default:
		return "UNKNOWN"
	}
}

// Event describes one raw filesystem change, already translated from
// whatever watcher produced it (package watch) into the shape the mutator
// understands.
type Event struct {
	Kind Kind

	// Components is the path, as a sequence of directory names, from the
	// tree root down to and including the directory Name lives in; it is
	// empty when Name lives directly in the tree root.
	Components []string

	// Name is the final path component: the file or directory the event
	// is about.
	Name string

	IsDir bool

	// Cookie pairs a MOVED_FROM with its matching MOVED_TO, per inotify's
	// own cookie convention.
	Cookie uint32

	// SourcePath is the absolute filesystem path of the affected file,
	// used to read file content or re-link it into the temp directory.
	SourcePath string
}

// Mutator applies Events to the engine's hierarchy and publishes a new
// snapshot after each one.
type Mutator struct {
	ctx    *engine.Context
	tmpDir string
	ignore []string
	log    *slog.Logger

	moveMu       sync.Mutex
	moveCookie   uint32
	moveSrc      *record.DirEntry
	moveFromName string
}

// New returns a Mutator that buffers in-flight writes under tmpDir and
// silently drops events whose relative path matches any of ignore (shell
// glob syntax, matched with path/filepath.Match — the same pattern
// language fnmatch.fnmatch(relpath, pattern) used in the original
// implementation).
func New(ectx *engine.Context, tmpDir string, ignore []string, log *slog.Logger) *Mutator {
	if log == nil {
		log = slog.Default()
	}
	return &Mutator{ctx: ectx, tmpDir: tmpDir, ignore: ignore, log: log}
}

// Handle dispatches ev to the appropriate handler, gated on the ignore
// filter and the engine's source flag.
func (m *Mutator) Handle(ctx context.Context, ev Event) error {
	relPath := filepath.Join(filepath.Join(ev.Components...), ev.Name)
	if m.omitted(relPath) {
		return nil
	}

	m.ctx.Lock()
	defer m.ctx.Unlock()

	if !m.ctx.Source() {
		m.log.Debug("mutator: dropping event, sync in progress", "kind", ev.Kind, "path", relPath)
		return nil
	}

	switch ev.Kind {
	case Create:
		return m.handleCreate(ctx, ev)
	case Delete:
		return m.handleDelete(ctx, ev)
	case CloseWrite:
		return m.handleCloseWrite(ctx, ev)
	case MovedFrom:
		return m.handleMovedFrom(ctx, ev)
	case MovedTo:
		return m.handleMovedTo(ctx, ev)
	default:
		return fmt.Errorf("mutate: unknown event kind %v", ev.Kind)
	}
}

func (m *Mutator) omitted(relPath string) bool {
	for _, pattern := range m.ignore {
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

func (m *Mutator) handleCreate(ctx context.Context, ev Event) error {
	defer m.clearMovePair()

	if ev.IsDir {
		entry := record.DirEntry{Mode: record.ModeDir, Fname: ev.Name, ObjID: chash.Empty}
		return m.rebuild(ctx, ev, false, func(leaf *record.Dir) { leaf.Add(entry) })
	}

	// A plain file creation only hard-links the incoming bytes into the
	// temp directory; the directory tree isn't touched until CLOSE_WRITE
	// observes a stable byte sequence.
	return os.Link(ev.SourcePath, m.tmpPath(ev.Name))
}

func (m *Mutator) handleDelete(ctx context.Context, ev Event) error {
	defer m.clearMovePair()

	if err := m.rebuild(ctx, ev, false, func(leaf *record.Dir) { leaf.Remove(ev.Name) }); err != nil {
		return err
	}

	tmp := m.tmpPath(ev.Name)
	if _, err := os.Stat(tmp); err == nil {
		return os.Remove(tmp)
	}
	return nil
}

func (m *Mutator) handleCloseWrite(ctx context.Context, ev Event) error {
	defer m.clearMovePair()

	if ev.IsDir {
		return nil
	}

	tmp := m.tmpPath(ev.Name)
	if _, err := os.Stat(tmp); err != nil {
		if err := os.Link(ev.SourcePath, tmp); err != nil {
			return fmt.Errorf("mutate: link %s: %w", ev.SourcePath, err)
		}
	}

	hash, size, err := m.uploadFile(ctx, tmp)
	if err != nil {
		return err
	}

	entry := record.DirEntry{Fname: ev.Name, ObjID: hash, Fsize: uint32(size)}
	return m.rebuild(ctx, ev, false, func(leaf *record.Dir) { leaf.Add(entry) })
}

func (m *Mutator) handleMovedFrom(ctx context.Context, ev Event) error {
	stack, err := m.ctx.PathStack(m.ctx.RootHash(), ev.Components)
	if err != nil {
		return err
	}
	if len(stack) == 0 {
		return nil
	}
	leaf := stack[len(stack)-1]
	src, ok := leaf.Get(ev.Name)
	if !ok {
		return nil
	}

	m.moveMu.Lock()
	m.moveCookie = ev.Cookie
	srcCopy := src
	m.moveSrc = &srcCopy
	m.moveFromName = ev.Name
	m.moveMu.Unlock()

	return m.rebuild(ctx, ev, false, func(d *record.Dir) { d.Remove(ev.Name) })
}

func (m *Mutator) handleMovedTo(ctx context.Context, ev Event) error {
	defer m.clearMovePair()

	m.moveMu.Lock()
	matched := m.moveCookie != 0 && m.moveCookie == ev.Cookie
	src := m.moveSrc
	fromName := m.moveFromName
	m.moveMu.Unlock()

	var entry record.DirEntry
	rmCurrentSnapshot := false

	if matched && src != nil {
		entry = *src
		entry.Fname = ev.Name
		rmCurrentSnapshot = true
	} else {
		// No matching cookie: either the file moved in from outside the
		// watched tree, or its MOVED_FROM pair was itself ignored. Per
		// spec.md §9's resolution of the original's unreachable
		// tmp_path-before-assignment branch, treat it as a fresh creation
		// and re-upload from the event's actual source path rather than a
		// path that was never established.
		hash, size, err := m.uploadFile(ctx, ev.SourcePath)
		if err != nil {
			return err
		}
		entry = record.DirEntry{Fname: ev.Name, ObjID: hash, Fsize: uint32(size)}
		if ev.IsDir {
			entry.Mode = record.ModeDir
		}
	}

	if err := m.rebuild(ctx, ev, rmCurrentSnapshot, func(d *record.Dir) { d.Add(entry) }); err != nil {
		return err
	}

	tmpFrom := m.tmpPath(fromName)
	tmpTo := m.tmpPath(ev.Name)
	if _, err := os.Stat(tmpFrom); err == nil {
		return os.Rename(tmpFrom, tmpTo)
	}
	if _, err := os.Stat(tmpTo); err != nil {
		return os.Link(ev.SourcePath, tmpTo)
	}
	return nil
}

func (m *Mutator) clearMovePair() {
	m.moveMu.Lock()
	m.moveCookie = 0
	m.moveSrc = nil
	m.moveFromName = ""
	m.moveMu.Unlock()
}

func (m *Mutator) tmpPath(name string) string {
	return filepath.Join(m.tmpDir, name)
}

func (m *Mutator) uploadFile(ctx context.Context, path string) (chash.Hash, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("mutate: read %s: %w", path, err)
	}
	decorated, err := m.ctx.Decor.Decorate(data)
	if err != nil {
		return "", 0, fmt.Errorf("mutate: decorate %s: %w", path, err)
	}
	hash := chash.Sum(decorated)
	if err := m.storeAll(ctx, hash, decorated); err != nil {
		return "", 0, fmt.Errorf("mutate: store %s: %w", path, err)
	}
	return hash, int64(len(data)), nil
}

// storeAll writes a decorated blob to every configured backend. Per
// spec.md §2/§4.8, a locally produced blob is appended to the local cache
// and every backend, not just the one the engine happens to read from.
func (m *Mutator) storeAll(ctx context.Context, hash chash.Hash, decorated []byte) error {
	for _, b := range m.ctx.Backends {
		if err := b.Store(ctx, hash, decorated); err != nil {
			return err
		}
	}
	return nil
}
