// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package watch translates raw filesystem notifications into the
// mutate.Event shape the Merkle mutator consumes, grounded on
// original_source/src/eventhandlers/inotifier.py's NetDiskEventHandler.
//
// The original ran on Linux inotify through pyinotify, which tags a rename's
// two halves (IN_MOVED_FROM/IN_MOVED_TO) with a shared cookie so the handler
// can recognize them as one logical move. fsnotify (github.com/fsnotify/
// fsnotify, cross-platform) has no equivalent: a rename surfaces as a bare
// Rename op against the old path with no paired event and no cookie at all.
// Watcher recovers the same pairing heuristically: a Rename is emitted at
// once as a MovedFrom carrying a locally minted cookie, and stays pending
// for a short window waiting for the Create that names the new path: Linux
// delivers both from a single rename(2) call close enough in time (well
// under renamePairWindow) that a same-directory move or a short-distance
// cross-directory move reliably pairs. A Rename that times out unpaired is
// followed by a Delete for the old path — the safe fallback, since the original's own
// resolution of an unmatched MOVED_TO already treats that case as a fresh
// upload rather than assuming a pairing that cannot be confirmed.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rosycloud/rosycloud/internal/mutate"
)

// renamePairWindow bounds how long a Rename's old-path half waits for the
// matching new-path Create before it is given up on and a plain Delete is
// emitted after its MovedFrom.
const renamePairWindow = 250 * time.Millisecond

// writeSettleWindow debounces a burst of Write events on the same path into
// a single CLOSE_WRITE-equivalent event, since fsnotify does not report
// close(2) the way inotify's IN_CLOSE_WRITE does.
const writeSettleWindow = 100 * time.Millisecond

// Watcher recursively watches a directory tree and emits mutate.Events on
// Events.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	log     *slog.Logger
	Events  chan mutate.Event
	Errors  chan error
	cookies uint32

	pendingMu sync.Mutex
	pending   map[string]*pendingRename

	writeMu    sync.Mutex
	writeTimer map[string]*time.Timer
}

type pendingRename struct {
	cookie uint32
	timer  *time.Timer
}

// New starts watching root (and every directory beneath it, added
// recursively) and returns a Watcher whose Events channel yields translated
// mutate.Events until ctx is cancelled or Close is called.
func New(ctx context.Context, root string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:       root,
		fsw:        fsw,
		log:        log,
		Events:     make(chan mutate.Event, 64),
		Errors:     make(chan error, 8),
		pending:    make(map[string]*pendingRename),
		writeTimer: make(map[string]*time.Timer),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run(ctx)

	return w, nil
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch: add %s: %w", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
				w.log.Warn("watch: dropping fsnotify error, channel full", "error", err)
			}
		}
	}
}

func (w *Watcher) handleRaw(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		w.handleCreate(ev)
	case ev.Op&fsnotify.Write != 0:
		w.handleWrite(ev)
	case ev.Op&fsnotify.Remove != 0:
		w.handleRemove(ev)
	case ev.Op&fsnotify.Rename != 0:
		w.handleRename(ev)
	}
}

func (w *Watcher) handleCreate(ev fsnotify.Event) {
	isDir := w.statIsDir(ev.Name)
	if isDir {
		if err := w.addRecursive(ev.Name); err != nil {
			w.log.Warn("watch: failed to add new directory to watch set", "path", ev.Name, "error", err)
		}
	}

	// A Create arriving while a Rename is still unresolved is taken as the
	// new half of a move: pair them instead of emitting two independent
	// events. The MovedTo carries the new path's name.
	if cookie, wasMove, _ := w.resolvePendingRename(ev.Name); wasMove {
		w.emit(ev, mutate.MovedTo, isDir, cookie, "")
		return
	}

	w.emit(ev, mutate.Create, isDir, 0, "")
}

func (w *Watcher) handleWrite(ev fsnotify.Event) {
	w.writeMu.Lock()
	if t, exists := w.writeTimer[ev.Name]; exists {
		t.Stop()
	}
	w.writeTimer[ev.Name] = time.AfterFunc(writeSettleWindow, func() {
		w.writeMu.Lock()
		delete(w.writeTimer, ev.Name)
		w.writeMu.Unlock()
		w.emit(ev, mutate.CloseWrite, false, 0, "")
	})
	w.writeMu.Unlock()
}

func (w *Watcher) handleRemove(ev fsnotify.Event) {
	w.emit(ev, mutate.Delete, w.statIsDir(ev.Name), 0, "")
}

func (w *Watcher) handleRename(ev fsnotify.Event) {
	cookie := atomic.AddUint32(&w.cookies, 1)

	timer := time.AfterFunc(renamePairWindow, func() {
		w.pendingMu.Lock()
		_, stillPending := w.pending[ev.Name]
		delete(w.pending, ev.Name)
		w.pendingMu.Unlock()
		if stillPending {
			// No matching Create arrived in time: surface as a plain
			// delete rather than guess at a pairing we never confirmed.
			w.emit(ev, mutate.Delete, w.statIsDir(ev.Name), 0, "")
		}
	})

	w.pendingMu.Lock()
	w.pending[ev.Name] = &pendingRename{cookie: cookie, timer: timer}
	w.pendingMu.Unlock()

	w.emit(ev, mutate.MovedFrom, false, cookie, "")
}

func (w *Watcher) resolvePendingRename(newPath string) (cookie uint32, matched bool, fromName string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	// fsnotify gives no direct linkage between the old and new paths of a
	// rename; the only pending entries at this point are recent
	// MOVED_FROMs still inside their pairing window, so the most recently
	// registered one is the best available match.
	var bestPath string
	var best *pendingRename
	for path, p := range w.pending {
		if best == nil || p.cookie > best.cookie {
			best = p
			bestPath = path
		}
	}
	if best == nil {
		return 0, false, ""
	}

	best.timer.Stop()
	delete(w.pending, bestPath)
	return best.cookie, true, filepath.Base(bestPath)
}

func (w *Watcher) statIsDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func (w *Watcher) emit(ev fsnotify.Event, kind mutate.Kind, isDir bool, cookie uint32, overrideName string) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		w.log.Warn("watch: path outside watched root", "path", ev.Name, "error", err)
		return
	}
	components, name := splitRel(rel)
	if overrideName != "" {
		name = overrideName
	}

	out := mutate.Event{
		Kind:       kind,
		Components: components,
		Name:       name,
		IsDir:      isDir,
		Cookie:     cookie,
		SourcePath: ev.Name,
	}

	select {
	case w.Events <- out:
	default:
		w.log.Warn("watch: event channel full, dropping event", "kind", kind, "path", ev.Name)
	}
}

// splitRel splits a root-relative path into its containing directory
// components and final name, the shape mutate.Event expects.
func splitRel(rel string) (components []string, name string) {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	if len(parts) == 0 {
		return nil, rel
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}
