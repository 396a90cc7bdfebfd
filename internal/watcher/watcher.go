// Package watcher tracks file changes under session worktrees. Each
// session gets a baseline snapshot when a turn starts; filesystem events
// after that are published as file.watcher.updated and folded into the
// session's accumulated diff.
package watcher

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Snapshot walk limits. Oversized and binary files are tracked by name
// only; their diffs carry no patch text.
const (
	maxFileSize  = 512 * 1024
	maxSnapFiles = 10000
	sniffLen     = 8000
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
	".idea":        true,
	"__pycache__":  true,
}

// baseline is a session's file state at snapshot time. Files first seen in
// a later snapshot are added without disturbing earlier entries, so diffs
// accumulate from the session's first turn.
type baseline struct {
	directory string
	files     map[string]string // relative path -> content ("" for untracked binary)
	known     map[string]bool
}

// Watcher owns the fsnotify instance and the per-session baselines.
type Watcher struct {
	store *store.Store
	bus   *event.Bus
	fsw   *fsnotify.Watcher

	mu       sync.Mutex
	sessions map[string]*baseline // sessionID -> baseline
	watched  map[string]bool      // directories added to fsnotify

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a watcher. Call Start to begin processing events.
func New(st *store.Store, bus *event.Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    st,
		bus:      bus,
		fsw:      fsw,
		sessions: make(map[string]*baseline),
		watched:  make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the event loop.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.fsw.Close()
}

// Snapshot records the session's current file state and starts watching
// its directory tree. Files already in the baseline keep their original
// content so the accumulated diff spans the whole session. Implements the
// engine's Snapshotter.
func (w *Watcher) Snapshot(sessionID, directory string) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return
	}

	w.mu.Lock()
	base, ok := w.sessions[sessionID]
	if !ok {
		base = &baseline{
			directory: directory,
			files:     make(map[string]string),
			known:     make(map[string]bool),
		}
		w.sessions[sessionID] = base
	}
	w.mu.Unlock()

	count := 0
	err = filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != directory {
				return filepath.SkipDir
			}
			w.watch(path)
			return nil
		}
		if count >= maxSnapFiles {
			return filepath.SkipAll
		}
		count++

		rel, err := filepath.Rel(directory, path)
		if err != nil {
			return nil
		}

		w.mu.Lock()
		seen := base.known[rel]
		w.mu.Unlock()
		if seen {
			return nil
		}

		content, ok := readText(path)
		w.mu.Lock()
		base.known[rel] = true
		if ok {
			base.files[rel] = content
		}
		w.mu.Unlock()
		return nil
	})
	if err != nil {
		logging.Warn().Err(err).Str("directory", directory).Msg("snapshot walk failed")
	}
}

// Forget drops a session's baseline, e.g. after the session is deleted.
func (w *Watcher) Forget(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}

func (w *Watcher) watch(dir string) {
	w.mu.Lock()
	if w.watched[dir] {
		w.mu.Unlock()
		return
	}
	w.watched[dir] = true
	w.mu.Unlock()

	if err := w.fsw.Add(dir); err != nil {
		logging.Debug().Err(err).Str("dir", dir).Msg("watch add failed")
	}
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	kind := eventKind(ev.Op)
	if kind == "" {
		return
	}

	if kind == "add" {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDirs[filepath.Base(ev.Name)] {
				w.watch(ev.Name)
			}
			return
		}
	}
	if skipPath(ev.Name) {
		return
	}

	w.bus.Publish(event.FileWatcherUpdated, event.FileWatcherUpdatedData{
		File:  ev.Name,
		Event: kind,
	})
	w.recordChange(ev.Name)
}

// recordChange refreshes the diff entry for the changed file in every
// session whose baseline covers it.
func (w *Watcher) recordChange(path string) {
	w.mu.Lock()
	type target struct {
		sessionID string
		rel       string
		before    string
		tracked   bool
	}
	var targets []target
	for sessionID, base := range w.sessions {
		rel, err := filepath.Rel(base.directory, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		before, tracked := base.files[rel]
		targets = append(targets, target{sessionID, rel, before, tracked})
	}
	w.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	after, textual := readText(path)
	deleted := false
	if _, err := os.Stat(path); err != nil {
		deleted = true
		after = ""
	}

	for _, tg := range targets {
		if !tg.tracked && !textual && !deleted {
			continue
		}
		fd := diffFile(tg.rel, tg.before, after)
		if err := w.updateDiff(tg.sessionID, fd); err != nil {
			logging.Warn().Err(err).Str("session", tg.sessionID).Msg("diff update failed")
		}
	}
}

// updateDiff upserts one file's entry in the session summary and
// recomputes the counters.
func (w *Watcher) updateDiff(sessionID string, fd types.FileDiff) error {
	ctx := context.Background()
	return w.store.Tx(ctx, func(r *store.Repo) error {
		summary, err := r.GetDiff(ctx, sessionID)
		if err != nil {
			return err
		}

		replaced := false
		diffs := summary.Diffs[:0]
		for _, d := range summary.Diffs {
			if d.Path == fd.Path {
				replaced = true
				if fd.Additions > 0 || fd.Deletions > 0 || fd.Diff != "" {
					diffs = append(diffs, fd)
				}
				continue
			}
			diffs = append(diffs, d)
		}
		if !replaced && (fd.Additions > 0 || fd.Deletions > 0 || fd.Diff != "") {
			diffs = append(diffs, fd)
		}
		sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })

		summary = types.SessionSummary{Diffs: diffs, Files: len(diffs)}
		for _, d := range diffs {
			summary.Additions += d.Additions
			summary.Deletions += d.Deletions
		}
		return r.PutDiff(ctx, sessionID, summary)
	})
}

func eventKind(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "add"
	case op.Has(fsnotify.Write):
		return "change"
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return "unlink"
	}
	return ""
}

func skipPath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

// readText loads a file when it is small and textual. The second return
// is false for missing, oversized, or binary files.
func readText(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > maxFileSize {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	sniff := data
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return "", false
	}
	return string(data), true
}
