// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher turns filesystem changes under the rho home into debounced
// UI-event broadcasts.
package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wingedpig/rho/internal/events"
	"github.com/wingedpig/rho/internal/session"
)

const (
	gitContextKey = "git-context"
	sessionsKey   = "sessions"
)

// Watcher observes the git context file and the sessions tree, emitting
// git_context_changed and sessions_changed on the UI-event bus.
type Watcher struct {
	bus       *events.Bus
	fsw       *fsnotify.Watcher
	debouncer *Debouncer

	mu             sync.Mutex
	gitContextPath string
	sessionsDir    string
	closed         bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher publishing to bus, debounced at the given duration.
func New(bus *events.Bus, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		bus:       bus,
		fsw:       fsw,
		debouncer: NewDebouncer(debounce),
		closeCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// WatchGitContext watches the directory containing the git context file. The
// file itself may not exist yet.
func (w *Watcher) WatchGitContext(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.mu.Lock()
	w.gitContextPath = abs
	w.mu.Unlock()

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create git context dir: %w", err)
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}

// WatchSessions watches the sessions root and its per-cwd subdirectories.
// Directories created later are picked up from their create events.
func (w *Watcher) WatchSessions(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	w.mu.Lock()
	w.sessionsDir = abs
	w.mu.Unlock()

	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if session.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Printf("watcher: cannot watch %s: %v", path, err)
		}
		return nil
	})
}

// Close stops the watcher and its pending broadcasts.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.closeCh)
	w.debouncer.Stop()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	gitContextPath := w.gitContextPath
	sessionsDir := w.sessionsDir
	w.mu.Unlock()

	name := filepath.Clean(event.Name)

	if gitContextPath != "" && name == gitContextPath {
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
			w.trigger(gitContextKey, events.GitContextChanged)
		}
		return
	}

	if sessionsDir == "" || !isUnder(sessionsDir, name) {
		return
	}

	// New per-cwd directories must join the watch set. Their first session
	// file may land before the watch attaches, so broadcast here too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if !session.SkipDir(filepath.Base(name)) {
				if err := w.fsw.Add(name); err != nil {
					log.Printf("watcher: cannot watch %s: %v", name, err)
				}
			}
			w.trigger(sessionsKey, events.SessionsChanged)
			return
		}
	}

	if !session.IsSessionFilename(filepath.Base(name)) {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.trigger(sessionsKey, events.SessionsChanged)
	}
}

func (w *Watcher) trigger(key, eventName string) {
	w.debouncer.Debounce(key, func() {
		w.bus.Broadcast(eventName, nil)
	})
}

func isUnder(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
