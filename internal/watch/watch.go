// Package watch keeps the installed module set in sync with the
// filesystem: module files that appear on the search path after
// startup get a handle installed, and edits to files backing an
// already resolved handle trigger a reload.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zot/autoreq/internal/archive"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/registry"
	"github.com/zot/autoreq/internal/scan"
)

// Watcher watches the search-path directories for module changes.
type Watcher struct {
	config   *config.Config
	registry *registry.Registry
	watcher  *fsnotify.Watcher

	// Debouncing
	pendingReloads map[string]time.Time
	debounceMu     sync.Mutex
	debounceDelay  time.Duration

	done chan struct{}
}

// NewWatcher creates a watcher over the configured search path.
func NewWatcher(cfg *config.Config, reg *registry.Registry) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config:         cfg,
		registry:       reg,
		watcher:        watcher,
		pendingReloads: make(map[string]time.Time),
		debounceDelay:  100 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// Start begins watching. Directories that cannot be watched are
// skipped; watching is best-effort like the startup scan.
func (w *Watcher) Start() error {
	watched := 0
	for _, entry := range w.config.Runtime.Path {
		if archive.IsArchivePath(entry) {
			continue
		}
		if entry == "" {
			entry = "."
		}
		if info, err := os.Stat(entry); err != nil || !info.IsDir() {
			continue
		}
		if err := w.watcher.Add(entry); err != nil {
			w.config.Log(1, "watch: cannot watch %s: %v", entry, err)
			continue
		}
		watched++
	}

	go w.eventLoop()
	go w.debounceLoop()

	w.config.Log(1, "watch: watching %d search path directories", watched)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

// eventLoop receives filesystem events and schedules debounced work.
func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Log(1, "watch: error: %v", err)
		}
	}
}

// schedule records a pending change, restarting its debounce window.
func (w *Watcher) schedule(path string) {
	// An edit to a package marker counts as an edit to the package.
	if scan.IsMarker(filepath.Base(path)) {
		path = filepath.Dir(path)
	}
	w.debounceMu.Lock()
	w.pendingReloads[path] = time.Now()
	w.debounceMu.Unlock()
}

// debounceLoop processes pending changes once their window expires.
func (w *Watcher) debounceLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending collects expired entries and applies them.
func (w *Watcher) processPending() {
	now := time.Now()
	var ready []string

	w.debounceMu.Lock()
	for path, t := range w.pendingReloads {
		if now.Sub(t) >= w.debounceDelay {
			ready = append(ready, path)
			delete(w.pendingReloads, path)
		}
	}
	w.debounceMu.Unlock()

	for _, path := range ready {
		w.apply(path)
	}
}

// apply installs or reloads the module names a changed path offers.
func (w *Watcher) apply(path string) {
	for _, name := range scan.NamesForPath(path) {
		if h, ok := w.registry.Lookup(name); ok {
			if !h.Resolved() {
				continue // still lazy, next access sees the new file
			}
			if _, err := h.Reload(); err != nil {
				w.config.Log(1, "watch: reload of '%s' failed: %v", name, err)
			} else {
				w.config.Log(1, "watch: reloaded '%s'", name)
			}
			continue
		}
		if w.registry.Install(name) {
			w.config.Log(1, "watch: installed new module '%s'", name)
		}
	}
}
