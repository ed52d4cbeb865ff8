// Package watcher reloads installed plugins when a profile's plugin
// directory changes on disk.
package watcher

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vrsandeep/plugman/internal/jobs"
	"github.com/vrsandeep/plugman/internal/loader"
)

// WatcherService watches a profile directory and rescans its plugins once
// changes settle.
type WatcherService struct {
	ctx           jobs.JobContext
	profileID     string
	dir           string
	watcher       *fsnotify.Watcher
	pending       bool
	mu            sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}
	rescans       chan struct{}
}

// NewWatcherService watches dir, the plugin directory of profileID.
func NewWatcherService(ctx jobs.JobContext, profileID, dir string) *WatcherService {
	return &WatcherService{
		ctx:           ctx,
		profileID:     profileID,
		dir:           dir,
		debounceDelay: 2 * time.Second,
		stopChan:      make(chan struct{}),
		rescans:       make(chan struct{}, 1),
	}
}

// SetDebounceDelay sets how long the watcher waits after the last change.
func (w *WatcherService) SetDebounceDelay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// Rescans receives a value after every completed rescan.
func (w *WatcherService) Rescans() <-chan struct{} {
	return w.rescans
}

// Start begins watching the profile directory, creating it if needed.
func (w *WatcherService) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	// Plugins are only found one level down, but manifests live inside
	// their directories, so watch the root and each plugin directory.
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.dir && (hidden(path) || filepath.Dir(path) != w.dir) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return err
	}

	log.Printf("File watcher started for plugins: %s", w.dir)
	go w.processEvents()
	return nil
}

// Stop stops the watcher and any pending rescan.
func (w *WatcherService) Stop() error {
	close(w.stopChan)
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *WatcherService) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (w *WatcherService) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	relevant := event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
	if !relevant || hidden(event.Name) {
		return
	}

	parent := filepath.Dir(event.Name)
	switch {
	case parent == w.dir:
		// A plugin directory appeared or went away.
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.watcher.Add(event.Name)
			}
		}
	case filepath.Dir(parent) == w.dir && filepath.Base(event.Name) == loader.ManifestFile:
		// A plugin's manifest changed.
	default:
		return
	}
	w.schedule()
}

func (w *WatcherService) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.triggerRescan)
}

func (w *WatcherService) triggerRescan() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	select {
	case <-w.stopChan:
		return
	default:
	}

	log.Printf("File watcher detected plugin changes in %s, rescanning", w.dir)
	if _, err := w.ctx.Plugins().LoadInstalled(context.Background(), w.profileID); err != nil {
		log.Printf("Plugin rescan error: %v", err)
	}
	select {
	case w.rescans <- struct{}{}:
	default:
	}
}
