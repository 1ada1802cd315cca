package store

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes an external modification to a stored key.
// Another process (for example a second CLI invocation running logout)
// may mutate the storage directory while this process holds a session in
// memory; the watcher lets the session manager notice.
type ChangeEvent struct {
	// Key is the store key that changed.
	Key string

	// Removed is true when the key was deleted, false when written.
	Removed bool
}

// Watcher watches a FileStore's directory for external changes using
// fsnotify, debouncing bursts of events per key.
type Watcher struct {
	mu sync.Mutex

	dir              string
	watcher          *fsnotify.Watcher
	debounceInterval time.Duration
	pending          map[string]*time.Timer
	stopCh           chan struct{}
	running          bool
}

// NewWatcher creates a watcher for the given FileStore.
// debounceInterval defaults to 500ms when zero.
func NewWatcher(fs *FileStore, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		dir:              fs.Dir(),
		debounceInterval: debounceInterval,
		pending:          make(map[string]*time.Timer),
	}
}

// Start begins watching and delivers debounced events on changes.
// Starting an already-running watcher is a no-op.
func (w *Watcher) Start(changes chan<- ChangeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.loop(changes)
	return nil
}

// Stop stops the watcher and cancels pending debounced events.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	_ = w.watcher.Close()

	for key, timer := range w.pending {
		timer.Stop()
		delete(w.pending, key)
	}
}

func (w *Watcher) loop(changes chan<- ChangeEvent) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, changes)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Store watcher error", "dir", w.dir, "error", err.Error())
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != ".json" || strings.HasSuffix(event.Name, ".tmp") {
		return
	}
	key := strings.TrimSuffix(name, ".json")
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if !removed && event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	// Debounce: a save is a write burst (temp file, rename); only the last
	// observation within the window is reported.
	if timer, ok := w.pending[key]; ok {
		timer.Stop()
	}
	w.pending[key] = time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		delete(w.pending, key)
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}
		select {
		case changes <- ChangeEvent{Key: key, Removed: removed}:
		default:
			slog.Warn("Store change event dropped, channel full", "key", key)
		}
	})
}
