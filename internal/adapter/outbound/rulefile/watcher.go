package rulefile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceTick is how often settled changes are checked for.
const debounceTick = 50 * time.Millisecond

// Watcher triggers store reloads when the rules file changes. It combines
// fsnotify events on the parent directory (editors replace files by
// rename, which a file watch would lose) with mtime polling as a fallback
// for filesystems that drop notifications. Bursts of events coalesce into
// a single reload per debounce window.
type Watcher struct {
	store    *Store
	logger   *slog.Logger
	poll     time.Duration
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	dirty     bool
	lastEvent time.Time
	lastMod   time.Time
	running   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatcherConfig bounds the watcher's timing.
type WatcherConfig struct {
	// PollInterval is how often the file's mtime is checked. Zero
	// disables polling.
	PollInterval time.Duration

	// Debounce is how long changes must settle before a reload fires.
	Debounce time.Duration
}

// NewWatcher creates a watcher for the store's rules file.
func NewWatcher(store *Store, cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    store,
		logger:   logger.With("component", "rulewatcher"),
		poll:     cfg.PollInterval,
		debounce: cfg.Debounce,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = 250 * time.Millisecond
	}
	if info, err := os.Stat(store.path); err == nil {
		w.lastMod = info.ModTime()
	}
	return w, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine
// until Close or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: rename-replace saves would
	// otherwise detach the watch.
	dir := filepath.Dir(w.store.path)
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("fsnotify watch failed, relying on polling",
			"dir", dir,
			"error", err,
		)
	}

	go w.run(ctx)
	return nil
}

// Close stops the watcher and waits for the event loop to exit. Safe to
// call whether or not Start ran; fsnotify's Close is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(debounceTick)
	defer debounceTicker.Stop()

	var pollC <-chan time.Time
	if w.poll > 0 {
		pollTicker := time.NewTicker(w.poll)
		defer pollTicker.Stop()
		pollC = pollTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
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
			w.logger.Warn("rules watcher error", "error", err)

		case <-pollC:
			w.pollOnce()

		case <-debounceTicker.C:
			w.flush(ctx)
		}
	}
}

// handleEvent marks the file dirty for events touching the rules file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(w.store.path) {
		return
	}
	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	if event.Op&ops == 0 {
		return
	}
	w.markDirty()
}

// pollOnce compares the file's mtime against the last observation.
func (w *Watcher) pollOnce() {
	info, err := os.Stat(w.store.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	changed := !info.ModTime().Equal(w.lastMod)
	w.lastMod = info.ModTime()
	w.mu.Unlock()
	if changed {
		w.markDirty()
	}
}

func (w *Watcher) markDirty() {
	w.mu.Lock()
	w.dirty = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// flush reloads once the last change has settled past the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	ready := w.dirty && time.Since(w.lastEvent) >= w.debounce
	if ready {
		w.dirty = false
	}
	w.mu.Unlock()
	if !ready {
		return
	}

	// Reload logs its own outcome; a failure keeps the old snapshot and
	// the dirty flag stays cleared until the next change event.
	_ = w.store.Reload(ctx)

	if info, err := os.Stat(w.store.path); err == nil {
		w.mu.Lock()
		w.lastMod = info.ModTime()
		w.mu.Unlock()
	}
}
