package scene

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last write event
// before re-importing a file. Editors and scp produce bursts of partial
// writes; importing mid-burst would reject a half-written document.
const DefaultDebounce = 300 * time.Millisecond

// Watcher re-imports scene files as they change on disk. Each changed file
// goes through the registry's validate-then-swap path, so a bad edit is
// logged and the previous version of the scene keeps running.
type Watcher struct {
	registry *Registry
	dir      string
	debounce time.Duration
	logger   Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over a scene directory. The directory must
// exist; scenes are matched by the *.json suffix.
func NewWatcher(registry *Registry, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		registry: registry,
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   noopLogger{},
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// SetLogger wires a logger for reload diagnostics.
func (w *Watcher) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetDebounce overrides the reload debounce window. Zero or negative
// values keep the default.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run watches until the context is cancelled. It returns the context error
// on cancellation so errgroup callers unwind cleanly.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	w.logger.Info("watching scene directory", "dir", w.dir, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("scene watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, ".json") || strings.HasPrefix(base, ".") {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
		w.scheduleImport(ctx, event.Name)
		return
	}
	if event.Op&fsnotify.Remove != 0 {
		// The store keeps the last good version; removal only stops
		// future reloads of this file.
		w.logger.Info("scene file removed, store entry retained", "file", base)
	}
}

// scheduleImport (re)arms the per-file debounce timer.
func (w *Watcher) scheduleImport(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.importFile(ctx, path)
	})
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	sc, err := w.registry.ImportFile(ctx, path)
	if err != nil {
		w.logger.Error("scene reload rejected, previous version keeps running",
			"file", filepath.Base(path),
			"error", err)
		return
	}
	w.logger.Info("scene reloaded", "scene_id", sc.SceneID, "file", filepath.Base(path))
}

func (w *Watcher) close() {
	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	_ = w.fsw.Close()
}
