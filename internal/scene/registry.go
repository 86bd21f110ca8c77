package scene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Logger matches the subset of logging used by the registry and watcher.
// Callers can wire any structured logger; a no-op logger is used by default.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory view of the scene store. Reads during a show
// come from the cache, never the database; writes go through Put which
// validates first, so the cache only ever holds runnable scenes.
//
// All methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	loader *Loader
	logger Logger

	cacheMu sync.RWMutex
	cache   map[string]*Scene
}

// NewRegistry creates a scene registry over the given store. A nil loader
// gets the default end-marker convention.
func NewRegistry(repo Repository, loader *Loader) *Registry {
	if loader == nil {
		loader = NewLoader("")
	}
	return &Registry{
		repo:   repo,
		loader: loader,
		logger: noopLogger{},
		cache:  make(map[string]*Scene),
	}
}

// SetLogger wires a logger for import and cache diagnostics.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache rebuilds the cache from the store. Stored documents that no
// longer pass validation are skipped with a warning rather than failing the
// whole rebuild, so one bad row cannot take every scene offline.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing scenes: %w", err)
	}

	fresh := make(map[string]*Scene, len(records))
	for _, rec := range records {
		sc, parseErr := r.loader.Parse(rec.Definition)
		if parseErr != nil {
			r.logger.Warn("skipping stored scene that fails validation",
				"scene_id", rec.SceneID,
				"source_file", rec.SourceFile,
				"error", parseErr)
			continue
		}
		fresh[sc.SceneID] = sc
	}

	r.cacheMu.Lock()
	r.cache = fresh
	r.cacheMu.Unlock()

	r.logger.Info("scene cache refreshed", "count", len(fresh))
	return nil
}

// Get returns a deep copy of a cached scene, so callers can hold and walk
// the graph without racing a reload.
//
// Returns:
//   - *Scene: an isolated copy of the scene
//   - error: ErrSceneNotFound if no scene with that ID is cached
func (r *Registry) Get(sceneID string) (*Scene, error) {
	r.cacheMu.RLock()
	sc, ok := r.cache[sceneID]
	r.cacheMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSceneNotFound, sceneID)
	}
	return sc.DeepCopy(), nil
}

// GetRecord returns the stored document for a scene, bypassing the cache.
func (r *Registry) GetRecord(ctx context.Context, sceneID string) (*Record, error) {
	return r.repo.Get(ctx, sceneID)
}

// List returns all stored scene records ordered by scene_id.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.repo.List(ctx)
}

// Put validates a scene document, persists it, and swaps it into the cache.
// Invalid documents are rejected whole: the store and cache are untouched
// and any prior version of the scene keeps running.
//
// Parameters:
//   - ctx: context for the store write
//   - definition: the raw JSON scene document
//   - sourceFile: originating filename for diagnostics, may be empty
//
// Returns:
//   - *Scene: the validated scene as cached
//   - error: validation or store errors
func (r *Registry) Put(ctx context.Context, definition []byte, sourceFile string) (*Scene, error) {
	sc, err := r.loader.Parse(definition)
	if err != nil {
		return nil, err
	}

	name := sc.Description
	if name == "" {
		name = sc.SceneID
	}
	rec := &Record{
		SceneID:    sc.SceneID,
		Name:       name,
		Definition: definition,
		SourceFile: sourceFile,
	}
	if existing, getErr := r.repo.Get(ctx, sc.SceneID); getErr == nil {
		rec.ImportedAt = existing.ImportedAt
	}
	if err := r.repo.Save(ctx, rec); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[sc.SceneID] = sc
	r.cacheMu.Unlock()

	r.logger.Debug("scene stored", "scene_id", sc.SceneID, "states", len(sc.States))
	return sc.DeepCopy(), nil
}

// ImportFile loads a single scene file through Put.
func (r *Registry) ImportFile(ctx context.Context, path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}
	sc, err := r.Put(ctx, data, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return sc, nil
}

// ImportDir imports every *.json file in a directory. Files that fail to
// parse or validate are logged and skipped; the good ones still load.
//
// Returns:
//   - int: number of scenes imported
//   - error: only if the directory itself cannot be read
func (r *Registry) ImportDir(ctx context.Context, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("listing scene files: %w", err)
	}
	sort.Strings(paths)

	imported := 0
	for _, path := range paths {
		sc, importErr := r.ImportFile(ctx, path)
		if importErr != nil {
			r.logger.Error("scene file rejected", "file", filepath.Base(path), "error", importErr)
			continue
		}
		r.logger.Info("scene imported", "scene_id", sc.SceneID, "file", filepath.Base(path))
		imported++
	}
	return imported, nil
}

// Delete removes a scene from the store and cache.
func (r *Registry) Delete(ctx context.Context, sceneID string) error {
	if err := r.repo.Delete(ctx, sceneID); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, sceneID)
	r.cacheMu.Unlock()

	r.logger.Info("scene deleted", "scene_id", sceneID)
	return nil
}

// SceneIDs returns the cached scene IDs in sorted order.
func (r *Registry) SceneIDs() []string {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	ids := make([]string, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of cached scenes.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
