// Package scene provides the scene document model for Showrunner.
//
// A scene is a declarative JSON document describing a timed state machine:
// named states with entry/exit actions, a timeline of offset-scheduled
// actions, and transitions that move the show between states. This package
// owns parsing, validation, persistence, and hot reload of those documents;
// running them is the engine package's job.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────┐
//	│                 Registry (registry.go)                 │
//	│  Validated in-memory cache, deep-copy reads            │
//	│  ┌──────────────┐    ┌──────────────┐                  │
//	│  │    Loader    │    │  Repository  │                  │
//	│  │ (loader.go)  │    │(repository.go)│                 │
//	│  └──────────────┘    └──────────────┘                  │
//	│        ▲                                               │
//	│        │ *.json create/write                           │
//	│  ┌──────────────┐                                      │
//	│  │   Watcher    │  debounced re-import on file change  │
//	│  │ (watcher.go) │                                      │
//	│  └──────────────┘                                      │
//	└────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Scene: parsed document with states, transitions, and global events
//   - State: entry/exit actions, timeline entries, ordered transitions
//   - Loader: JSON parsing plus all-or-nothing structural validation
//   - Registry: thread-safe cache over a Repository; Get returns deep copies
//   - Watcher: fsnotify-driven reload of changed scene files
//
// # Validation
//
// A document is accepted whole or rejected whole. Unknown action or
// transition kinds are errors; unknown JSON fields are ignored, so authors
// can annotate documents freely. Bare topics (no "/") are resolved against
// the scene's globalPrefix at load time, never at dispatch time.
//
// # Thread Safety
//
// Registry and Watcher are safe for concurrent use. Scene values handed
// out by Registry.Get are private copies and need no locking.
//
// # Usage
//
//	repo := scene.NewSQLiteRepository(db.DB)
//	registry := scene.NewRegistry(repo, scene.NewLoader(cfg.Scenes.EndState))
//	registry.SetLogger(log)
//
//	if _, err := registry.ImportDir(ctx, cfg.Scenes.Dir); err != nil {
//	    return err
//	}
//	sc, err := registry.Get("haunted-library")
package scene
