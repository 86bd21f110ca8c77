// Package database provides SQLite connection management and schema
// migrations for the showrunner's local store.
//
// The store holds imported scene definitions, scene run history, and
// per-run transition records. It is deliberately off the execution hot
// path: the engine reads scenes from the in-memory registry and writes
// run history through a buffered recorder, so a slow disk never delays
// a cue.
//
// # Connection Management
//
// Open configures the connection for an embedded single-writer workload:
// WAL journal mode for concurrent reads during writes, a busy timeout to
// ride out transient lock contention, foreign keys enforced, and a pool
// capped at one connection to match SQLite's writer model.
//
// The database file is created with 0600 permissions; run history can
// reveal visitor interaction patterns and is not world-readable.
//
// # Migrations
//
// Schema migrations are embedded into the binary from the migrations
// package and applied on startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files follow the naming convention
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql
// for rollback. Each migration runs in its own transaction.
package database
