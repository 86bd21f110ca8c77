// Package engine runs scenes: it is the single-writer executor that walks
// a scene's state machine, dispatches actions, and records every move.
//
// One goroutine started by Run owns all run state. Everything else in the
// process (broker callbacks, timers, the API, the media players) only
// enqueues events onto the loop or reads the published status snapshot, so
// no mutex guards a run and no ordering depends on goroutine scheduling.
//
// Architecture:
//
//	timers ──────────┐
//	broker topics ───┤                ┌──────────────────────────┐
//	button topics ───┼──▶ events ──▶  │    Run loop (engine.go)  │
//	media eof ───────┤    (chan)      │  enter/exit, timelines,  │
//	API / CLI ───────┘                │  transitions, stop/start │
//	                                  └─────────┬────────────────┘
//	                                            │
//	                     ┌──────────────────────┼───────────────────┐
//	                     ▼                      ▼                   ▼
//	               Dispatcher            RunRecorder          Snapshot
//	            (actions out)         (history, SQLite)   (atomic pointer)
//
// # Activation Sequences
//
// Every state entry bumps a sequence number, and every timer the entry arms
// carries that number. When a timer fires after the state has been left,
// the loop sees a stale sequence and drops the event, which is what makes
// a transition race safe: of several near-simultaneous candidates exactly
// one wins, and the losers evaporate instead of firing into the next state.
//
// # Event Sources
//
// Commands (start, stop) block until the loop answers. Timer callbacks
// post with backpressure since their events must not be lost. External
// producers (broker messages, buttons, media end-of-file) enqueue lossily
// so a backlogged loop sheds bursts instead of stalling the MQTT client.
//
// # Key Types
//
//   - Engine: the executor; construct with New, drive with Run
//   - Config: topic prefix, default scene, end marker, buffer sizes
//   - Snapshot: point-in-time status, read lock-free from any goroutine
//   - TransitionRecord: one recorded move, including synthetic start/stop
//
// # Thread Safety
//
// StartScene, Stop, HandleButton, HandleAudioEnd, HandleVideoEnd, Status,
// and ReportError are safe from any goroutine. The SetX wiring methods are
// not; call them before Run.
//
// # Usage
//
//	eng := engine.New(engine.Config{
//	    Prefix:       cfg.Site.RoomPrefix,
//	    DefaultScene: cfg.Scenes.DefaultScene,
//	    Autostart:    cfg.Scenes.Autostart,
//	}, registry, dispatcher, client, runRepo)
//	eng.SetLogger(log)
//	eng.SetHeartbeat(hb)
//
//	go func() { errCh <- eng.Run(ctx) }()
//	err := eng.StartScene(ctx, "haunted-library", "api")
package engine
