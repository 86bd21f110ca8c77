package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/calliope-av/showrunner/internal/infrastructure/mqtt"
	"github.com/calliope-av/showrunner/internal/runlog"
	"github.com/calliope-av/showrunner/internal/scene"
)

const (
	triggerQoS = 1
	statusQoS  = 1

	// dispatchTimeout bounds one action batch so a wedged collaborator
	// cannot stall the loop.
	dispatchTimeout = 5 * time.Second

	// maxAlwaysChain caps how many always transitions may fire back to
	// back off a single event, catching authoring loops like two states
	// that always-point at each other.
	maxAlwaysChain = 100
)

// Defaults applied by New for zero Config fields.
const (
	DefaultEventBuffer       = 64
	DefaultHistoryLimit      = 50
	DefaultHeartbeatInterval = 5 * time.Second
)

// Config carries the executor's settings, assembled from the daemon
// configuration.
type Config struct {
	// Prefix is the room's topic namespace for control, button, and
	// status topics. Empty disables those surfaces.
	Prefix string

	// DefaultScene is started by button presses while idle, and at boot
	// when Autostart is set.
	DefaultScene string
	Autostart    bool

	// EndMarker is the terminal state name.
	EndMarker string

	EventBuffer       int
	HistoryLimit      int
	HeartbeatInterval time.Duration
}

// SceneSource hands out runnable scene graphs. Satisfied by
// *scene.Registry.
type SceneSource interface {
	Get(sceneID string) (*scene.Scene, error)
}

// Dispatcher executes action batches. Satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	DispatchAll(ctx context.Context, actions []scene.Action) int
}

// Messaging is the subset of the messaging client the executor uses.
type Messaging interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishString(topic string, payload string, qos byte, retained bool) error
	IsConnected() bool
}

// RunRecorder persists run history. Satisfied by *runlog.SQLiteRepository.
// Recorder failures are logged and never stop the show.
type RunRecorder interface {
	CreateRun(ctx context.Context, runID, sceneID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID, endReason, finalState string, endedAt time.Time) error
	RecordTransition(ctx context.Context, tr runlog.Transition) error
}

// Heartbeat is touched on every transition and on a periodic tick so the
// watchdog can tell a long quiet state from a wedged loop.
type Heartbeat interface {
	Touch(sceneID, state string) error
}

// Logger matches the subset of logging used by the executor.
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

// Engine is the single-writer scene executor. One goroutine (Run) owns
// all run state; every other party only enqueues events or reads the
// published snapshot.
type Engine struct {
	cfg        Config
	scenes     SceneSource
	dispatcher Dispatcher
	messaging  Messaging
	recorder   RunRecorder
	heartbeat  Heartbeat
	logger     Logger

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// Loop-owned state. Never touched outside the Run goroutine.
	activationSeq uint64
	runSeq        uint64
	run           *runContext
	state         *stateContext
	recent        []TransitionRecord

	snapshot atomic.Pointer[Snapshot]
	lastErr  atomic.Pointer[ErrorInfo]

	onTransition func(TransitionRecord)
	onStatus     func(Snapshot)
}

// New creates an executor. Call Run to start the loop.
func New(cfg Config, scenes SceneSource, dispatcher Dispatcher, messaging Messaging, recorder RunRecorder) *Engine {
	if cfg.EndMarker == "" {
		cfg.EndMarker = scene.DefaultEndMarker
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	e := &Engine{
		cfg:        cfg,
		scenes:     scenes,
		dispatcher: dispatcher,
		messaging:  messaging,
		recorder:   recorder,
		logger:     noopLogger{},
		events:     make(chan event, cfg.EventBuffer),
		done:       make(chan struct{}),
	}
	e.snapshot.Store(&Snapshot{Phase: PhaseIdle})
	return e
}

// SetLogger wires a logger. Call before Run.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetHeartbeat wires the heartbeat writer. Call before Run.
func (e *Engine) SetHeartbeat(hb Heartbeat) {
	e.heartbeat = hb
}

// SetOnTransition registers a callback invoked from the loop goroutine on
// every recorded transition. It must not block. Call before Run.
func (e *Engine) SetOnTransition(fn func(TransitionRecord)) {
	e.onTransition = fn
}

// SetOnStatus registers a callback invoked from the loop goroutine on
// every snapshot change. It must not block. Call before Run.
func (e *Engine) SetOnStatus(fn func(Snapshot)) {
	e.onStatus = fn
}

// Run is the executor loop. It blocks until ctx is cancelled, stopping
// any active run cooperatively on the way out.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		close(e.done)
	}()

	e.subscribeControl()
	e.touchHeartbeat()

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	if e.cfg.Autostart && e.cfg.DefaultScene != "" {
		if err := e.startScene(ctx, e.cfg.DefaultScene, "autostart"); err != nil {
			e.logger.Error("autostart failed", "scene", e.cfg.DefaultScene, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case ev := <-e.events:
			e.handleEvent(ctx, ev)
		case <-ticker.C:
			e.touchHeartbeat()
		}
	}
}

// shutdown stops the active run and drops the control subscriptions.
// Persistence uses a fresh context; the loop's own is already cancelled.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if e.run != nil {
		if err := e.stopRun(ctx, runlog.EndReasonStopped, "shutdown"); err != nil {
			e.logger.Error("stopping run at shutdown", "error", err)
		}
	}
	e.unsubscribeControl()
}

// StartScene starts a scene, stopping any active run first.
//
// Parameters:
//   - ctx: bounds the wait for the loop to process the command
//   - sceneID: the scene to start
//   - source: who asked (api, mqtt, button:<id>, cli, autostart)
//
// Returns:
//   - error: scene.ErrSceneNotFound via the source when the id is
//     unknown, ErrNotRunning when the loop is down
func (e *Engine) StartScene(ctx context.Context, sceneID, source string) error {
	reply := make(chan error, 1)
	if err := e.send(ctx, startCmd{sceneID: sceneID, source: source, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the active run. Returns ErrNoActiveRun when idle.
func (e *Engine) Stop(ctx context.Context, source string) error {
	reply := make(chan error, 1)
	if err := e.send(ctx, stopCmd{source: source, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleButton feeds a button press into the loop (API surface; presses
// from the broker arrive via the button topic).
func (e *Engine) HandleButton(id string) {
	e.enqueue(buttonIn{id: id})
}

// HandleAudioEnd feeds an audio end-of-file event into the loop.
func (e *Engine) HandleAudioEnd(file string) {
	e.enqueue(mediaEndIn{video: false, file: file})
}

// HandleVideoEnd feeds a video end-of-file event into the loop.
func (e *Engine) HandleVideoEnd(file string) {
	e.enqueue(mediaEndIn{video: true, file: file})
}

// Status returns the current snapshot. Safe from any goroutine.
func (e *Engine) Status() Snapshot {
	snap := *e.snapshot.Load()
	snap.Connected = e.messaging.IsConnected()
	snap.LastError = e.lastErr.Load()
	return snap
}

// ReportError records a non-fatal failure for the status surface.
func (e *Engine) ReportError(kind, message string) {
	e.lastErr.Store(&ErrorInfo{Kind: kind, Message: message, At: time.Now().UTC()})
}

// send blocks until the loop accepts the command.
func (e *Engine) send(ctx context.Context, ev event) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is the blocking enqueue for timer callbacks. Their events must not
// be dropped; the sequence check makes late ones harmless.
func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// enqueue is the lossy enqueue for external producers. A backlogged loop
// sheds bursts instead of stalling broker callbacks.
func (e *Engine) enqueue(ev event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event dropped, executor backlogged", "event", fmt.Sprintf("%T", ev))
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case startCmd:
		err := e.startScene(ctx, ev.sceneID, ev.source)
		if ev.reply != nil {
			ev.reply <- err
		} else if err != nil {
			e.logger.Error("scene start rejected", "scene", ev.sceneID, "source", ev.source, "error", err)
		}

	case stopCmd:
		err := e.stopRun(ctx, runlog.EndReasonStopped, ev.source)
		if ev.reply != nil {
			ev.reply <- err
		} else if err != nil && !errors.Is(err, ErrNoActiveRun) {
			e.logger.Error("stop rejected", "source", ev.source, "error", err)
		}

	case timelineDue:
		if !e.currentActivation(ev.seq) {
			return
		}
		for _, idx := range ev.entries {
			if idx < len(e.state.timeline) {
				e.dispatchActions(ctx, e.state.timeline[idx].ActionList())
			}
		}

	case timeoutDue:
		if !e.currentActivation(ev.seq) {
			return
		}
		if ev.trans < len(e.state.state.Transitions) {
			e.takeTransition(ctx, e.state.state.Transitions[ev.trans])
		}

	case globalDue:
		if e.run == nil || e.run.runSeq != ev.runSeq {
			return
		}
		if ev.index >= len(e.run.scene.GlobalEvents) || e.run.globalFired[ev.index] {
			return
		}
		e.run.globalFired[ev.index] = true
		e.dispatchActions(ctx, e.run.scene.GlobalEvents[ev.index].ActionList())

	case messageIn:
		e.matchMessage(ctx, ev.topic, ev.payload)

	case buttonIn:
		e.matchButton(ctx, ev.id)

	case mediaEndIn:
		e.matchMediaEnd(ctx, ev)
	}
}

// currentActivation reports whether seq belongs to the live activation.
// Everything armed under an older one is stale and dropped here.
func (e *Engine) currentActivation(seq uint64) bool {
	return e.state != nil && e.state.seq == seq
}

// startScene loads the scene and begins a fresh run, interrupting any
// active one.
func (e *Engine) startScene(ctx context.Context, sceneID, source string) error {
	sc, err := e.scenes.Get(sceneID)
	if err != nil {
		return fmt.Errorf("loading scene %q: %w", sceneID, err)
	}

	if e.run != nil {
		if err := e.stopRun(ctx, runlog.EndReasonInterrupted, source); err != nil {
			e.logger.Error("interrupting previous run", "error", err)
		}
	}

	now := time.Now().UTC()
	e.runSeq++
	rc := &runContext{
		runID:     "run-" + uuid.NewString()[:16],
		runSeq:    e.runSeq,
		scene:     sc,
		startedAt: now,
	}
	e.run = rc

	if err := e.recorder.CreateRun(ctx, rc.runID, sc.SceneID, now); err != nil {
		e.logger.Error("run record failed", "run_id", rc.runID, "error", err)
	}
	e.logger.Info("scene started",
		"scene", sc.SceneID,
		"run_id", rc.runID,
		"source", source,
		"initial_state", sc.InitialState,
	)

	e.subscribeTriggers(rc)
	e.armGlobalEvents(rc)

	e.recordTransition(ctx, TransitionRecord{
		To:     sc.InitialState,
		Kind:   "start",
		Detail: source,
		At:     now,
	})

	e.advance(ctx, sc.InitialState)
	return nil
}

// subscribeTriggers opens the run's scene-wide trigger subscriptions.
// Matching against the current state happens in the loop.
func (e *Engine) subscribeTriggers(rc *runContext) {
	control := ""
	if e.cfg.Prefix != "" {
		control = mqtt.Topics{}.SceneControl(e.cfg.Prefix)
	}
	for _, topic := range rc.scene.TriggerTopics() {
		if topic == control {
			e.logger.Warn("trigger topic collides with control topic, skipping", "topic", topic)
			continue
		}
		if err := e.messaging.Subscribe(topic, triggerQoS, e.handleTriggerMessage); err != nil {
			e.logger.Warn("trigger subscribe failed", "topic", topic, "error", err)
			continue
		}
		rc.subscribed = append(rc.subscribed, topic)
	}
}

func (e *Engine) unsubscribeTriggers(rc *runContext) {
	for _, topic := range rc.subscribed {
		if err := e.messaging.Unsubscribe(topic); err != nil {
			e.logger.Debug("trigger unsubscribe failed", "topic", topic, "error", err)
		}
	}
	rc.subscribed = nil
}

// armGlobalEvents schedules the scene-scoped entries against scene
// elapsed time. They survive state changes and fire at most once.
func (e *Engine) armGlobalEvents(rc *runContext) {
	if len(rc.scene.GlobalEvents) == 0 {
		return
	}
	rc.globalFired = make([]bool, len(rc.scene.GlobalEvents))
	rc.globalTimers = make([]*time.Timer, len(rc.scene.GlobalEvents))
	runSeq := rc.runSeq
	for i := range rc.scene.GlobalEvents {
		index := i
		rc.globalTimers[i] = time.AfterFunc(rc.scene.GlobalEvents[i].Offset(), func() {
			e.post(globalDue{runSeq: runSeq, index: index})
		})
	}
}

// advance enters name and follows any always transitions, each full
// enter/exit cycle included.
func (e *Engine) advance(ctx context.Context, name string) {
	for hops := 0; ; hops++ {
		always := e.enterState(ctx, name)
		if always == nil {
			return
		}
		if hops >= maxAlwaysChain {
			e.logger.Error("always chain exceeded limit, holding state",
				"state", name, "limit", maxAlwaysChain)
			e.ReportError("engine", fmt.Sprintf("always chain exceeded %d hops in state %q", maxAlwaysChain, name))
			return
		}
		name = e.exitVia(ctx, *always)
	}
}

// enterState performs one state entry: bump the activation sequence, arm
// timers from the entry instant, dispatch onEnter, then hand back the
// first always transition if the state declares one. Entering the end
// marker completes the run instead.
func (e *Engine) enterState(ctx context.Context, name string) *scene.Transition {
	st, ok := e.run.scene.State(name)
	if !ok {
		// Unreachable for validated scenes. The previous state already ran
		// its onExit, so drop the context before stopping the run.
		e.logger.Error("transition into undeclared state, stopping run", "state", name)
		e.state = nil
		if err := e.stopRun(ctx, runlog.EndReasonStopped, "engine"); err != nil {
			e.logger.Error("stopping broken run", "error", err)
		}
		return nil
	}

	e.activationSeq++
	sc := &stateContext{
		name:      name,
		state:     st,
		seq:       e.activationSeq,
		enteredAt: time.Now().UTC(),
	}
	e.state = sc

	if name == e.cfg.EndMarker {
		e.publishSnapshot(PhaseEntering)
		e.dispatchActions(ctx, st.OnEnter)
		e.endRun(ctx)
		return nil
	}

	e.armTimers(sc)
	e.publishSnapshot(PhaseEntering)
	e.dispatchActions(ctx, st.OnEnter)
	e.publishSnapshot(PhaseActive)

	for i := range st.Transitions {
		if st.Transitions[i].Kind == scene.TransitionAlways {
			return &st.Transitions[i]
		}
	}
	return nil
}

// armTimers schedules the state's timeline and timeout transitions.
// Offsets measure from the entry instant, before onEnter dispatch.
func (e *Engine) armTimers(sc *stateContext) {
	seq := sc.seq
	sc.timeline = sc.state.TimelineSorted()

	// One timer per distinct offset; entries sharing an offset fire in
	// declaration order instead of racing separate callbacks.
	for start := 0; start < len(sc.timeline); {
		end := start + 1
		for end < len(sc.timeline) && sc.timeline[end].At == sc.timeline[start].At {
			end++
		}
		group := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			group = append(group, i)
		}
		sc.timers = append(sc.timers, time.AfterFunc(sc.timeline[start].Offset(), func() {
			e.post(timelineDue{seq: seq, entries: group})
		}))
		start = end
	}

	for i := range sc.state.Transitions {
		tr := &sc.state.Transitions[i]
		if tr.Kind != scene.TransitionTimeout {
			continue
		}
		index := i
		sc.timers = append(sc.timers, time.AfterFunc(tr.DelayDuration(), func() {
			e.post(timeoutDue{seq: seq, trans: index})
		}))
	}
}

// takeTransition leaves the current state via tr and advances.
func (e *Engine) takeTransition(ctx context.Context, tr scene.Transition) {
	next := e.exitVia(ctx, tr)
	e.advance(ctx, next)
}

// exitVia cancels the activation's timers, dispatches onExit, and records
// the transition. Returns the target state name.
func (e *Engine) exitVia(ctx context.Context, tr scene.Transition) string {
	sc := e.state
	sc.cancelTimers()

	e.publishSnapshot(PhaseExiting)
	e.dispatchActions(ctx, sc.state.OnExit)

	now := time.Now().UTC()
	e.recordTransition(ctx, TransitionRecord{
		From:        sc.name,
		To:          tr.Goto,
		Kind:        string(tr.Kind),
		Detail:      tr.Detail(),
		At:          now,
		TimeInState: now.Sub(sc.enteredAt),
	})
	e.logger.Info("transition",
		"scene", e.run.scene.SceneID,
		"from", sc.name,
		"to", tr.Goto,
		"kind", tr.Kind,
		"detail", tr.Detail(),
	)
	return tr.Goto
}

// endRun closes a completed run (end marker reached).
func (e *Engine) endRun(ctx context.Context) {
	rc := e.run
	final := e.state.name
	now := time.Now().UTC()

	e.state.cancelTimers()
	rc.cancelGlobals()
	e.unsubscribeTriggers(rc)

	if err := e.recorder.FinishRun(ctx, rc.runID, runlog.EndReasonCompleted, final, now); err != nil {
		e.logger.Error("finishing run record", "run_id", rc.runID, "error", err)
	}
	e.logger.Info("scene completed",
		"scene", rc.scene.SceneID,
		"run_id", rc.runID,
		"final_state", final,
		"duration", now.Sub(rc.startedAt),
		"transitions", rc.transitions,
	)

	e.run = nil
	e.state = nil
	e.publishSnapshot(PhaseIdle)
}

// stopRun interrupts the active run: cancel timers, dispatch the current
// state's onExit, record the synthetic stop, close the run record.
func (e *Engine) stopRun(ctx context.Context, reason, source string) error {
	if e.run == nil {
		return ErrNoActiveRun
	}
	rc, sc := e.run, e.state
	rc.cancelGlobals()

	now := time.Now().UTC()
	finalState := ""
	if sc != nil {
		finalState = sc.name
		sc.cancelTimers()
		e.publishSnapshot(PhaseExiting)
		e.dispatchActions(ctx, sc.state.OnExit)
		e.recordTransition(ctx, TransitionRecord{
			From:        sc.name,
			Kind:        "stop",
			Detail:      source,
			At:          now,
			TimeInState: now.Sub(sc.enteredAt),
		})
	}
	e.unsubscribeTriggers(rc)

	if err := e.recorder.FinishRun(ctx, rc.runID, reason, finalState, now); err != nil {
		e.logger.Error("finishing run record", "run_id", rc.runID, "error", err)
	}
	e.logger.Info("scene stopped",
		"scene", rc.scene.SceneID,
		"run_id", rc.runID,
		"reason", reason,
		"source", source,
		"state", finalState,
	)

	e.run = nil
	e.state = nil
	e.publishSnapshot(PhaseIdle)
	return nil
}

// matchMessage resolves an inbound trigger publish against the current
// state's transitions, declaration order first-match.
func (e *Engine) matchMessage(ctx context.Context, topic, payload string) {
	if e.state == nil {
		return
	}
	payload = strings.TrimSpace(payload)
	for i := range e.state.state.Transitions {
		tr := &e.state.state.Transitions[i]
		if tr.Kind != scene.TransitionMQTT || tr.Topic != topic {
			continue
		}
		if tr.Message != "" && tr.Message != payload {
			continue
		}
		e.takeTransition(ctx, *tr)
		return
	}
	e.logger.Debug("trigger ignored, no matching transition",
		"topic", topic, "state", e.state.name)
}

// matchButton resolves a button press: transition match during a run,
// default-scene start while idle.
func (e *Engine) matchButton(ctx context.Context, id string) {
	if e.run == nil {
		if e.cfg.DefaultScene == "" {
			e.logger.Debug("button ignored, no default scene", "button", id)
			return
		}
		if err := e.startScene(ctx, e.cfg.DefaultScene, "button:"+id); err != nil {
			e.logger.Error("button start failed",
				"scene", e.cfg.DefaultScene, "button", id, "error", err)
		}
		return
	}
	if e.state == nil {
		return
	}
	for i := range e.state.state.Transitions {
		tr := &e.state.state.Transitions[i]
		if tr.Kind != scene.TransitionButton || tr.Button != id {
			continue
		}
		e.takeTransition(ctx, *tr)
		return
	}
	e.logger.Debug("button ignored", "button", id, "state", e.state.name)
}

// matchMediaEnd resolves an end-of-file event against audioEnd/videoEnd
// transitions.
func (e *Engine) matchMediaEnd(ctx context.Context, ev mediaEndIn) {
	if e.state == nil {
		return
	}
	want := scene.TransitionAudioEnd
	if ev.video {
		want = scene.TransitionVideoEnd
	}
	for i := range e.state.state.Transitions {
		tr := &e.state.state.Transitions[i]
		if tr.Kind != want {
			continue
		}
		if tr.File != "" && tr.File != ev.file {
			continue
		}
		e.takeTransition(ctx, *tr)
		return
	}
	e.logger.Debug("media end ignored", "file", ev.file, "state", e.state.name)
}

// recordTransition assigns the sequence number, persists the record, and
// fans it out to the ring, heartbeat, and callback.
func (e *Engine) recordTransition(ctx context.Context, rec TransitionRecord) {
	rc := e.run
	rc.transitions++
	rec.Seq = rc.transitions
	rec.RunID = rc.runID
	rec.SceneID = rc.scene.SceneID

	if err := e.recorder.RecordTransition(ctx, runlog.Transition{
		RunID:          rec.RunID,
		Seq:            rec.Seq,
		FromState:      rec.From,
		ToState:        rec.To,
		TriggerKind:    rec.Kind,
		TriggerDetail:  rec.Detail,
		OccurredAt:     rec.At,
		StateElapsedMS: rec.TimeInState.Milliseconds(),
	}); err != nil {
		e.logger.Error("transition record failed", "run_id", rec.RunID, "error", err)
	}

	e.recent = append(e.recent, rec)
	if len(e.recent) > e.cfg.HistoryLimit {
		e.recent = e.recent[len(e.recent)-e.cfg.HistoryLimit:]
	}

	e.touchHeartbeat()
	if e.onTransition != nil {
		e.onTransition(rec)
	}
}

// dispatchActions runs one batch through the dispatcher. Failures are
// already logged per action; here they only feed the status surface.
func (e *Engine) dispatchActions(ctx context.Context, actions []scene.Action) {
	if len(actions) == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if failed := e.dispatcher.DispatchAll(dctx, actions); failed > 0 {
		e.ReportError("dispatch", fmt.Sprintf("%d of %d actions failed", failed, len(actions)))
	}
}

// publishSnapshot stores the lock-free status view and, on stable phases,
// publishes the retained scene-status message.
func (e *Engine) publishSnapshot(phase Phase) {
	snap := Snapshot{
		Phase:     phase,
		Connected: e.messaging.IsConnected(),
		LastError: e.lastErr.Load(),
	}
	if e.run != nil {
		snap.SceneID = e.run.scene.SceneID
		snap.RunID = e.run.runID
		snap.StartedAt = e.run.startedAt
		snap.Transitions = e.run.transitions
	}
	if e.state != nil {
		snap.State = e.state.name
		snap.EnteredAt = e.state.enteredAt
	}
	snap.Recent = append([]TransitionRecord(nil), e.recent...)

	e.snapshot.Store(&snap)
	if e.onStatus != nil {
		e.onStatus(snap)
	}
	if phase == PhaseActive || phase == PhaseIdle {
		e.publishStatusMessage(snap)
	}
}

// statusMessage is the retained scene-status payload on
// <prefix>/scene/status.
type statusMessage struct {
	SceneID   string `json:"sceneId,omitempty"`
	RunID     string `json:"runId,omitempty"`
	State     string `json:"state,omitempty"`
	Phase     Phase  `json:"phase"`
	Timestamp string `json:"timestamp"`
}

func (e *Engine) publishStatusMessage(snap Snapshot) {
	if e.cfg.Prefix == "" {
		return
	}
	payload, err := json.Marshal(statusMessage{
		SceneID:   snap.SceneID,
		RunID:     snap.RunID,
		State:     snap.State,
		Phase:     snap.Phase,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.SceneStatus(e.cfg.Prefix)
	if err := e.messaging.PublishString(topic, string(payload), statusQoS, true); err != nil {
		e.logger.Debug("status publish dropped", "topic", topic, "error", err)
	}
}

func (e *Engine) touchHeartbeat() {
	if e.heartbeat == nil {
		return
	}
	sceneID, state := "", ""
	if e.run != nil {
		sceneID = e.run.scene.SceneID
	}
	if e.state != nil {
		state = e.state.name
	}
	if err := e.heartbeat.Touch(sceneID, state); err != nil {
		e.logger.Warn("heartbeat write failed", "error", err)
	}
}

// subscribeControl opens the room's control and button topics. These live
// for the whole engine, not per run.
func (e *Engine) subscribeControl() {
	if e.cfg.Prefix == "" {
		e.logger.Warn("no room prefix configured, control topics disabled")
		return
	}

	control := mqtt.Topics{}.SceneControl(e.cfg.Prefix)
	if err := e.messaging.Subscribe(control, triggerQoS, e.handleControlMessage); err != nil {
		e.logger.Error("control subscribe failed", "topic", control, "error", err)
	}

	buttons := mqtt.Topics{}.AllButtons(e.cfg.Prefix)
	if err := e.messaging.Subscribe(buttons, triggerQoS, e.handleButtonMessage); err != nil {
		e.logger.Error("button subscribe failed", "topic", buttons, "error", err)
	}
}

func (e *Engine) unsubscribeControl() {
	if e.cfg.Prefix == "" {
		return
	}
	if err := e.messaging.Unsubscribe(mqtt.Topics{}.SceneControl(e.cfg.Prefix)); err != nil {
		e.logger.Debug("control unsubscribe failed", "error", err)
	}
	if err := e.messaging.Unsubscribe(mqtt.Topics{}.AllButtons(e.cfg.Prefix)); err != nil {
		e.logger.Debug("button unsubscribe failed", "error", err)
	}
}

// handleControlMessage parses the control topic: a scene id starts it,
// STOP stops the active run.
func (e *Engine) handleControlMessage(_ string, payload []byte) error {
	cmd := strings.TrimSpace(string(payload))
	switch {
	case cmd == "":
	case strings.EqualFold(cmd, "STOP"):
		e.enqueue(stopCmd{source: "mqtt"})
	default:
		e.enqueue(startCmd{sceneID: cmd, source: "mqtt"})
	}
	return nil
}

// handleButtonMessage turns a publish on <prefix>/button/<id> into a
// button event. Any payload counts as a press.
func (e *Engine) handleButtonMessage(topic string, _ []byte) error {
	parts := strings.Split(topic, "/")
	e.enqueue(buttonIn{id: parts[len(parts)-1]})
	return nil
}

// handleTriggerMessage feeds scene trigger publishes into the loop.
func (e *Engine) handleTriggerMessage(topic string, payload []byte) error {
	e.enqueue(messageIn{topic: topic, payload: string(payload)})
	return nil
}
