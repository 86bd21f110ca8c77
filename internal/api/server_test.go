package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calliope-av/showrunner/internal/engine"
	"github.com/calliope-av/showrunner/internal/infrastructure/config"
	"github.com/calliope-av/showrunner/internal/infrastructure/logging"
	"github.com/calliope-av/showrunner/internal/presence"
	"github.com/calliope-av/showrunner/internal/runlog"
	"github.com/calliope-av/showrunner/internal/scene"
)

const testToken = "correct-horse-battery-staple"

// ─── Mock Dependencies ─────────────────────────────────────────────

type startCall struct {
	sceneID string
	source  string
}

// mockController fakes the scene engine behind the control verbs.
type mockController struct {
	mu       sync.Mutex
	started  []startCall
	stopped  []string
	buttons  []string
	startErr error
	stopErr  error
	snapshot engine.Snapshot
}

func (m *mockController) StartScene(_ context.Context, sceneID, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, startCall{sceneID: sceneID, source: source})
	return nil
}

func (m *mockController) Stop(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopped = append(m.stopped, source)
	return nil
}

func (m *mockController) HandleButton(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buttons = append(m.buttons, id)
}

func (m *mockController) Status() engine.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *mockController) startCalls() []startCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]startCall(nil), m.started...)
}

func (m *mockController) stopCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopped...)
}

func (m *mockController) buttonPresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.buttons...)
}

func (m *mockController) setStartErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *mockController) setStopErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopErr = err
}

// mockPresence serves a fixed device list.
type mockPresence struct {
	devices []presence.DeviceStatus
}

func (m *mockPresence) Snapshot() []presence.DeviceStatus {
	return append([]presence.DeviceStatus(nil), m.devices...)
}

func (m *mockPresence) Counts() (total, online int) {
	for _, d := range m.devices {
		if d.Online {
			online++
		}
	}
	return len(m.devices), online
}

// ─── Test Fixture ──────────────────────────────────────────────────

type apiFixture struct {
	srv    *Server
	router http.Handler
	ctrl   *mockController
	scenes *scene.Registry
	runs   runlog.Repository
	pres   *mockPresence
}

// newFixture builds a server over real in-memory SQLite stores and a
// mocked engine.
func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	sceneRepo := scene.NewSQLiteRepository(setupSceneDB(t))
	registry := scene.NewRegistry(sceneRepo, scene.NewLoader(""))
	runRepo := setupRunDB(t)

	ctrl := &mockController{
		snapshot: engine.Snapshot{Phase: engine.PhaseIdle, Connected: true},
	}
	pres := &mockPresence{
		devices: []presence.DeviceStatus{
			{Name: "pi-showrunner", Online: true, LastSeen: time.Now().UTC()},
			{Name: "pi-projector", Online: false, LastSeen: time.Now().UTC().Add(-time.Hour)},
		},
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test", "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:      "127.0.0.1",
			Port:      0,
			AuthToken: testToken,
			Timeouts:  config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			TicketTTL:      60,
		},
		Logger:   log,
		Engine:   ctrl,
		Scenes:   registry,
		Runs:     runRepo,
		Presence: pres,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &apiFixture{
		srv:    srv,
		router: srv.buildRouter(),
		ctrl:   ctrl,
		scenes: registry,
		runs:   runRepo,
		pres:   pres,
	}
}

// setupSceneDB creates an in-memory SQLite database with the scenes schema.
func setupSceneDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	schema := `
		CREATE TABLE scenes (
			scene_id    TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			definition  TEXT NOT NULL,
			source_file TEXT NOT NULL DEFAULT '',
			checksum    TEXT NOT NULL,
			imported_at TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating scenes schema: %v", err)
	}
	return db
}

// setupRunDB creates a run history repository over in-memory SQLite.
func setupRunDB(t *testing.T) *runlog.SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	schema := `
	CREATE TABLE scene_runs (
	    run_id           TEXT PRIMARY KEY,
	    scene_id         TEXT NOT NULL,
	    started_at       TEXT NOT NULL,
	    ended_at         TEXT,
	    end_reason       TEXT NOT NULL DEFAULT '',
	    final_state      TEXT NOT NULL DEFAULT '',
	    transition_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE run_transitions (
	    id               INTEGER PRIMARY KEY AUTOINCREMENT,
	    run_id           TEXT NOT NULL REFERENCES scene_runs (run_id) ON DELETE CASCADE,
	    seq              INTEGER NOT NULL,
	    from_state       TEXT NOT NULL,
	    to_state         TEXT NOT NULL,
	    trigger_kind     TEXT NOT NULL,
	    trigger_detail   TEXT NOT NULL DEFAULT '',
	    occurred_at      TEXT NOT NULL,
	    state_elapsed_ms INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating run schema: %v", err)
	}
	return runlog.NewSQLiteRepository(db)
}

// sceneDoc builds a minimal valid scene document.
func sceneDoc(id string) []byte {
	doc := fmt.Sprintf(`{
		"sceneId": %q,
		"description": "test scene %s",
		"globalPrefix": "room9",
		"initialState": "intro",
		"states": {
			"intro": {
				"onEnter": [{"action": "mqtt", "topic": "light", "message": "ON"}],
				"transitions": [{"type": "timeout", "delay": 5, "goto": "END"}]
			},
			"END": {}
		}
	}`, id, id)
	return []byte(doc)
}

func seedScene(t *testing.T, fx *apiFixture, id string) {
	t.Helper()
	if _, err := fx.scenes.Put(context.Background(), sceneDoc(id), ""); err != nil {
		t.Fatalf("seeding scene %s: %v", id, err)
	}
}

func seedRun(t *testing.T, fx *apiFixture, runID, sceneID string, startedAt time.Time, transitions int) {
	t.Helper()
	ctx := context.Background()
	if err := fx.runs.CreateRun(ctx, runID, sceneID, startedAt); err != nil {
		t.Fatalf("seeding run %s: %v", runID, err)
	}
	for i := 1; i <= transitions; i++ {
		tr := runlog.Transition{
			RunID:       runID,
			Seq:         i,
			FromState:   "",
			ToState:     "intro",
			TriggerKind: "start",
			OccurredAt:  startedAt.Add(time.Duration(i) * time.Second),
		}
		if err := fx.runs.RecordTransition(ctx, tr); err != nil {
			t.Fatalf("seeding transition %d: %v", i, err)
		}
	}
	ended := startedAt.Add(time.Minute)
	if err := fx.runs.FinishRun(ctx, runID, runlog.EndReasonCompleted, "END", ended); err != nil {
		t.Fatalf("finishing run %s: %v", runID, err)
	}
}

// do runs one request through the router.
func (fx *apiFixture) do(method, path string, body []byte, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test", "test")
	ctrl := &mockController{}
	registry := scene.NewRegistry(scene.NewSQLiteRepository(setupSceneDB(t)), scene.NewLoader(""))
	runs := setupRunDB(t)

	cases := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Engine: ctrl, Scenes: registry, Runs: runs}},
		{"no engine", Deps{Logger: log, Scenes: registry, Runs: runs}},
		{"no scene store", Deps{Logger: log, Engine: ctrl, Runs: runs}},
		{"no run store", Deps{Logger: log, Engine: ctrl, Scenes: registry}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.deps); err == nil {
				t.Error("New() accepted missing dependency")
			}
		})
	}

	if _, err := New(Deps{Logger: log, Engine: ctrl, Scenes: registry, Runs: runs}); err != nil {
		t.Errorf("New() with presence omitted: %v", err)
	}
}

// ─── Health and Status ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodGet, "/api/v1/health", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestStatus(t *testing.T) {
	fx := newFixture(t)
	seedScene(t, fx, "haunted-library")

	fx.ctrl.snapshot = engine.Snapshot{
		SceneID:   "haunted-library",
		RunID:     "run-01",
		State:     "intro",
		Phase:     engine.PhaseActive,
		Connected: true,
	}

	w := fx.do(http.MethodGet, "/api/v1/status", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	eng, ok := resp["engine"].(map[string]any)
	if !ok {
		t.Fatalf("engine missing from response: %v", resp)
	}
	if eng["scene_id"] != "haunted-library" {
		t.Errorf("engine.scene_id = %v, want haunted-library", eng["scene_id"])
	}
	if eng["phase"] != "active" {
		t.Errorf("engine.phase = %v, want active", eng["phase"])
	}

	devices, ok := resp["devices"].(map[string]any)
	if !ok {
		t.Fatalf("devices missing from response: %v", resp)
	}
	if devices["total"] != float64(2) || devices["online"] != float64(1) {
		t.Errorf("devices = %v, want total 2 online 1", devices)
	}

	if resp["scenes_loaded"] != float64(1) {
		t.Errorf("scenes_loaded = %v, want 1", resp["scenes_loaded"])
	}
}

func TestMetrics(t *testing.T) {
	fx := newFixture(t)
	seedRun(t, fx, "run-01", "haunted-library", time.Now().UTC().Add(-time.Hour), 2)

	w := fx.do(http.MethodGet, "/api/v1/metrics", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}

	var metrics SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal metrics: %v", err)
	}

	if metrics.Runtime.Goroutines <= 0 {
		t.Errorf("goroutines = %d, want > 0", metrics.Runtime.Goroutines)
	}
	if metrics.Runtime.MemoryAllocMB <= 0 {
		t.Errorf("memory_alloc_mb = %f, want > 0", metrics.Runtime.MemoryAllocMB)
	}
	if !metrics.Broker.Connected {
		t.Error("broker.connected = false, want true")
	}
	if metrics.WebSocket.ConnectedClients != 0 {
		t.Errorf("connected_clients = %d, want 0", metrics.WebSocket.ConnectedClients)
	}
	if metrics.Devices.Total != 2 || metrics.Devices.Online != 1 {
		t.Errorf("devices = %+v, want total 2 online 1", metrics.Devices)
	}
	if metrics.Runs.TotalRuns != 1 {
		t.Errorf("runs.total_runs = %d, want 1", metrics.Runs.TotalRuns)
	}
	if metrics.Runs.TotalTransitions != 2 {
		t.Errorf("runs.total_transitions = %d, want 2", metrics.Runs.TotalTransitions)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodGet, "/api/v1/devices", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("devices status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
	devices, ok := resp["devices"].([]any)
	if !ok || len(devices) != 2 {
		t.Fatalf("devices = %v, want 2 entries", resp["devices"])
	}
	first, _ := devices[0].(map[string]any) //nolint:errcheck // asserted below
	if first["name"] != "pi-showrunner" {
		t.Errorf("devices[0].name = %v, want pi-showrunner", first["name"])
	}
}

func TestListDevices_NoTracker(t *testing.T) {
	fx := newFixture(t)
	fx.srv.presence = nil

	w := fx.do(http.MethodGet, "/api/v1/devices", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("devices status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

// ─── Scene Documents ───────────────────────────────────────────────

func TestListScenes(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodGet, "/api/v1/scenes", nil, false)
	resp := decodeBody(t, w)
	if resp["count"] != float64(0) {
		t.Errorf("empty store count = %v, want 0", resp["count"])
	}

	seedScene(t, fx, "haunted-library")
	seedScene(t, fx, "seance-parlor")

	w = fx.do(http.MethodGet, "/api/v1/scenes", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("scenes status = %d, want %d", w.Code, http.StatusOK)
	}
	resp = decodeBody(t, w)
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
	scenes, ok := resp["scenes"].([]any)
	if !ok || len(scenes) != 2 {
		t.Fatalf("scenes = %v, want 2 entries", resp["scenes"])
	}
	first, _ := scenes[0].(map[string]any) //nolint:errcheck // asserted below
	if first["sceneId"] == "" {
		t.Errorf("scenes[0].sceneId missing: %v", first)
	}
}

func TestGetScene(t *testing.T) {
	fx := newFixture(t)
	seedScene(t, fx, "haunted-library")

	w := fx.do(http.MethodGet, "/api/v1/scenes/haunted-library", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("get scene status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	// The stored document comes back verbatim.
	if !bytes.Equal(w.Body.Bytes(), sceneDoc("haunted-library")) {
		t.Errorf("document body differs from stored definition")
	}

	w = fx.do(http.MethodGet, "/api/v1/scenes/no-such-scene", nil, false)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown scene status = %d, want %d", w.Code, http.StatusNotFound)
	}

	long := strings.Repeat("x", maxParamLen+1)
	w = fx.do(http.MethodGet, "/api/v1/scenes/"+long, nil, false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized id status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSaveScene(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodPost, "/api/v1/scenes", sceneDoc("haunted-library"), true)
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["scene_id"] != "haunted-library" {
		t.Errorf("scene_id = %v, want haunted-library", resp["scene_id"])
	}
	if resp["states"] != float64(2) {
		t.Errorf("states = %v, want 2", resp["states"])
	}

	// The document is now served back.
	w = fx.do(http.MethodGet, "/api/v1/scenes/haunted-library", nil, false)
	if w.Code != http.StatusOK {
		t.Errorf("get after save status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSaveScene_RejectsInvalid(t *testing.T) {
	fx := newFixture(t)

	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{"sceneId": `},
		{"unknown goto target", `{
			"sceneId": "broken",
			"initialState": "intro",
			"states": {
				"intro": {"transitions": [{"type": "timeout", "delay": 1, "goto": "nowhere"}]},
				"END": {}
			}
		}`},
		{"dead-end state", `{
			"sceneId": "broken",
			"initialState": "intro",
			"states": {
				"intro": {"transitions": [{"type": "timeout", "delay": 1, "goto": "stuck"}]},
				"stuck": {},
				"END": {}
			}
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := fx.do(http.MethodPost, "/api/v1/scenes", []byte(tc.doc), true)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
			resp := decodeBody(t, w)
			if resp["code"] != ErrCodeBadRequest {
				t.Errorf("code = %v, want %s", resp["code"], ErrCodeBadRequest)
			}
		})
	}

	if count := fx.scenes.Count(); count != 0 {
		t.Errorf("stored scenes = %d, want 0 after rejected saves", count)
	}
}

// ─── Control Verbs ─────────────────────────────────────────────────

func TestStartScene(t *testing.T) {
	fx := newFixture(t)
	fx.ctrl.snapshot = engine.Snapshot{
		SceneID: "haunted-library",
		RunID:   "run-abc123",
		Phase:   engine.PhaseActive,
	}

	w := fx.do(http.MethodPost, "/api/v1/scenes/haunted-library/start", nil, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["run_id"] != "run-abc123" {
		t.Errorf("run_id = %v, want run-abc123", resp["run_id"])
	}

	calls := fx.ctrl.startCalls()
	if len(calls) != 1 || calls[0].sceneID != "haunted-library" || calls[0].source != "api" {
		t.Errorf("start calls = %+v, want one haunted-library/api", calls)
	}
}

func TestStartScene_Errors(t *testing.T) {
	fx := newFixture(t)

	fx.ctrl.setStartErr(fmt.Errorf("%w: %q", scene.ErrSceneNotFound, "ghost"))
	w := fx.do(http.MethodPost, "/api/v1/scenes/ghost/start", nil, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown scene status = %d, want %d", w.Code, http.StatusNotFound)
	}

	fx.ctrl.setStartErr(engine.ErrNotRunning)
	w = fx.do(http.MethodPost, "/api/v1/scenes/ghost/start", nil, true)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("engine down status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestStop(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodPost, "/api/v1/stop", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["status"] != "stopped" {
		t.Errorf("status = %v, want stopped", resp["status"])
	}
	if calls := fx.ctrl.stopCalls(); len(calls) != 1 || calls[0] != "api" {
		t.Errorf("stop calls = %v, want one from api", calls)
	}

	fx.ctrl.setStopErr(engine.ErrNoActiveRun)
	w = fx.do(http.MethodPost, "/api/v1/stop", nil, true)
	if w.Code != http.StatusConflict {
		t.Errorf("idle stop status = %d, want %d", w.Code, http.StatusConflict)
	}
	resp = decodeBody(t, w)
	if resp["code"] != ErrCodeConflict {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeConflict)
	}
}

func TestButton(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodPost, "/api/v1/button/big-red", nil, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("button status = %d, want %d", w.Code, http.StatusAccepted)
	}
	resp := decodeBody(t, w)
	if resp["button"] != "big-red" {
		t.Errorf("button = %v, want big-red", resp["button"])
	}
	if presses := fx.ctrl.buttonPresses(); len(presses) != 1 || presses[0] != "big-red" {
		t.Errorf("button presses = %v, want [big-red]", presses)
	}
}

// ─── Authentication ────────────────────────────────────────────────

func TestControlVerbsRequireAuth(t *testing.T) {
	fx := newFixture(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/scenes"},
		{http.MethodPost, "/api/v1/scenes/x/start"},
		{http.MethodPost, "/api/v1/stop"},
		{http.MethodPost, "/api/v1/button/x"},
		{http.MethodPost, "/api/v1/auth/ws-ticket"},
	}

	for _, p := range paths {
		w := fx.do(p.method, p.path, nil, false)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want %d", p.method, p.path, w.Code, http.StatusUnauthorized)
		}

		req := httptest.NewRequest(p.method, p.path, nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		w = httptest.NewRecorder()
		fx.router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with bad token: status = %d, want %d", p.method, p.path, w.Code, http.StatusUnauthorized)
		}
	}

	if calls := fx.ctrl.startCalls(); len(calls) != 0 {
		t.Errorf("unauthenticated requests reached the engine: %+v", calls)
	}
}

func TestControlVerbsDisabledWithoutToken(t *testing.T) {
	fx := newFixture(t)
	fx.srv.cfg.AuthToken = ""
	router := fx.srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestReadEndpointsOpen(t *testing.T) {
	fx := newFixture(t)

	paths := []string{
		"/api/v1/health",
		"/api/v1/status",
		"/api/v1/metrics",
		"/api/v1/devices",
		"/api/v1/scenes",
		"/api/v1/runs",
	}
	for _, path := range paths {
		w := fx.do(http.MethodGet, path, nil, false)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s without token: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

// ─── Run History ───────────────────────────────────────────────────

func TestListRuns(t *testing.T) {
	fx := newFixture(t)
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	seedRun(t, fx, "run-01", "haunted-library", base, 1)
	seedRun(t, fx, "run-02", "haunted-library", base.Add(time.Hour), 1)
	seedRun(t, fx, "run-03", "seance-parlor", base.Add(2*time.Hour), 1)

	w := fx.do(http.MethodGet, "/api/v1/runs", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("runs status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["count"] != float64(3) {
		t.Errorf("count = %v, want 3", resp["count"])
	}

	runs, ok := resp["runs"].([]any)
	if !ok || len(runs) != 3 {
		t.Fatalf("runs = %v, want 3 entries", resp["runs"])
	}
	newest, _ := runs[0].(map[string]any) //nolint:errcheck // asserted below
	if newest["run_id"] != "run-03" {
		t.Errorf("runs[0].run_id = %v, want run-03 (newest first)", newest["run_id"])
	}

	w = fx.do(http.MethodGet, "/api/v1/runs?scene=haunted-library", nil, false)
	resp = decodeBody(t, w)
	if resp["count"] != float64(2) {
		t.Errorf("filtered count = %v, want 2", resp["count"])
	}

	w = fx.do(http.MethodGet, "/api/v1/runs?limit=1", nil, false)
	resp = decodeBody(t, w)
	if resp["count"] != float64(1) {
		t.Errorf("limited count = %v, want 1", resp["count"])
	}

	w = fx.do(http.MethodGet, "/api/v1/runs?limit=many", nil, false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRunTransitions(t *testing.T) {
	fx := newFixture(t)
	seedRun(t, fx, "run-01", "haunted-library", time.Now().UTC().Add(-time.Hour), 3)

	w := fx.do(http.MethodGet, "/api/v1/runs/run-01/transitions", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("transitions status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["count"] != float64(3) {
		t.Errorf("count = %v, want 3", resp["count"])
	}
	run, ok := resp["run"].(map[string]any)
	if !ok {
		t.Fatalf("run missing from response: %v", resp)
	}
	if run["scene_id"] != "haunted-library" {
		t.Errorf("run.scene_id = %v, want haunted-library", run["scene_id"])
	}
	if run["end_reason"] != runlog.EndReasonCompleted {
		t.Errorf("run.end_reason = %v, want %s", run["end_reason"], runlog.EndReasonCompleted)
	}

	w = fx.do(http.MethodGet, "/api/v1/runs/no-such-run/transitions", nil, false)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestIDHeader(t *testing.T) {
	fx := newFixture(t)

	w := fx.do(http.MethodGet, "/api/v1/health", nil, false)
	if got := w.Header().Get("X-Request-ID"); len(got) != requestIDBytes*2 {
		t.Errorf("generated X-Request-ID = %q, want %d hex chars", got, requestIDBytes*2)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-me-42")
	w = httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "trace-me-42" {
		t.Errorf("X-Request-ID = %q, want trace-me-42 passed through", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Allow-Origin = %q, want origin echoed", got)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	fx := newFixture(t)
	fx.srv.cfg.CORS.AllowedOrigins = []string{"http://dashboard.local"}
	router := fx.srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for disallowed origin, want empty", got)
	}
}

func TestBodySizeLimit(t *testing.T) {
	fx := newFixture(t)

	big := bytes.Repeat([]byte("x"), maxRequestBodySize+1)
	w := fx.do(http.MethodPost, "/api/v1/scenes", big, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
