package process

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewManager_Defaults(t *testing.T) {
	cfg := Config{
		Name:   "test-proc",
		Binary: "/usr/bin/test",
		Args:   []string{"--flag"},
	}

	m := NewManager(cfg)

	if m.config.Name != "test-proc" {
		t.Errorf("Name = %q, want %q", m.config.Name, "test-proc")
	}
	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.RestartWindow != time.Hour {
		t.Errorf("RestartWindow = %v, want %v", m.config.RestartWindow, time.Hour)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
	if m.config.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want %v", m.config.HealthCheckInterval, 30*time.Second)
	}
	if m.config.MaxHealthFailures != 3 {
		t.Errorf("MaxHealthFailures = %d, want 3", m.config.MaxHealthFailures)
	}
	// MaxRestarts stays 0 (unlimited) unless set
	if m.config.MaxRestarts != 0 {
		t.Errorf("MaxRestarts = %d, want 0", m.config.MaxRestarts)
	}
}

func TestDefaultConfig_Function(t *testing.T) {
	cfg := DefaultConfig("myproc", "/usr/bin/myproc", []string{"--daemon"})

	if cfg.Name != "myproc" {
		t.Errorf("Name = %q, want %q", cfg.Name, "myproc")
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "--daemon" {
		t.Errorf("Args = %v, want [--daemon]", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestarts != 10 {
		t.Errorf("MaxRestarts = %d, want 10", cfg.MaxRestarts)
	}
	if cfg.RestartWindow != time.Hour {
		t.Errorf("RestartWindow = %v, want 1h", cfg.RestartWindow)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
	if m.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", m.Uptime())
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(Config{
		Name:   "stats-test",
		Binary: "/bin/echo",
	})

	stats := m.Stats()
	if stats.Name != "stats-test" {
		t.Errorf("Stats.Name = %q, want %q", stats.Name, "stats-test")
	}
	if stats.Status != StatusStopped {
		t.Errorf("Stats.Status = %q, want %q", stats.Status, StatusStopped)
	}
	if stats.PID != 0 {
		t.Errorf("Stats.PID = %d, want 0", stats.PID)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/sleep",
		Args:   []string{"10"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop() //nolint:errcheck

	if err := m.Start(ctx); err == nil {
		t.Error("second Start() expected error, got nil")
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.PID() == 0 {
		t.Error("PID() = 0 after Start()")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{
		Name:   "bad-binary",
		Binary: "/nonexistent/binary",
	})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_OnStartCallback(t *testing.T) {
	var gotPID atomic.Int64
	m := NewManager(Config{
		Name:   "callback-test",
		Binary: "/bin/sleep",
		Args:   []string{"60"},
		OnStart: func(pid int) {
			gotPID.Store(int64(pid))
		},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop() //nolint:errcheck

	if gotPID.Load() == 0 {
		t.Error("OnStart was not called with a PID")
	}
	if int(gotPID.Load()) != m.PID() {
		t.Errorf("OnStart pid = %d, PID() = %d", gotPID.Load(), m.PID())
	}
}

func TestManager_TerminateTriggersRestart(t *testing.T) {
	m := NewManager(Config{
		Name:             "terminate-test",
		Binary:           "/bin/sleep",
		Args:             []string{"60"},
		RestartOnFailure: true,
		RestartDelay:     50 * time.Millisecond,
		GracefulTimeout:  time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop() //nolint:errcheck

	firstPID := m.PID()
	if err := m.Terminate("liveness check failed"); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	// Terminate is not a requested stop, so the monitor loop must bring
	// the child back with a fresh PID and count the restart.
	deadline := time.After(5 * time.Second)
	for !m.IsRunning() || m.PID() == firstPID {
		select {
		case <-deadline:
			t.Fatalf("process did not restart: status=%s pid=%d first=%d",
				m.Status(), m.PID(), firstPID)
		case <-time.After(20 * time.Millisecond):
		}
	}

	if m.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", m.RestartCount())
	}
}

func TestManager_TerminateWhenStopped(t *testing.T) {
	m := NewManager(Config{Name: "idle", Binary: "/bin/sleep"})

	if err := m.Terminate("nothing running"); err != nil {
		t.Errorf("Terminate() on stopped manager: %v", err)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
	}

	for _, tt := range tests {
		got := m.calculateBackoffDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConsumeRestartBudget(t *testing.T) {
	t.Run("within budget", func(t *testing.T) {
		m := NewManager(Config{Name: "t", Binary: "/bin/true", MaxRestarts: 3, RestartWindow: time.Hour})
		for i := 0; i < 3; i++ {
			if !m.consumeRestartBudget() {
				t.Fatalf("restart %d rejected within budget", i+1)
			}
		}
		if m.consumeRestartBudget() {
			t.Error("4th restart allowed with budget of 3")
		}
	})

	t.Run("window pruning", func(t *testing.T) {
		m := NewManager(Config{Name: "t", Binary: "/bin/true", MaxRestarts: 2, RestartWindow: time.Hour})
		old := time.Now().Add(-2 * time.Hour)
		m.restartTimes = []time.Time{old, old}

		if !m.consumeRestartBudget() {
			t.Error("stale entries should not count against the budget")
		}
	})

	t.Run("unlimited when zero", func(t *testing.T) {
		m := NewManager(Config{Name: "t", Binary: "/bin/true", MaxRestarts: 0})
		for i := 0; i < 50; i++ {
			if !m.consumeRestartBudget() {
				t.Fatalf("restart %d rejected with unlimited budget", i+1)
			}
		}
	})
}

func TestManager_BudgetExhaustionGivesUp(t *testing.T) {
	var gaveUp atomic.Bool
	m := NewManager(Config{
		Name:             "crash-loop",
		Binary:           "/bin/true",
		RestartOnFailure: true,
		RestartDelay:     10 * time.Millisecond,
		MaxRestartDelay:  20 * time.Millisecond,
		StableThreshold:  time.Hour,
		MaxRestarts:      2,
		RestartWindow:    time.Hour,
		OnGiveUp: func(string) {
			gaveUp.Store(true)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == StatusGivenUp {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if m.Status() != StatusGivenUp {
		t.Fatalf("Status() = %q, want %q", m.Status(), StatusGivenUp)
	}
	if !gaveUp.Load() {
		t.Error("OnGiveUp was not called")
	}
	if m.RestartCount() != 2 {
		t.Errorf("RestartCount() = %d, want 2", m.RestartCount())
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error is recoverable", func(t *testing.T) {
		if !IsRecoverable(nil) {
			t.Error("IsRecoverable(nil) = false, want true")
		}
	})

	t.Run("plain error is recoverable", func(t *testing.T) {
		if !IsRecoverable(context.DeadlineExceeded) {
			t.Error("plain error should be recoverable by default")
		}
	})

	t.Run("recoverable error interface", func(t *testing.T) {
		if !IsRecoverable(&testRecoverableError{recoverable: true}) {
			t.Error("recoverable error should return true")
		}
	})

	t.Run("non-recoverable error interface", func(t *testing.T) {
		if IsRecoverable(&testRecoverableError{recoverable: false}) {
			t.Error("non-recoverable error should return false")
		}
	})
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }
