package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"

	// StatusGivenUp means the restart budget was exhausted or the child
	// failed in a way marked non-recoverable. Manual intervention (or a
	// supervisor one level up) is required from here.
	StatusGivenUp Status = "given_up"
)

// maxOutputLine bounds a single captured stdout/stderr line.
const maxOutputLine = 64 * 1024

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from the parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from the parent process.
	WorkDir string

	// RestartOnFailure enables automatic restart when the process exits
	// unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the base delay before the first restart attempt.
	// Consecutive failures back off exponentially from here.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is the uptime after which a run counts as stable
	// and the backoff resets to RestartDelay.
	StableThreshold time.Duration

	// MaxRestarts limits restarts within RestartWindow. Exceeding the
	// budget moves the manager to StatusGivenUp. 0 means unlimited.
	MaxRestarts int

	// RestartWindow is the sliding window for MaxRestarts.
	RestartWindow time.Duration

	// GracefulTimeout is how long to wait for graceful shutdown before
	// SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck is called periodically to verify the process is
	// healthy. If nil, the process is considered healthy while running.
	HealthCheck func(ctx context.Context) error

	// HealthCheckInterval is how often to run health checks.
	HealthCheckInterval time.Duration

	// MaxHealthFailures is how many consecutive health check failures are
	// tolerated before the process is killed and restarted.
	MaxHealthFailures int

	// OnStart is called with the new PID each time the process starts.
	OnStart func(pid int)

	// OnStop is called when the process stops. err is nil for a
	// requested stop.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)

	// OnGiveUp is called once when the manager stops retrying.
	OnGiveUp func(reason string)
}

// DefaultConfig returns a Config with the deployment defaults.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartDelay:     5 * time.Minute,
		StableThreshold:     2 * time.Minute,
		MaxRestarts:         10,
		RestartWindow:       time.Hour,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		MaxHealthFailures:   3,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RecoverableError lets a caller-supplied health check or exit
// classification mark a failure as permanent. Non-recoverable failures
// skip the restart loop entirely.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a restart may fix the given error.
// Errors that do not implement RecoverableError are assumed transient.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// Manager supervises the lifecycle of one subprocess: start, output
// capture, health checks, restart with backoff under a windowed budget,
// graceful stop.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	restartTimes  []time.Time
	backoffStep   int
	lastError     error
	startTime     time.Time
	stopRequested bool

	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.RestartWindow == 0 {
		cfg.RestartWindow = time.Hour
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.MaxHealthFailures == 0 {
		cfg.MaxHealthFailures = 3
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the subprocess and begins monitoring it. The process is
// restarted on unexpected exit while the restart budget lasts.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)

	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from validated config

	// New process group so the whole tree can be signalled on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart(cmd.Process.Pid)
	}

	return nil
}

// captureOutput logs each child output line.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxOutputLine)
	for scanner.Scan() {
		m.logger.Debug("child output",
			"name", m.config.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		m.logger.Debug("output stream closed",
			"name", m.config.Name,
			"stream", stream,
			"error", err,
		)
	}
}

// waitForExitOrHealthFailure blocks until the child exits or health checks
// fail MaxHealthFailures times in a row, in which case the child is killed
// so the restart path can take over. Catches hung-but-alive children.
func (m *Manager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if m.config.HealthCheck == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.config.HealthCheck(checkCtx)
			cancel()

			if err == nil {
				if consecutiveFailures > 0 {
					m.logger.Info("health check recovered",
						"name", m.config.Name,
						"previous_failures", consecutiveFailures,
					)
				}
				consecutiveFailures = 0
				continue
			}

			consecutiveFailures++
			m.logger.Warn("health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", consecutiveFailures,
				"threshold", m.config.MaxHealthFailures,
			)

			if !IsRecoverable(err) {
				m.logger.Error("health check reported a non-recoverable failure, killing process",
					"name", m.config.Name,
					"error", err,
				)
				killAndWait(cmd, exitCh)
				return err
			}

			if consecutiveFailures >= m.config.MaxHealthFailures {
				m.logger.Error("health check failed repeatedly, killing process",
					"name", m.config.Name,
					"failures", consecutiveFailures,
				)
				killAndWait(cmd, exitCh)
				return fmt.Errorf("killed after %d consecutive health check failures", consecutiveFailures)
			}
		}
	}
}

func killAndWait(cmd *exec.Cmd, exitCh <-chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
	}
}

// monitor watches the child and drives the restart loop.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		if cmd == nil {
			return
		}

		err := m.waitForExitOrHealthFailure(ctx, cmd)
		uptime := time.Since(started)

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped as requested", "name", m.config.Name)
			m.setStatus(StatusStopped, nil)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"uptime", uptime,
			"error", err,
		)
		m.setStatus(StatusFailed, err)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, not restarting", "name", m.config.Name)
			return
		}
		if !IsRecoverable(err) {
			m.giveUp("non-recoverable failure: " + err.Error())
			return
		}

		// A stable run resets the backoff; a quick death escalates it.
		m.mu.Lock()
		if uptime >= m.config.StableThreshold {
			m.backoffStep = 0
		}
		m.backoffStep++
		attempt := m.backoffStep
		m.mu.Unlock()

		if !m.consumeRestartBudget() {
			m.giveUp(fmt.Sprintf("restart budget exhausted (%d in %s)",
				m.config.MaxRestarts, m.config.RestartWindow))
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			return
		}

		if err := m.startProcess(ctx); err != nil {
			m.logger.Error("failed to restart process",
				"name", m.config.Name,
				"error", err,
			)
			// Loop again; the budget still applies
		}
	}
}

func (m *Manager) setStatus(status Status, err error) {
	m.mu.Lock()
	m.status = status
	if err != nil {
		m.lastError = err
	}
	m.mu.Unlock()
}

func (m *Manager) giveUp(reason string) {
	m.logger.Error("giving up on process", "name", m.config.Name, "reason", reason)
	m.mu.Lock()
	m.status = StatusGivenUp
	m.mu.Unlock()
	if m.config.OnGiveUp != nil {
		m.config.OnGiveUp(reason)
	}
}

// consumeRestartBudget records a restart and reports whether it fits the
// sliding window. MaxRestarts == 0 disables the budget.
func (m *Manager) consumeRestartBudget() bool {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.config.RestartWindow)
	kept := m.restartTimes[:0]
	for _, t := range m.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.restartTimes = kept

	if m.config.MaxRestarts > 0 && len(m.restartTimes) >= m.config.MaxRestarts {
		return false
	}

	m.restartTimes = append(m.restartTimes, now)
	m.restartCount++
	return true
}

// calculateBackoffDelay doubles the base delay per consecutive failed
// attempt, capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	if delay > m.config.MaxRestartDelay {
		return m.config.MaxRestartDelay
	}
	return delay
}

// Stop gracefully stops the subprocess: SIGTERM to the process group,
// SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	// Negative PID signals the whole process group (Setpgid above)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
		}
	}

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
		}
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)

	return nil
}

// Terminate forces the child down without marking the stop as requested,
// so the monitor loop treats the exit as a failure: restart budget and
// backoff apply exactly as for a crash. This is the watchdog's restart
// path when a liveness check fails.
func (m *Manager) Terminate(reason string) error {
	m.mu.RLock()
	cmd := m.cmd
	status := m.status
	m.mu.RUnlock()

	if status != StatusRunning || cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Warn("terminating process",
		"name", m.config.Name,
		"pid", pid,
		"reason", reason,
	)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("terminating process group %s: %w", m.config.Name, err)
		}
	}

	// Escalate if the child ignores SIGTERM. The monitor's Wait observes
	// the exit either way; the pointer compare keeps a replacement child
	// from catching the stray SIGKILL.
	go func() {
		timer := time.NewTimer(m.config.GracefulTimeout)
		defer timer.Stop()
		<-timer.C

		m.mu.RLock()
		still := m.cmd == cmd && m.status == StatusRunning
		m.mu.RUnlock()
		if still {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
	}()

	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns how many times the process has been restarted.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the process has been running, 0 if stopped.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time summary of the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
