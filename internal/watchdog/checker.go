// Package watchdog decides when the supervised engine process must be
// restarted. It only judges; acting on the verdict is the supervisor's
// job, and a restart is always a full process restart.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/calliope-av/showrunner/internal/monitor"
)

// Defaults from the reference deployment.
const (
	DefaultHeartbeatMaxAge = 90 * time.Second
	DefaultMemoryLimitMB   = 300
	DefaultCPULimitPercent = 80.0
	DefaultCPUConsecutive  = 3
)

// Config carries the restart thresholds.
type Config struct {
	// HeartbeatPath is the engine's liveness file.
	HeartbeatPath string

	// HeartbeatMaxAge is the staleness threshold. Exceeding it fails the
	// check immediately.
	HeartbeatMaxAge time.Duration

	// MemoryLimitMB is the RSS ceiling. Exceeding it fails immediately.
	MemoryLimitMB float64

	// CPULimitPercent with CPUConsecutive fails the check only after that
	// many samples in a row over the limit, so a busy scene change does
	// not bounce the process.
	CPULimitPercent float64
	CPUConsecutive  int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatMaxAge <= 0 {
		c.HeartbeatMaxAge = DefaultHeartbeatMaxAge
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if c.CPULimitPercent <= 0 {
		c.CPULimitPercent = DefaultCPULimitPercent
	}
	if c.CPUConsecutive <= 0 {
		c.CPUConsecutive = DefaultCPUConsecutive
	}
	return c
}

// Sample is what one check observed, for the supervisor's logs.
type Sample struct {
	HeartbeatAge time.Duration
	Scene        string
	State        string
	CPUPercent   float64
	MemoryMB     float64
}

// Result is one check's verdict. Reason is empty when healthy.
type Result struct {
	Healthy bool
	Reason  string
	Sample  Sample
}

// ProcessStats reads resource usage for the supervised pid. The default
// implementation uses gopsutil; tests substitute a fake.
type ProcessStats interface {
	Stats(ctx context.Context, pid int) (cpuPercent, rssMB float64, err error)
}

// Logger matches the subset of logging used by this package.
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

// Checker evaluates the engine's liveness and resource usage against the
// configured limits. Not safe for concurrent use; the supervisor drives
// it from one loop.
type Checker struct {
	cfg    Config
	stats  ProcessStats
	logger Logger

	cpuStrikes int
}

// NewChecker creates a checker with gopsutil-backed process stats.
func NewChecker(cfg Config) *Checker {
	return &Checker{
		cfg:    cfg.withDefaults(),
		stats:  &gopsutilStats{},
		logger: noopLogger{},
	}
}

// SetLogger wires a logger.
func (c *Checker) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetProcessStats substitutes the resource reader.
func (c *Checker) SetProcessStats(stats ProcessStats) {
	if stats != nil {
		c.stats = stats
	}
}

// Reset clears accumulated CPU strikes. Call after a restart so the new
// process starts with a clean slate.
func (c *Checker) Reset() {
	c.cpuStrikes = 0
}

// Check runs one evaluation round against the supervised pid.
//
// Heartbeat staleness and RSS over the ceiling fail immediately. CPU over
// the ceiling fails only after the configured consecutive samples; one
// sample under the limit clears the count.
func (c *Checker) Check(ctx context.Context, pid int) Result {
	var res Result
	res.Healthy = true

	body, age, err := monitor.ReadHeartbeat(c.cfg.HeartbeatPath)
	if err != nil {
		res.Healthy = false
		res.Reason = fmt.Sprintf("heartbeat unreadable: %v", err)
		return res
	}
	res.Sample.HeartbeatAge = age
	res.Sample.Scene = body.Scene
	res.Sample.State = body.State

	if age > c.cfg.HeartbeatMaxAge {
		res.Healthy = false
		res.Reason = fmt.Sprintf("heartbeat stale: %s old, limit %s",
			age.Round(time.Second), c.cfg.HeartbeatMaxAge)
		return res
	}

	cpuPercent, rssMB, err := c.stats.Stats(ctx, pid)
	if err != nil {
		// The process may be mid-exit; liveness is the supervisor's call.
		c.logger.Warn("process stats unavailable", "pid", pid, "error", err)
		return res
	}
	res.Sample.CPUPercent = cpuPercent
	res.Sample.MemoryMB = rssMB

	if rssMB > c.cfg.MemoryLimitMB {
		res.Healthy = false
		res.Reason = fmt.Sprintf("memory %.1fMB over limit %.0fMB", rssMB, c.cfg.MemoryLimitMB)
		return res
	}

	if cpuPercent > c.cfg.CPULimitPercent {
		c.cpuStrikes++
		c.logger.Debug("cpu over limit",
			"cpu_percent", cpuPercent,
			"strikes", c.cpuStrikes,
			"threshold", c.cfg.CPUConsecutive,
		)
		if c.cpuStrikes >= c.cfg.CPUConsecutive {
			res.Healthy = false
			res.Reason = fmt.Sprintf("cpu %.1f%% over limit %.0f%% for %d consecutive samples",
				cpuPercent, c.cfg.CPULimitPercent, c.cpuStrikes)
			return res
		}
		return res
	}
	c.cpuStrikes = 0

	return res
}

// gopsutilStats reads process resources via gopsutil. The process handle
// is cached per pid: CPU percentages are deltas between calls on the
// same handle, and the first call on a fresh handle reports since
// process start.
type gopsutilStats struct {
	mu   sync.Mutex
	pid  int32
	proc *process.Process
}

func (g *gopsutilStats) Stats(ctx context.Context, pid int) (float64, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.proc == nil || g.pid != int32(pid) {
		proc, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			return 0, 0, fmt.Errorf("opening process %d: %w", pid, err)
		}
		g.pid = int32(pid)
		g.proc = proc
	}

	cpuPercent, err := g.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("reading cpu for %d: %w", pid, err)
	}
	memInfo, err := g.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reading memory for %d: %w", pid, err)
	}
	return cpuPercent, float64(memInfo.RSS) / (1024 * 1024), nil
}
