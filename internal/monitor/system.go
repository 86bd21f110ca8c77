package monitor

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/calliope-av/showrunner/internal/infrastructure/mqtt"
)

const statusQoS = 1

// DefaultStatusInterval is used when the configuration leaves the
// interval unset.
const DefaultStatusInterval = 30 * time.Second

// SystemStatus is the retained payload on <prefix>/system/status.
type SystemStatus struct {
	Timestamp string `json:"timestamp"`

	// Scene and State mirror the executor at sampling time, empty when
	// idle.
	Scene string `json:"scene,omitempty"`
	State string `json:"state,omitempty"`

	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	MemoryUsedMB      float64 `json:"memory_used_mb"`
	DiskUsedPercent   float64 `json:"disk_used_percent"`
	HostUptimeS       uint64  `json:"host_uptime_s"`
	EngineUptimeS     float64 `json:"engine_uptime_s"`
	Goroutines        int     `json:"goroutines"`
}

// Publisher is the messaging subset used for status publishes.
type Publisher interface {
	PublishString(topic, payload string, qos byte, retained bool) error
}

// Telemetry receives the periodic samples. Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteEngineHeartbeat(sceneID, state string, uptime time.Duration)
	WriteSystemStats(cpuPercent, memoryMB float64)
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

// SystemMonitor samples the host and publishes the retained system
// status. Sampling failures degrade the payload, never the loop.
type SystemMonitor struct {
	prefix    string
	interval  time.Duration
	publisher Publisher
	logger    Logger
	telemetry Telemetry
	statusFn  func() (sceneID, state string)
	startedAt time.Time
	diskPath  string
}

// NewSystemMonitor creates the status publisher for the room's topic
// namespace. An empty prefix disables the broker publish but telemetry
// samples still flow.
func NewSystemMonitor(prefix string, interval time.Duration, publisher Publisher) *SystemMonitor {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &SystemMonitor{
		prefix:    prefix,
		interval:  interval,
		publisher: publisher,
		logger:    noopLogger{},
		statusFn:  func() (string, string) { return "", "" },
		startedAt: time.Now(),
		diskPath:  "/",
	}
}

// SetLogger wires a logger. Call before Run.
func (m *SystemMonitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetTelemetry wires the telemetry sink. Call before Run.
func (m *SystemMonitor) SetTelemetry(t Telemetry) {
	m.telemetry = t
}

// SetStatusFunc wires the executor status lookup so samples carry the
// current scene and state. Call before Run.
func (m *SystemMonitor) SetStatusFunc(fn func() (sceneID, state string)) {
	if fn != nil {
		m.statusFn = fn
	}
}

// Run publishes one sample immediately, then on every tick until ctx is
// cancelled.
func (m *SystemMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.publish(ctx)
		}
	}
}

func (m *SystemMonitor) publish(ctx context.Context) {
	status := m.sample(ctx)

	if m.telemetry != nil {
		m.telemetry.WriteEngineHeartbeat(status.Scene, status.State, time.Since(m.startedAt))
		m.telemetry.WriteSystemStats(status.CPUPercent, status.MemoryUsedMB)
	}

	if m.prefix == "" {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.SystemStatus(m.prefix)
	if err := m.publisher.PublishString(topic, string(payload), statusQoS, true); err != nil {
		m.logger.Debug("system status publish dropped", "topic", topic, "error", err)
	}
}

func (m *SystemMonitor) sample(ctx context.Context) SystemStatus {
	sceneID, state := m.statusFn()
	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Scene:         sceneID,
		State:         state,
		EngineUptimeS: time.Since(m.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		m.logger.Warn("cpu sample failed", "error", err)
	} else if len(percents) > 0 {
		status.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		m.logger.Warn("memory sample failed", "error", err)
	} else {
		status.MemoryUsedPercent = vm.UsedPercent
		status.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	}

	if du, err := disk.UsageWithContext(ctx, m.diskPath); err != nil {
		m.logger.Warn("disk sample failed", "error", err)
	} else {
		status.DiskUsedPercent = du.UsedPercent
	}

	if up, err := host.UptimeWithContext(ctx); err != nil {
		m.logger.Warn("host uptime sample failed", "error", err)
	} else {
		status.HostUptimeS = up
	}

	return status
}
