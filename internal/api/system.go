package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/calliope-av/showrunner/internal/engine"
	"github.com/calliope-av/showrunner/internal/presence"
	"github.com/calliope-av/showrunner/internal/runlog"
)

// StatusResponse is the GET /status payload: the engine snapshot plus the
// headline counts a dashboard shows at a glance.
type StatusResponse struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Engine        engine.Snapshot `json:"engine"`
	Devices       DeviceCounts    `json:"devices"`
	ScenesLoaded  int             `json:"scenes_loaded"`
}

// DeviceCounts summarizes tracked device presence.
type DeviceCounts struct {
	Total  int `json:"total"`
	Online int `json:"online"`
}

// handleStatus returns the engine snapshot with device and scene counts.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Engine:        s.engine.Status(),
		ScenesLoaded:  s.scenes.Count(),
	}
	if s.presence != nil {
		resp.Devices.Total, resp.Devices.Online = s.presence.Counts()
	}

	writeJSON(w, http.StatusOK, resp)
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Broker        BrokerMetrics  `json:"broker"`
	Devices       DeviceCounts   `json:"devices"`
	Runs          runlog.Stats   `json:"runs"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// BrokerMetrics contains messaging client statistics.
type BrokerMetrics struct {
	Connected bool `json:"connected"`
}

// handleMetrics returns process, runtime, and store metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Broker: BrokerMetrics{
			Connected: s.engine.Status().Connected,
		},
	}

	if s.presence != nil {
		metrics.Devices.Total, metrics.Devices.Online = s.presence.Counts()
	}

	// Run history counters come from the store; a failure degrades to zeros
	// rather than failing the whole metrics read.
	if stats, err := s.runs.Stats(r.Context()); err == nil {
		metrics.Runs = stats
	} else {
		s.logger.Warn("run stats unavailable for metrics", "error", err)
	}

	writeJSON(w, http.StatusOK, metrics)
}

// handleListDevices returns the tracked presence of every known device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := []presence.DeviceStatus{}
	if s.presence != nil {
		devices = s.presence.Snapshot()
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}
