package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/calliope-av/showrunner/internal/engine"
	"github.com/calliope-av/showrunner/internal/infrastructure/config"
	"github.com/calliope-av/showrunner/internal/infrastructure/logging"
	"github.com/calliope-av/showrunner/internal/presence"
	"github.com/calliope-av/showrunner/internal/runlog"
	"github.com/calliope-av/showrunner/internal/scene"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the slice of the scene engine the API drives. Satisfied by
// *engine.Engine.
type Controller interface {
	StartScene(ctx context.Context, sceneID, source string) error
	Stop(ctx context.Context, source string) error
	HandleButton(id string)
	Status() engine.Snapshot
}

// SceneStore serves the scene document endpoints. Satisfied by
// *scene.Registry.
type SceneStore interface {
	List(ctx context.Context) ([]scene.Record, error)
	GetRecord(ctx context.Context, sceneID string) (*scene.Record, error)
	Put(ctx context.Context, definition []byte, sourceFile string) (*scene.Scene, error)
	Count() int
}

// RunStore serves the run history endpoints. Satisfied by any
// runlog.Repository.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*runlog.Run, error)
	ListRuns(ctx context.Context, sceneID string, limit int) ([]runlog.Run, error)
	ListTransitions(ctx context.Context, runID string) ([]runlog.Transition, error)
	Stats(ctx context.Context) (runlog.Stats, error)
}

// PresenceSource feeds the device endpoints. Satisfied by
// *presence.Tracker.
type PresenceSource interface {
	Snapshot() []presence.DeviceStatus
	Counts() (total, online int)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Engine Controller
	Scenes SceneStore
	Runs   RunStore

	// Presence is optional; without it the device surface reports empty.
	Presence PresenceSource

	// Hub is optional. When set, the server broadcasts through this hub
	// instead of creating its own, so the caller can feed engine and
	// presence events into the same hub the WebSocket clients hang off.
	// The server still runs and closes the hub.
	Hub *Hub

	Version string
}

// Server is the HTTP status and control surface.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	engine   Controller
	scenes   SceneStore
	runs     RunStore
	presence PresenceSource
	version  string

	server    *http.Server
	hub       *Hub
	tickets   *ticketAudit
	startTime time.Time
	cancel    context.CancelFunc // stops background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine, stores)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Scenes == nil {
		return nil, fmt.Errorf("scene store is required")
	}
	if deps.Runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	// Presence is optional; the device surface degrades to empty without it.

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     normalizeWSConfig(deps.WS),
		logger:    deps.Logger,
		engine:    deps.Engine,
		scenes:    deps.Scenes,
		runs:      deps.Runs,
		presence:  deps.Presence,
		version:   deps.Version,
		hub:       deps.Hub,
		tickets:   newTicketAudit(),
		startTime: time.Now(),
	}

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub so callers can wire event sources into it
// before Start().
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket sweeper, builds the router, and
// launches the HTTP listener in a background goroutine. The server is
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop background goroutines (hub, ticket sweeper)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// normalizeWSConfig fills zero fields so a partial config cannot produce
// zero tickers or a zero read limit.
func normalizeWSConfig(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = 30
	}
	return cfg
}
