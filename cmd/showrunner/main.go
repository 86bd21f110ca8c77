// Showrunner - scene execution engine for unattended exhibits
//
// This is the main entry point for the showrunner daemon. It drives a
// single room's show from declarative scene documents:
//   - Timed state machines dispatching MQTT actuator commands
//   - External media players supervised over JSON IPC
//   - Device presence tracking from retained status topics
//   - Status/control HTTP API with a WebSocket event stream
//   - Liveness heartbeat consumed by the showwatch supervisor
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/calliope-av/showrunner/migrations"

	"github.com/calliope-av/showrunner/internal/api"
	"github.com/calliope-av/showrunner/internal/dispatch"
	"github.com/calliope-av/showrunner/internal/engine"
	"github.com/calliope-av/showrunner/internal/infrastructure/config"
	"github.com/calliope-av/showrunner/internal/infrastructure/database"
	"github.com/calliope-av/showrunner/internal/infrastructure/influxdb"
	"github.com/calliope-av/showrunner/internal/infrastructure/logging"
	"github.com/calliope-av/showrunner/internal/infrastructure/mqtt"
	"github.com/calliope-av/showrunner/internal/media"
	"github.com/calliope-av/showrunner/internal/monitor"
	"github.com/calliope-av/showrunner/internal/presence"
	"github.com/calliope-av/showrunner/internal/runlog"
	"github.com/calliope-av/showrunner/internal/scene"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/showrunner.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting showrunner",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "showrunner", version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise the scene registry from the store, then fold in any
	// documents sitting in the scene directory. Directory imports go
	// through the same validator as API saves; a bad file is logged and
	// skipped, never fatal.
	loader := scene.NewLoader(cfg.Scenes.EndState)
	registry := scene.NewRegistry(scene.NewSQLiteRepository(db.DB), loader)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading scene registry: %w", refreshErr)
	}
	if cfg.Scenes.Dir != "" {
		imported, importErr := registry.ImportDir(ctx, cfg.Scenes.Dir)
		if importErr != nil {
			log.Warn("scene directory import incomplete", "dir", cfg.Scenes.Dir, "error", importErr)
		}
		log.Info("scene directory imported", "dir", cfg.Scenes.Dir, "imported", imported)
	}
	log.Info("scene registry initialised", "scenes", registry.Count())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Site.DeviceName)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the media players. A disabled lane still yields a player so
	// the dispatcher has something to hand media actions to; it answers
	// every command with ErrNotReady.
	audio, err := startPlayer(ctx, media.LaneAudio, cfg.Media.Audio, log)
	if err != nil {
		return fmt.Errorf("starting audio player: %w", err)
	}
	defer closePlayer(audio, log)

	video, err := startPlayer(ctx, media.LaneVideo, cfg.Media.Video, log)
	if err != nil {
		return fmt.Errorf("starting video player: %w", err)
	}
	defer closePlayer(video, log)

	// Action dispatcher fans scene actions out to the broker and the
	// media lanes.
	dispatcher := dispatch.NewDispatcher(mqttClient, audio, video)
	dispatcher.SetLogger(log)

	// Build the executor
	runRepo := runlog.NewSQLiteRepository(db.DB)
	eng := engine.New(engine.Config{
		Prefix:            cfg.Site.RoomPrefix,
		DefaultScene:      cfg.Scenes.DefaultScene,
		Autostart:         cfg.Scenes.Autostart,
		EndMarker:         cfg.Scenes.EndState,
		EventBuffer:       cfg.Engine.EventBuffer,
		HistoryLimit:      cfg.Engine.HistoryLimit,
		HeartbeatInterval: cfg.Engine.GetHeartbeatInterval(),
	}, registry, dispatcher, mqttClient, runRepo)
	eng.SetLogger(log)

	// Wire the liveness heartbeat consumed by showwatch
	if cfg.Engine.HeartbeatFile != "" {
		hb, hbErr := monitor.NewHeartbeat(cfg.Engine.HeartbeatFile)
		if hbErr != nil {
			return fmt.Errorf("preparing heartbeat file: %w", hbErr)
		}
		eng.SetHeartbeat(hb)
		log.Info("heartbeat file enabled", "path", hb.Path())
	} else {
		log.Warn("heartbeat file disabled; showwatch cannot detect a wedged loop")
	}

	// Track actuator presence from retained status topics
	tracker := presence.NewTracker(mqttClient)
	tracker.SetLogger(log)
	tracker.SetOnActuatorError(func(topic, payload string) {
		eng.ReportError("actuator", fmt.Sprintf("%s: %s", topic, payload))
		if influxClient != nil {
			snap := eng.Status()
			influxClient.WriteDispatchError(snap.SceneID, snap.State, "actuator")
		}
	})

	// One hub carries every WebSocket broadcast: engine status and
	// transitions, device presence changes. With the API disabled the hub
	// has no clients and broadcasts fall on the floor, which is fine.
	hub := api.NewHub(cfg.WebSocket, log)

	eng.SetOnStatus(func(snap engine.Snapshot) {
		hub.Broadcast(api.ChannelStatus, snap)
	})
	eng.SetOnTransition(func(tr engine.TransitionRecord) {
		hub.Broadcast(api.ChannelTransitions, tr)
		if influxClient != nil {
			influxClient.WriteSceneTransition(tr.SceneID, tr.From, tr.To, tr.Kind, tr.TimeInState)
		}
	})
	if influxClient != nil {
		dispatcher.SetOnError(func(kind scene.ActionKind) {
			snap := eng.Status()
			influxClient.WriteDispatchError(snap.SceneID, snap.State, string(kind))
		})
	}
	tracker.SetOnChange(func(st presence.DeviceStatus) {
		hub.Broadcast(api.ChannelDevices, st)
		if influxClient != nil {
			influxClient.WriteDeviceStatus(st.Name, st.Online)
		}
	})

	if startErr := tracker.Start(cfg.Site.RoomPrefix); startErr != nil {
		return fmt.Errorf("starting presence tracker: %w", startErr)
	}
	defer func() {
		if stopErr := tracker.Stop(); stopErr != nil {
			log.Error("error stopping presence tracker", "error", stopErr)
		}
	}()
	total, online := tracker.Counts()
	log.Info("presence tracking started", "known", total, "online", online)

	// System status publisher
	var sysmon *monitor.SystemMonitor
	if cfg.Monitor.Enabled {
		sysmon = monitor.NewSystemMonitor(cfg.Site.RoomPrefix, cfg.Monitor.GetStatusInterval(), mqttClient)
		sysmon.SetLogger(log)
		sysmon.SetStatusFunc(func() (string, string) {
			snap := eng.Status()
			return snap.SceneID, snap.State
		})
		// A nil *influxdb.Client boxed into the Telemetry interface would
		// not compare equal to nil inside the monitor, so only wire it
		// when the client exists.
		if influxClient != nil {
			sysmon.SetTelemetry(influxClient)
		}
	} else {
		log.Info("system monitor disabled")
	}

	// Status/control API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Engine:   eng,
			Scenes:   registry,
			Runs:     runRepo,
			Presence: tracker,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	} else {
		log.Info("API disabled")
	}

	// Everything long-running rides one errgroup so a fatal failure in
	// any loop unwinds the rest through the shared context.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})

	if sysmon != nil {
		g.Go(func() error {
			return sysmon.Run(gctx)
		})
	}

	if cfg.Scenes.Watch && cfg.Scenes.Dir != "" {
		watcher, watchErr := scene.NewWatcher(registry, cfg.Scenes.Dir)
		if watchErr != nil {
			return fmt.Errorf("creating scene watcher: %w", watchErr)
		}
		watcher.SetLogger(log)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		pumpMediaEvents(gctx, eng, audio)
		return nil
	})
	g.Go(func() error {
		pumpMediaEvents(gctx, eng, video)
		return nil
	})

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal; the loops unwind when the signal context
	// cancels, and the deferred Close() calls run in reverse start order.
	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return fmt.Errorf("runtime failure: %w", waitErr)
	}

	log.Info("shutdown signal received, cleaning up")

	log.Info("showrunner stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SHOWRUNNER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHOWRUNNER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startPlayer builds and starts one media lane.
//
// Parameters:
//   - ctx: Context for the player's connect/restart loops
//   - lane: Which lane this player serves (audio or video)
//   - cfg: The lane's configuration section
//   - log: Logger instance
//
// Returns:
//   - *media.Player: Started player (inert when the lane is disabled)
//   - error: If the player process fails to launch
func startPlayer(ctx context.Context, lane media.Lane, cfg config.MediaPlayerConfig, log *logging.Logger) (*media.Player, error) {
	player := media.NewPlayer(lane, cfg)
	player.SetLogger(log)

	if !player.Enabled() {
		log.Info("media lane disabled", "lane", lane)
		return player, nil
	}

	if err := player.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("media player started", "lane", lane, "socket", cfg.Socket)
	return player, nil
}

// closePlayer shuts a player down, logging rather than propagating the
// error: by the time the defer chain runs the show is already over.
func closePlayer(player *media.Player, log *logging.Logger) {
	if !player.Enabled() {
		return
	}
	log.Info("stopping media player", "lane", player.Lane())
	if err := player.Close(); err != nil {
		log.Error("error closing media player", "lane", player.Lane(), "error", err)
	}
}

// pumpMediaEvents forwards end-of-file events from one player lane into
// the executor, where they become audioEnd/videoEnd triggers.
func pumpMediaEvents(ctx context.Context, eng *engine.Engine, player *media.Player) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-player.Events():
			switch ev.Lane {
			case media.LaneAudio:
				eng.HandleAudioEnd(ev.File)
			case media.LaneVideo:
				eng.HandleVideoEnd(ev.File)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
