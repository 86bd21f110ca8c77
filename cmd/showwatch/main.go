// Showwatch - watchdog supervisor for the showrunner daemon
//
// Showwatch runs the engine as a child process and restarts it whenever
// it crashes, stops writing its liveness heartbeat, or breaches the
// configured resource ceilings. Recovery is always a full process
// restart; the engine never tries to heal itself in place. A bounded
// restart budget keeps a persistently broken install from flapping
// forever: once the budget is spent, showwatch exits non-zero and leaves
// the next move to the init system.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/calliope-av/showrunner/internal/infrastructure/config"
	"github.com/calliope-av/showrunner/internal/infrastructure/logging"
	"github.com/calliope-av/showrunner/internal/process"
	"github.com/calliope-av/showrunner/internal/watchdog"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, shared with the engine so both read
// the same watchdog section.
const defaultConfigPath = "configs/showrunner.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run supervises the engine until the context is cancelled or the
// restart budget is exhausted.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting showwatch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, "showwatch", version)

	checker := watchdog.NewChecker(buildCheckerConfig(cfg))
	checker.SetLogger(log)

	// startedAt tracks the current child's launch time so the check loop
	// can give a booting engine the same tolerance a quiet one gets: the
	// first heartbeat only appears once the engine is through its own
	// init, which can take a while against an unreachable broker.
	var startedAt atomic.Int64

	// gaveUp carries the manager's terminal verdict out of its monitor
	// goroutine into the supervision loop.
	gaveUp := make(chan string, 1)

	mcfg := buildProcessConfig(cfg)
	mcfg.OnStart = func(pid int) {
		checker.Reset()
		startedAt.Store(time.Now().UnixNano())
		log.Info("engine process started", "pid", pid)
	}
	mcfg.OnStop = func(err error) {
		if err != nil {
			log.Warn("engine process exited", "error", err)
		}
	}
	mcfg.OnRestart = func(attempt int) {
		log.Info("engine restart scheduled", "attempt", attempt)
	}
	mcfg.OnGiveUp = func(reason string) {
		select {
		case gaveUp <- reason:
		default:
		}
	}

	manager := process.NewManager(mcfg)
	manager.SetLogger(log)

	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine process: %w", startErr)
	}
	defer func() {
		log.Info("stopping engine process")
		if stopErr := manager.Stop(); stopErr != nil {
			log.Error("error stopping engine process", "error", stopErr)
		}
	}()

	grace := cfg.Watchdog.GetHeartbeatMaxAge()
	ticker := time.NewTicker(cfg.Watchdog.GetCheckInterval())
	defer ticker.Stop()

	log.Info("supervision started",
		"binary", cfg.Watchdog.Binary,
		"check_interval", cfg.Watchdog.GetCheckInterval(),
		"heartbeat_max_age", grace,
		"memory_limit_mb", cfg.Watchdog.MemoryLimitMB,
		"cpu_limit_percent", cfg.Watchdog.CPULimitPercent,
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			log.Info("showwatch stopped")
			return nil

		case reason := <-gaveUp:
			return fmt.Errorf("supervision ended: %s", reason)

		case <-ticker.C:
			if !manager.IsRunning() {
				// The manager's own restart loop is on it.
				continue
			}
			if time.Since(time.Unix(0, startedAt.Load())) < grace {
				log.Debug("within startup grace period, skipping check")
				continue
			}

			res := checker.Check(ctx, manager.PID())
			if res.Healthy {
				log.Debug("engine healthy",
					"heartbeat_age", res.Sample.HeartbeatAge.Round(time.Second),
					"scene", res.Sample.Scene,
					"state", res.Sample.State,
					"cpu_percent", res.Sample.CPUPercent,
					"memory_mb", res.Sample.MemoryMB,
				)
				continue
			}

			log.Error("engine unhealthy, forcing restart", "reason", res.Reason)
			if termErr := manager.Terminate(res.Reason); termErr != nil {
				log.Error("failed to terminate engine process", "error", termErr)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SHOWRUNNER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHOWRUNNER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildProcessConfig maps the watchdog config section onto the process
// supervisor. Restart-on-failure is always on; a supervisor that does
// not restart is just a launcher.
func buildProcessConfig(cfg *config.Config) process.Config {
	mcfg := process.DefaultConfig("showrunner", cfg.Watchdog.Binary, cfg.Watchdog.Args)
	mcfg.WorkDir = cfg.Watchdog.WorkDir
	mcfg.RestartOnFailure = true
	mcfg.RestartDelay = cfg.Watchdog.GetRestartDelay()
	mcfg.MaxRestarts = cfg.Watchdog.MaxRestarts
	mcfg.RestartWindow = cfg.Watchdog.GetRestartWindow()
	mcfg.GracefulTimeout = cfg.Watchdog.GetGracefulTimeout()
	return mcfg
}

// buildCheckerConfig maps the watchdog config section onto the liveness
// checker. The heartbeat path comes from the engine section so both
// processes agree on the file without repeating it.
func buildCheckerConfig(cfg *config.Config) watchdog.Config {
	return watchdog.Config{
		HeartbeatPath:   cfg.Engine.HeartbeatFile,
		HeartbeatMaxAge: cfg.Watchdog.GetHeartbeatMaxAge(),
		MemoryLimitMB:   float64(cfg.Watchdog.MemoryLimitMB),
		CPULimitPercent: cfg.Watchdog.CPULimitPercent,
		CPUConsecutive:  cfg.Watchdog.CPUConsecutive,
	}
}
