package media

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/calliope-av/showrunner/internal/infrastructure/config"
	"github.com/calliope-av/showrunner/internal/process"
)

// Logger matches the subset of logging used by the player.
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

// Event signals that a file finished playing on its own (reached its end,
// not stopped or replaced). The engine turns these into audioEnd/videoEnd
// triggers.
type Event struct {
	Lane Lane   `json:"lane"`
	File string `json:"file"`
}

// Player supervises one external player process and speaks its JSON IPC.
// One Player per lane: the audio lane runs without video output, the video
// lane fullscreen. A crashed player is restarted by the process supervisor
// and the IPC connection redialled; commands issued while the player is
// down fail with ErrNotReady and the show carries on.
type Player struct {
	lane    Lane
	cfg     config.MediaPlayerConfig
	logger  Logger
	manager *process.Manager
	events  chan Event

	mu      sync.Mutex
	conn    *ipcConn
	current string
}

// NewPlayer creates a player for the given lane. Call Start to launch the
// process.
func NewPlayer(lane Lane, cfg config.MediaPlayerConfig) *Player {
	binary := cfg.Binary
	if binary == "" {
		binary = "mpv"
	}

	args := []string{"--idle=yes", "--no-terminal", "--input-ipc-server=" + cfg.Socket}
	switch lane {
	case LaneAudio:
		args = append(args, "--no-video")
	case LaneVideo:
		args = append(args, "--fs", "--force-window=yes")
	}
	args = append(args, cfg.ExtraArgs...)

	mcfg := process.DefaultConfig("player-"+string(lane), binary, args)
	mcfg.RestartDelay = 2 * time.Second
	mcfg.MaxRestartDelay = 30 * time.Second
	mcfg.StableThreshold = time.Minute
	// Players retry for as long as the show runs; the watchdog budget
	// applies to the engine process, not its collaborators.
	mcfg.MaxRestarts = 0

	return &Player{
		lane:    lane,
		cfg:     cfg,
		logger:  noopLogger{},
		manager: process.NewManager(mcfg),
		events:  make(chan Event, 16),
	}
}

// SetLogger wires a logger for the player and its process supervisor.
func (p *Player) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
		p.manager.SetLogger(logger)
	}
}

// Lane returns which lane this player serves.
func (p *Player) Lane() Lane {
	return p.lane
}

// Enabled reports whether this lane is configured to run.
func (p *Player) Enabled() bool {
	return p.cfg.Enabled
}

// Start launches the player process and begins connecting to its IPC
// socket. A disabled lane starts nothing and reports ErrNotReady on every
// command.
func (p *Player) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.logger.Info("player disabled", "lane", p.lane)
		return nil
	}

	if err := p.manager.Start(ctx); err != nil {
		return fmt.Errorf("starting %s player: %w", p.lane, err)
	}
	go p.connLoop(ctx)
	return nil
}

// connLoop keeps an IPC connection up for the lifetime of the context,
// redialling whenever the player process restarts.
func (p *Player) connLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.manager.IsRunning() {
			sleepCtx(ctx, 500*time.Millisecond)
			continue
		}

		conn, err := dialIPC(p.cfg.Socket, 2*time.Second)
		if err != nil {
			// The process needs a moment to create the socket
			sleepCtx(ctx, 250*time.Millisecond)
			continue
		}

		p.logger.Info("player connected", "lane", p.lane, "socket", p.cfg.Socket)
		p.setConn(conn)
		p.pump(ctx, conn)
		p.setConn(nil)

		if ctx.Err() == nil {
			p.logger.Warn("player connection lost", "lane", p.lane)
		}
	}
}

// pump forwards player events until the connection dies.
func (p *Player) pump(ctx context.Context, conn *ipcConn) {
	for {
		select {
		case <-ctx.Done():
			conn.shutdown()
			return
		case msg, ok := <-conn.Events():
			if !ok {
				return
			}
			p.handleIPCEvent(msg)
		}
	}
}

func (p *Player) handleIPCEvent(msg ipcMessage) {
	// Only a natural end counts; "stop" and "error" reasons are the
	// result of our own commands or a broken file.
	if msg.Event != "end-file" || msg.Reason != "eof" {
		return
	}

	p.mu.Lock()
	file := p.current
	p.current = ""
	p.mu.Unlock()

	if file == "" {
		return
	}

	p.logger.Debug("media finished", "lane", p.lane, "file", file)
	select {
	case p.events <- Event{Lane: p.lane, File: file}:
	default:
		p.logger.Warn("media event dropped, consumer stalled", "lane", p.lane, "file", file)
	}
}

// Apply parses and executes one scene action message.
//
// Parameters:
//   - ctx: bounds the IPC round trip
//   - raw: the action message, e.g. "PLAY:whispers.mp3:70"
//
// Returns:
//   - error: ErrBadCommand for grammar violations, ErrNotReady while the
//     player is down, ErrCommandFailed when the player rejects the command
func (p *Player) Apply(ctx context.Context, raw string) error {
	cmd, err := ParseCommand(p.lane, raw)
	if err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s lane has no connection", ErrNotReady, p.lane)
	}

	switch cmd.Op {
	case OpPlay:
		path, err := p.resolve(cmd.File)
		if err != nil {
			return err
		}
		vol := cmd.Volume
		if vol < 0 {
			vol = p.cfg.DefaultVolume
		}
		if err := conn.command(ctx, "loadfile", path, "replace"); err != nil {
			return err
		}
		if err := conn.command(ctx, "set_property", "volume", vol); err != nil {
			return err
		}
		if err := conn.command(ctx, "set_property", "pause", false); err != nil {
			return err
		}
		p.mu.Lock()
		p.current = cmd.File
		p.mu.Unlock()
		return nil

	case OpStop:
		p.mu.Lock()
		p.current = ""
		p.mu.Unlock()
		return conn.command(ctx, "stop")

	case OpStopFile:
		p.mu.Lock()
		current := p.current
		p.mu.Unlock()
		if current != cmd.File {
			p.logger.Info("targeted stop ignored, different file is current",
				"lane", p.lane, "requested", cmd.File, "current", current)
			return nil
		}
		p.mu.Lock()
		p.current = ""
		p.mu.Unlock()
		return conn.command(ctx, "stop")

	case OpPause:
		return conn.command(ctx, "set_property", "pause", true)

	case OpResume:
		return conn.command(ctx, "set_property", "pause", false)

	case OpVolume:
		return conn.command(ctx, "set_property", "volume", cmd.Volume)

	case OpSeek:
		return conn.command(ctx, "seek", cmd.Seek, "absolute")

	default:
		return fmt.Errorf("%w: %q", ErrBadCommand, raw)
	}
}

// resolve maps an authored file name to a path under the media directory.
func (p *Player) resolve(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return filepath.Join(p.cfg.BaseDir, name), nil
}

// Events returns the end-of-file event stream.
func (p *Player) Events() <-chan Event {
	return p.events
}

// Current returns the authored name of the playing file, "" when idle.
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Ready reports whether the player process is up and its IPC connected.
func (p *Player) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && p.manager.IsRunning()
}

// Stats returns the supervisor's view of the player process.
func (p *Player) Stats() process.Stats {
	return p.manager.Stats()
}

// Close stops the player process and drops the IPC connection.
func (p *Player) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.shutdown()
	}
	if !p.cfg.Enabled {
		return nil
	}
	return p.manager.Stop()
}

func (p *Player) setConn(conn *ipcConn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
