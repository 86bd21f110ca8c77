package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for showrunner.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Scenes    ScenesConfig    `yaml:"scenes"`
	Engine    EngineConfig    `yaml:"engine"`
	Media     MediaConfig     `yaml:"media"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	// ID uniquely names this installation (e.g. "museum-hall-3").
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// RoomPrefix is the default topic namespace for scenes that do not set
	// their own globalPrefix (e.g. "room1").
	RoomPrefix string `yaml:"room_prefix"`

	// DeviceName is this controller's identity on the presence topic
	// devices/<device_name>/status.
	DeviceName string `yaml:"device_name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Fallback  MQTTFallbackConfig  `yaml:"fallback"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTFallbackConfig names a secondary broker tried when the primary is
// unreachable. An empty host disables the fallback.
type MQTTFallbackConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ScenesConfig controls the scene library.
type ScenesConfig struct {
	// Dir is a directory of *.json scene documents imported into the store
	// at startup. Empty disables directory import.
	Dir string `yaml:"dir"`

	// Watch re-imports scene files when they change on disk.
	Watch bool `yaml:"watch"`

	// DefaultScene is started by button presses when no scene is running,
	// and at boot when Autostart is set.
	DefaultScene string `yaml:"default_scene"`
	Autostart    bool   `yaml:"autostart"`

	// EndState is the state name recognised as a scene's terminal marker.
	EndState string `yaml:"end_state"`
}

// EngineConfig contains state machine executor settings.
type EngineConfig struct {
	// HeartbeatFile is touched by the executor loop; the watchdog treats a
	// stale file as a wedged engine.
	HeartbeatFile     string `yaml:"heartbeat_file"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"`

	// EventBuffer is the executor's inbound event channel capacity.
	EventBuffer int `yaml:"event_buffer"`

	// HistoryLimit caps the per-run state history ring.
	HistoryLimit int `yaml:"history_limit"`
}

// MediaConfig groups the audio and video player collaborators.
type MediaConfig struct {
	Audio MediaPlayerConfig `yaml:"audio"`
	Video MediaPlayerConfig `yaml:"video"`
}

// MediaPlayerConfig describes one managed external player process.
type MediaPlayerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Binary is the player executable. Default: "mpv".
	Binary string `yaml:"binary"`

	// Socket is the JSON IPC socket path the player is started with.
	Socket string `yaml:"socket"`

	// BaseDir is the directory media file names resolve under.
	BaseDir string `yaml:"base_dir"`

	// ExtraArgs are appended to the player command line.
	ExtraArgs []string `yaml:"extra_args"`

	// DefaultVolume is applied when a PLAY command carries no volume (0-100).
	DefaultVolume int `yaml:"default_volume"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	AuthToken string           `yaml:"auth_token"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// TicketTTL is the lifetime in seconds of a WebSocket connection ticket.
	TicketTTL int `yaml:"ticket_ttl"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// MonitorConfig contains the system status publisher settings.
type MonitorConfig struct {
	Enabled        bool `yaml:"enabled"`
	StatusInterval int  `yaml:"status_interval"`
}

// WatchdogConfig contains settings for the showwatch supervisor.
type WatchdogConfig struct {
	// Binary is the engine executable showwatch runs and supervises.
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`

	// CheckInterval is how often resource and heartbeat checks run (seconds).
	CheckInterval int `yaml:"check_interval"`

	// HeartbeatMaxAge is the staleness threshold for the heartbeat file (seconds).
	HeartbeatMaxAge int `yaml:"heartbeat_max_age"`

	// MemoryLimitMB restarts the engine when its RSS exceeds this ceiling.
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// CPULimitPercent with CPUConsecutive restarts the engine when CPU usage
	// exceeds the limit for that many consecutive samples.
	CPULimitPercent float64 `yaml:"cpu_limit_percent"`
	CPUConsecutive  int     `yaml:"cpu_consecutive"`

	// RestartDelay is the pause before relaunching a stopped engine (seconds).
	RestartDelay int `yaml:"restart_delay"`

	// MaxRestarts bounds restarts within RestartWindow (seconds); exceeding
	// the budget stops supervision rather than flapping forever.
	MaxRestarts   int `yaml:"max_restarts"`
	RestartWindow int `yaml:"restart_window"`

	// GracefulTimeout is how long a stopping engine gets between SIGTERM
	// and SIGKILL (seconds).
	GracefulTimeout int `yaml:"graceful_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SHOWRUNNER_SECTION_KEY
// For example: SHOWRUNNER_DATABASE_PATH, SHOWRUNNER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// Watchdog thresholds follow the reference exhibit deployment: a 60 second
// check cadence, 300 MB memory ceiling, 80% CPU over three consecutive
// samples, and at most ten restarts per hour.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:         "exhibit-001",
			Name:       "showrunner",
			RoomPrefix: "room1",
			DeviceName: "showrunner",
		},
		Database: DatabaseConfig{
			Path:        "./data/showrunner.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "showrunner",
			},
			Fallback: MQTTFallbackConfig{
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Scenes: ScenesConfig{
			Dir:      "./scenes",
			EndState: "END",
		},
		Engine: EngineConfig{
			HeartbeatFile:     "./data/heartbeat.json",
			HeartbeatInterval: 5,
			EventBuffer:       64,
			HistoryLimit:      50,
		},
		Media: MediaConfig{
			Audio: MediaPlayerConfig{
				Binary:        "mpv",
				Socket:        "/tmp/showrunner-audio.sock",
				DefaultVolume: 80,
			},
			Video: MediaPlayerConfig{
				Binary:        "mpv",
				Socket:        "/tmp/showrunner-video.sock",
				DefaultVolume: 100,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8089,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			TicketTTL:      30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			StatusInterval: 30,
		},
		Watchdog: WatchdogConfig{
			Binary:          "./showrunner",
			CheckInterval:   60,
			HeartbeatMaxAge: 90,
			MemoryLimitMB:   300,
			CPULimitPercent: 80,
			CPUConsecutive:  3,
			RestartDelay:    5,
			MaxRestarts:     10,
			RestartWindow:   3600,
			GracefulTimeout: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SHOWRUNNER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SHOWRUNNER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SHOWRUNNER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHOWRUNNER_MQTT_FALLBACK_HOST"); v != "" {
		cfg.MQTT.Fallback.Host = v
	}
	if v := os.Getenv("SHOWRUNNER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHOWRUNNER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Scenes
	if v := os.Getenv("SHOWRUNNER_SCENES_DIR"); v != "" {
		cfg.Scenes.Dir = v
	}

	// API
	if v := os.Getenv("SHOWRUNNER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SHOWRUNNER_API_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}

	// InfluxDB
	if v := os.Getenv("SHOWRUNNER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SHOWRUNNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.DeviceName == "" {
		errs = append(errs, "site.device_name is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	// Scene validation
	if c.Scenes.EndState == "" {
		errs = append(errs, "scenes.end_state is required")
	}

	// Engine validation
	if c.Engine.HeartbeatInterval < 1 {
		errs = append(errs, "engine.heartbeat_interval must be at least 1 second")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The auth token gates the control verbs (start/stop/button) and
		// signs WebSocket tickets. Anyone holding it can drive physical
		// hardware, so an empty or trivially guessable token is rejected.
		const minAuthTokenLength = 16
		if c.API.AuthToken == "" {
			errs = append(errs, "api.auth_token is required when the API is enabled (set SHOWRUNNER_API_TOKEN environment variable)")
		} else if len(c.API.AuthToken) < minAuthTokenLength {
			errs = append(errs, "api.auth_token must be at least 16 characters")
		}
	}

	// Watchdog validation
	if c.Watchdog.CheckInterval < 1 {
		errs = append(errs, "watchdog.check_interval must be at least 1 second")
	}
	if c.Watchdog.CPUConsecutive < 1 {
		errs = append(errs, "watchdog.cpu_consecutive must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetKeepAlive returns the MQTT keep-alive interval as a Duration.
func (c *MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// GetInitialDelay returns the reconnect initial delay as a Duration.
func (c *MQTTReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(c.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect delay ceiling as a Duration.
func (c *MQTTReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(c.MaxDelay) * time.Second
}

// GetHeartbeatInterval returns the heartbeat cadence as a Duration.
func (c *EngineConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

// GetStatusInterval returns the system status publish cadence as a Duration.
func (c *MonitorConfig) GetStatusInterval() time.Duration {
	return time.Duration(c.StatusInterval) * time.Second
}

// GetTicketTTL returns the WebSocket ticket lifetime as a Duration.
func (c *WebSocketConfig) GetTicketTTL() time.Duration {
	return time.Duration(c.TicketTTL) * time.Second
}

// GetCheckInterval returns the watchdog check cadence as a Duration.
func (c *WatchdogConfig) GetCheckInterval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// GetHeartbeatMaxAge returns the heartbeat staleness threshold as a Duration.
func (c *WatchdogConfig) GetHeartbeatMaxAge() time.Duration {
	return time.Duration(c.HeartbeatMaxAge) * time.Second
}

// GetRestartDelay returns the restart pause as a Duration.
func (c *WatchdogConfig) GetRestartDelay() time.Duration {
	return time.Duration(c.RestartDelay) * time.Second
}

// GetRestartWindow returns the restart budget window as a Duration.
func (c *WatchdogConfig) GetRestartWindow() time.Duration {
	return time.Duration(c.RestartWindow) * time.Second
}

// GetGracefulTimeout returns the SIGTERM-to-SIGKILL grace period as a Duration.
func (c *WatchdogConfig) GetGracefulTimeout() time.Duration {
	return time.Duration(c.GracefulTimeout) * time.Second
}
