package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Reconciler  ReconcilerConfig `toml:"reconciler"`
	Import      ImportConfig     `toml:"import"`
	Auth        AuthConfig       `toml:"auth"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=1,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output"`                                       // "stdout", "file"
}

// WebSocketConfig contains configuration for the progress broadcast channel
type WebSocketConfig struct {
	// HeartbeatInterval is how often the server sends a heartbeat to each connection
	HeartbeatInterval string `toml:"heartbeat_interval"`
	// MaxMissedHeartbeats is how many unanswered heartbeats a connection survives
	MaxMissedHeartbeats int `toml:"max_missed_heartbeats" validate:"gte=1"`
	// ProgressThrottle rate-limits non-terminal progress broadcasts (e.g. "250ms").
	// Empty disables throttling. Terminal updates are never throttled.
	ProgressThrottle string `toml:"progress_throttle"`
}

// ReconcilerConfig contains thresholds for stale job detection
type ReconcilerConfig struct {
	SweepSchedule     string `toml:"sweep_schedule"`      // Cron schedule (with seconds field)
	NoProgressTimeout string `toml:"no_progress_timeout"` // Stall bound on updated_at, e.g. "2m"
	MaxSyncAge        string `toml:"max_sync_age"`        // Absolute age bound for sync jobs
	MaxImportAge      string `toml:"max_import_age"`      // Absolute age bound for import jobs
}

// ImportConfig contains limits for the synchronous pre-validator
type ImportConfig struct {
	MaxFileSize       int64    `toml:"max_file_size" validate:"gt=0"` // Hard ceiling in bytes
	AllowedExtensions []string `toml:"allowed_extensions"`
	HeaderSampleRows  int      `toml:"header_sample_rows" validate:"gte=1"`
	UploadDir         string   `toml:"upload_dir" validate:"required"` // Base directory for uploaded files
}

// AuthConfig maps bearer tokens to tenant IDs. In production tokens are
// minted by the platform gateway; this static map serves development and
// single-node deployments.
type AuthConfig struct {
	Tokens map[string]string `toml:"tokens"` // token -> tenant ID
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/passport",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval:   "30s",
			MaxMissedHeartbeats: 2,
		},
		Reconciler: ReconcilerConfig{
			SweepSchedule:     "*/30 * * * * *",
			NoProgressTimeout: "2m",
			MaxSyncAge:        "5m",
			MaxImportAge:      "10m",
		},
		Import: ImportConfig{
			MaxFileSize:       10 * 1024 * 1024,
			AllowedExtensions: []string{".csv", ".tsv", ".txt", ".xlsx", ".xls"},
			HeaderSampleRows:  5,
			UploadDir:         "./data/uploads",
		},
	}
}

// LoadConfig loads configuration from defaults, then the given TOML files
// (later files override earlier ones), then environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies PASSPORT_* environment variables
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("PASSPORT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PASSPORT_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("PASSPORT_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
	if path := os.Getenv("PASSPORT_DB_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Duration fields are strings in TOML; make sure they parse up front
	// instead of failing deep inside a service.
	for name, value := range map[string]string{
		"websocket.heartbeat_interval":   c.WebSocket.HeartbeatInterval,
		"reconciler.no_progress_timeout": c.Reconciler.NoProgressTimeout,
		"reconciler.max_sync_age":        c.Reconciler.MaxSyncAge,
		"reconciler.max_import_age":      c.Reconciler.MaxImportAge,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.WebSocket.ProgressThrottle != "" {
		if _, err := time.ParseDuration(c.WebSocket.ProgressThrottle); err != nil {
			return fmt.Errorf("invalid duration for websocket.progress_throttle: %w", err)
		}
	}
	return nil
}

// Interval returns the parsed heartbeat interval
func (c *WebSocketConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Throttle returns the parsed progress throttle interval, or zero when disabled
func (c *WebSocketConfig) Throttle() time.Duration {
	if c.ProgressThrottle == "" {
		return 0
	}
	d, err := time.ParseDuration(c.ProgressThrottle)
	if err != nil {
		return 0
	}
	return d
}

// NoProgress returns the parsed no-progress threshold
func (c *ReconcilerConfig) NoProgress() time.Duration {
	return parseDurationOr(c.NoProgressTimeout, 2*time.Minute)
}

// SyncAge returns the parsed absolute-age threshold for sync jobs
func (c *ReconcilerConfig) SyncAge() time.Duration {
	return parseDurationOr(c.MaxSyncAge, 5*time.Minute)
}

// ImportAge returns the parsed absolute-age threshold for import jobs
func (c *ReconcilerConfig) ImportAge() time.Duration {
	return parseDurationOr(c.MaxImportAge, 10*time.Minute)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
