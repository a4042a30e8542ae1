package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mescon/Cadence/internal/logger"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Port is the HTTP server listen port (default: 3190)
	Port string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// PollInterval is the engine poll period (default: 25ms, minimum 1ms)
	PollInterval time.Duration

	// LookAhead is how far past engine time each poll reaches (default: 100ms)
	// Should be at least PollInterval or actions fire late under jitter
	LookAhead time.Duration

	// TimecodeInterval is how often the WebSocket hub broadcasts engine time (default: 100ms)
	// Set to 0 to disable timecode messages
	TimecodeInterval time.Duration

	// SketchPath is the JavaScript sketch evaluated at startup (default: <DataDir>/sketch.js)
	SketchPath string

	// WatchSketch reloads the sketch whenever the file changes (default: true)
	WatchSketch bool

	// SketchRateLimitRPS limits POST /api/sketch per client (default: 2)
	SketchRateLimitRPS float64

	// SketchRateLimitBurst is the burst size for sketch uploads (default: 5)
	SketchRateLimitBurst int

	// DatabasePath is the SQLite file holding sketch revisions and the event journal
	// (default: <DataDir>/cadence.db)
	DatabasePath string

	// RetentionDays is how long journaled events and revisions are kept; 0 disables pruning (default: 30)
	RetentionDays int

	// DataDir is the directory for sketches, the database and logs
	// Default: /config in Docker, ./config locally
	DataDir string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	// Determine DataDir - this is where sketches and logs live
	// Default: ./config (relative to executable or cwd)
	// In Docker: /config is created automatically
	dataDir := getEnvOrDefault("CADENCE_DATA_DIR", "")
	if dataDir == "" {
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else if execPath, err := os.Executable(); err == nil {
			dataDir = filepath.Join(filepath.Dir(execPath), "config")
		} else if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "config")
		} else {
			dataDir = "./config"
		}
	}

	// Ensure dataDir is absolute
	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Warnf("Could not create data directory %s: %v", dataDir, err)
	}

	logDir := getEnvOrDefault("CADENCE_LOG_DIR", filepath.Join(dataDir, "logs"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logger.Warnf("Could not create log directory %s: %v", logDir, err)
	}

	cfg = &Config{
		Port:                 getEnvOrDefault("CADENCE_PORT", "3190"),
		LogLevel:             strings.ToLower(getEnvOrDefault("CADENCE_LOG_LEVEL", "info")),
		PollInterval:         getEnvDurationOrDefault("CADENCE_POLL_INTERVAL", 25*time.Millisecond),
		LookAhead:            getEnvDurationOrDefault("CADENCE_LOOK_AHEAD", 100*time.Millisecond),
		TimecodeInterval:     getEnvDurationOrDefault("CADENCE_TIMECODE_INTERVAL", 100*time.Millisecond),
		SketchPath:           getEnvOrDefault("CADENCE_SKETCH_PATH", filepath.Join(dataDir, "sketch.js")),
		WatchSketch:          getEnvBoolOrDefault("CADENCE_WATCH", true),
		SketchRateLimitRPS:   getEnvFloatOrDefault("CADENCE_SKETCH_RATE_LIMIT_RPS", 2.0),
		SketchRateLimitBurst: getEnvIntOrDefault("CADENCE_SKETCH_RATE_LIMIT_BURST", 5),
		DatabasePath:         getEnvOrDefault("CADENCE_DATABASE_PATH", filepath.Join(dataDir, "cadence.db")),
		RetentionDays:        getEnvIntOrDefault("CADENCE_RETENTION_DAYS", 30),
		DataDir:              dataDir,
		LogDir:               logDir,
	}

	cfg.normalize()
	return cfg
}

// normalize clamps values that would break the engine or limiter.
func (c *Config) normalize() {
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		c.LogLevel = "info" // Fall back to info for invalid values
	}
	if c.PollInterval < time.Millisecond {
		c.PollInterval = time.Millisecond
	}
	if c.LookAhead < 0 {
		c.LookAhead = 0
	}
	if c.TimecodeInterval < 0 {
		c.TimecodeInterval = 0
	}
	if c.SketchRateLimitRPS <= 0 {
		c.SketchRateLimitRPS = 2.0
	}
	if c.SketchRateLimitBurst <= 0 {
		c.SketchRateLimitBurst = 1
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:                 "8080",
		LogLevel:             "debug",
		PollInterval:         time.Millisecond,
		LookAhead:            0,
		TimecodeInterval:     0,
		SketchPath:           "",
		WatchSketch:          false,
		SketchRateLimitRPS:   100,
		SketchRateLimitBurst: 100,
		DatabasePath:         "/tmp/cadence-test/cadence.db",
		RetentionDays:        0,
		DataDir:              "/tmp/cadence-test",
		LogDir:               "/tmp/cadence-test/logs",
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "25ms", "1s".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as a bool or the default if not set.
// Accepts "true", "1", "yes" as true values (case-insensitive).
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

// getEnvFloatOrDefault returns the environment variable as a float64 or the default if not set/invalid.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port             *string
	LogLevel         *string
	PollInterval     *time.Duration
	LookAhead        *time.Duration
	TimecodeInterval *time.Duration
	SketchPath       *string
	WatchSketch      *bool
	DatabasePath     *string
	RetentionDays    *int
	DataDir          *string
	LogDir           *string
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
// Only non-nil values with non-default flag values will override.
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.PollInterval != nil && *flags.PollInterval != 0 {
		cfg.PollInterval = *flags.PollInterval
	}
	if flags.LookAhead != nil && *flags.LookAhead != 0 {
		cfg.LookAhead = *flags.LookAhead
	}
	if flags.TimecodeInterval != nil && *flags.TimecodeInterval != 0 {
		cfg.TimecodeInterval = *flags.TimecodeInterval
	}
	if flags.SketchPath != nil && *flags.SketchPath != "" {
		cfg.SketchPath = *flags.SketchPath
	}
	if flags.WatchSketch != nil {
		cfg.WatchSketch = *flags.WatchSketch
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
	}
	if flags.RetentionDays != nil {
		cfg.RetentionDays = *flags.RetentionDays
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.DataDir = *flags.DataDir
	}
	if flags.LogDir != nil && *flags.LogDir != "" {
		cfg.LogDir = *flags.LogDir
	}

	cfg.normalize()
}
