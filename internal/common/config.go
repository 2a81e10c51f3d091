// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 12:05:41 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/imprimo/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Render  RenderConfig  `toml:"render"`
	Worker  WorkerConfig  `toml:"worker"`
	Cleanup CleanupConfig `toml:"cleanup"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// SubmitRatePerSecond throttles POST /v1/pdf-jobs; 0 disables the limiter
	SubmitRatePerSecond float64 `toml:"submit_rate_per_second"`
	SubmitRateBurst     int     `toml:"submit_rate_burst"`
}

type StorageConfig struct {
	// DBPath is the Badger database directory
	DBPath string `toml:"db_path"`
	// PDFPath is the flat directory holding rendered artifacts
	PDFPath string `toml:"pdf_path"`
}

// RenderConfig holds the per-job defaults and clamping bounds of the submit
// schema. Bounds are fixed by the API contract and not configurable.
type RenderConfig struct {
	DefaultMode              string `toml:"default_mode"` // print_to_pdf or screenshot_to_pdf
	NavigationTimeoutSeconds int    `toml:"navigation_timeout_seconds"`
	JobTimeoutSeconds        int    `toml:"job_timeout_seconds"`
	MaxDomainWaitSeconds     int    `toml:"max_domain_wait_seconds"`
	MaxRetries               int    `toml:"max_retries"`
	Headless                 bool   `toml:"headless"`
	NoSandbox                bool   `toml:"no_sandbox"`
	UserAgent                string `toml:"user_agent"`
	SettleMilliseconds       int    `toml:"settle_milliseconds"` // post-navigation settle wait before capture
}

type WorkerConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	WorkerID            string `toml:"worker_id"`
	HeartbeatSeconds    int    `toml:"heartbeat_seconds"`
}

type CleanupConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	FileAgeSeconds  int `toml:"file_age_seconds"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// Clamping bounds for caller-supplied job parameters (submit schema)
const (
	NavigationTimeoutMin = 5
	NavigationTimeoutMax = 300
	JobTimeoutMin        = 10
	JobTimeoutMax        = 600
	MaxDomainWaitMin     = 10
	MaxDomainWaitMax     = 3600
	MaxRetriesMin        = 0
	MaxRetriesMax        = 5
)

// NewDefaultConfig creates a configuration with default values.
// The cleanup file age default of 1020s (17 minutes) matches the original
// deployment profile for ephemeral artifacts.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8000,
			SubmitRatePerSecond: 10,
			SubmitRateBurst:     20,
		},
		Storage: StorageConfig{
			DBPath:  "./data/db",
			PDFPath: "./data/pdfs",
		},
		Render: RenderConfig{
			DefaultMode:              string(models.RenderModePrintToPDF),
			NavigationTimeoutSeconds: 45,
			JobTimeoutSeconds:        120,
			MaxDomainWaitSeconds:     600,
			MaxRetries:               2,
			Headless:                 true,
			NoSandbox:                true,
			UserAgent:                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			SettleMilliseconds:       2000,
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: 2,
			WorkerID:            "worker-1",
			HeartbeatSeconds:    10,
		},
		Cleanup: CleanupConfig{
			IntervalSeconds: 1020,
			FileAgeSeconds:  1020,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2
// -> ... -> environment. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

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

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if !models.RenderMode(c.Render.DefaultMode).Valid() {
		return fmt.Errorf("invalid default render mode: %q", c.Render.DefaultMode)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage db_path must not be empty")
	}
	if c.Storage.PDFPath == "" {
		return fmt.Errorf("storage pdf_path must not be empty")
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return fmt.Errorf("worker poll_interval_seconds must be positive")
	}
	return nil
}

// EnsureDirectories creates the storage directories if missing
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DBPath, 0755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}
	if err := os.MkdirAll(c.Storage.PDFPath, 0755); err != nil {
		return fmt.Errorf("failed to create pdf directory: %w", err)
	}
	return nil
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// Names follow the deployment contract, unprefixed.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("DB_PATH"); v != "" {
		config.Storage.DBPath = v
	}
	if v := os.Getenv("PDF_STORAGE_PATH"); v != "" {
		config.Storage.PDFPath = v
	}
	if v := os.Getenv("DEFAULT_RENDER_MODE"); v != "" {
		config.Render.DefaultMode = v
	}
	if v := envInt("NAVIGATION_TIMEOUT_SECONDS"); v > 0 {
		config.Render.NavigationTimeoutSeconds = v
	}
	if v := envInt("JOB_TIMEOUT_SECONDS"); v > 0 {
		config.Render.JobTimeoutSeconds = v
	}
	if v := envInt("MAX_DOMAIN_WAIT_SECONDS"); v > 0 {
		config.Render.MaxDomainWaitSeconds = v
	}
	if v, ok := envIntOK("MAX_RETRIES"); ok && v >= 0 {
		config.Render.MaxRetries = v
	}
	if v := envInt("CLEANUP_INTERVAL_SECONDS"); v > 0 {
		config.Cleanup.IntervalSeconds = v
	}
	if v := envInt("CLEANUP_FILE_AGE_SECONDS"); v > 0 {
		config.Cleanup.FileAgeSeconds = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := envInt("API_PORT"); v > 0 {
		config.Server.Port = v
	}
	if v := envInt("WORKER_POLL_INTERVAL_SECONDS"); v > 0 {
		config.Worker.PollIntervalSeconds = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

func envInt(name string) int {
	v, _ := envIntOK(name)
	return v
}

func envIntOK(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
