// Package config provides configuration management for the Pickabook agent.
// Configuration is read from PICKABOOK_* environment variables (optionally
// seeded from a .env file) and an optional config file, with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultPort           = 8790
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".pickabook"
	DefaultServiceURL     = "http://localhost:8000"
	DefaultStageDelay     = 1500 * time.Millisecond
	DefaultPollInterval   = 1000 * time.Millisecond
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxUploadBytes = 5 * 1024 * 1024
	DefaultUploadRate     = 1.0
	DefaultUploadBurst    = 3

	// EnvPrefix is prepended to every key below to form the environment
	// variable name, e.g. PICKABOOK_PORT.
	EnvPrefix = "PICKABOOK"

	// Environment variable names
	EnvPort           = "PICKABOOK_PORT"
	EnvLogLevel       = "PICKABOOK_LOG_LEVEL"
	EnvDataDir        = "PICKABOOK_DATA_DIR"
	EnvServiceURL     = "PICKABOOK_SERVICE_URL"
	EnvStageDelay     = "PICKABOOK_STAGE_DELAY"
	EnvPollInterval   = "PICKABOOK_POLL_INTERVAL"
	EnvRequestTimeout = "PICKABOOK_REQUEST_TIMEOUT"
	EnvMaxUploadBytes = "PICKABOOK_MAX_UPLOAD_BYTES"
	EnvUploadRate     = "PICKABOOK_UPLOAD_RATE"
	EnvUploadBurst    = "PICKABOOK_UPLOAD_BURST"
	EnvHeadless       = "PICKABOOK_HEADLESS"
	EnvStubService    = "PICKABOOK_STUB_SERVICE"
	EnvConfigFile     = "PICKABOOK_CONFIG"

	// Database filename
	DBFilename = "pickabook.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ServiceURL() string
	StageDelay() time.Duration
	PollInterval() time.Duration
	RequestTimeout() time.Duration
	MaxUploadBytes() int64
	UploadRate() float64
	UploadBurst() int
	Headless() bool
	StubService() bool
}

type settings struct {
	Port           int           `validate:"min=1,max=65535"`
	LogLevel       string        `validate:"oneof=debug info warn warning error"`
	DataDir        string        `validate:"required"`
	ServiceURL     string        `validate:"required,url"`
	StageDelay     time.Duration `validate:"gte=0"`
	PollInterval   time.Duration `validate:"gt=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	MaxUploadBytes int64         `validate:"gt=0"`
	UploadRate     float64       `validate:"gt=0"`
	UploadBurst    int           `validate:"min=1"`
	Headless       bool
	StubService    bool
}

// EnvConfig is the loaded, validated configuration.
type EnvConfig struct {
	s settings
}

var validate = validator.New()

// New loads .env (if present), then environment variables and the optional
// file named by PICKABOOK_CONFIG.
func New() (*EnvConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("service_url", DefaultServiceURL)
	v.SetDefault("stage_delay", DefaultStageDelay)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("upload_rate", DefaultUploadRate)
	v.SetDefault("upload_burst", DefaultUploadBurst)
	v.SetDefault("headless", false)
	v.SetDefault("stub_service", false)

	if file := os.Getenv(EnvConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	// viper maps unparsable ints to 0
	port, err := strconv.Atoi(v.GetString("port"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}

	s := settings{
		Port:           port,
		LogLevel:       v.GetString("log_level"),
		DataDir:        v.GetString("data_dir"),
		ServiceURL:     v.GetString("service_url"),
		StageDelay:     v.GetDuration("stage_delay"),
		PollInterval:   v.GetDuration("poll_interval"),
		RequestTimeout: v.GetDuration("request_timeout"),
		MaxUploadBytes: v.GetInt64("max_upload_bytes"),
		UploadRate:     v.GetFloat64("upload_rate"),
		UploadBurst:    v.GetInt("upload_burst"),
		Headless:       v.GetBool("headless"),
		StubService:    v.GetBool("stub_service"),
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &EnvConfig{s: s}, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.s.Port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.s.LogLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.s.DataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.s.DataDir, DBFilename)
}

// ServiceURL returns the processing service origin.
func (c *EnvConfig) ServiceURL() string {
	return c.s.ServiceURL
}

func (c *EnvConfig) StageDelay() time.Duration {
	return c.s.StageDelay
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.s.PollInterval
}

func (c *EnvConfig) RequestTimeout() time.Duration {
	return c.s.RequestTimeout
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.s.MaxUploadBytes
}

func (c *EnvConfig) UploadRate() float64 {
	return c.s.UploadRate
}

func (c *EnvConfig) UploadBurst() int {
	return c.s.UploadBurst
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.s.Headless
}

// StubService swaps the processing service for an in-process fake.
func (c *EnvConfig) StubService() bool {
	return c.s.StubService
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
