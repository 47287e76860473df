package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces environment overrides, e.g. ATTEND_SYNC_BATCH_SIZE
const envPrefix = "ATTEND"

// Config represents the application configuration
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	Remote   RemoteConfig `yaml:"remote"`
	Sync     SyncConfig   `yaml:"sync"`
	LogLevel string       `yaml:"log_level,omitempty" envconfig:"LOG_LEVEL"` // debug, info, warn, error
}

// DeviceConfig contains device-local configuration
type DeviceConfig struct {
	Name  string      `yaml:"name" envconfig:"DEVICE_NAME"`
	HTTP  HTTPConfig  `yaml:"http"`
	Store StoreConfig `yaml:"store"`
}

// HTTPConfig contains the local HTTP server configuration
type HTTPConfig struct {
	Port int `yaml:"port" envconfig:"HTTP_PORT"`
}

// StoreConfig contains queue store configuration
type StoreConfig struct {
	Path string `yaml:"path" envconfig:"STORE_PATH"`
}

// RemoteConfig describes the remote idempotent bulk endpoint
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"REMOTE_BASE_URL"`
	SubmitPath     string `yaml:"submit_path" envconfig:"REMOTE_SUBMIT_PATH"`
	HealthPath     string `yaml:"health_path" envconfig:"REMOTE_HEALTH_PATH"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"REMOTE_TIMEOUT_SECONDS"`
}

// SubmitURL returns the full bulk submit endpoint URL
func (r RemoteConfig) SubmitURL() string {
	return strings.TrimSuffix(r.BaseURL, "/") + r.SubmitPath
}

// HealthURL returns the full health endpoint URL used for connectivity probing
func (r RemoteConfig) HealthURL() string {
	return strings.TrimSuffix(r.BaseURL, "/") + r.HealthPath
}

// Timeout returns the per-request timeout
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// SyncConfig contains sync coordinator tuning
type SyncConfig struct {
	IntervalSeconds      int `yaml:"interval_seconds" envconfig:"SYNC_INTERVAL_SECONDS"`
	BatchSize            int `yaml:"batch_size" envconfig:"SYNC_BATCH_SIZE"`
	MaxAttempts          int `yaml:"max_attempts" envconfig:"SYNC_MAX_ATTEMPTS"`
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds" envconfig:"SYNC_PROBE_INTERVAL_SECONDS"`
}

// Interval returns the periodic retry interval
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval
func (s SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeIntervalSeconds) * time.Second
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a YAML file, then applies environment
// overrides and defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := envconfig.Process(envPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Device.Name == "" {
		config.Device.Name = "site-device-1"
	}
	if config.Device.HTTP.Port == 0 {
		config.Device.HTTP.Port = 8080
	}
	if config.Device.Store.Path == "" {
		config.Device.Store.Path = "./events.db"
	}
	if config.Remote.SubmitPath == "" {
		config.Remote.SubmitPath = "/api/v1/events/bulk"
	}
	if config.Remote.HealthPath == "" {
		config.Remote.HealthPath = "/api/v1/health"
	}
	if config.Remote.TimeoutSeconds == 0 {
		config.Remote.TimeoutSeconds = 30
	}
	if config.Sync.IntervalSeconds == 0 {
		config.Sync.IntervalSeconds = 300
	}
	if config.Sync.BatchSize == 0 {
		config.Sync.BatchSize = 50
	}
	if config.Sync.MaxAttempts == 0 {
		config.Sync.MaxAttempts = 5
	}
	if config.Sync.ProbeIntervalSeconds == 0 {
		config.Sync.ProbeIntervalSeconds = 15
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}

// ParseLogLevel converts a log level string to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
