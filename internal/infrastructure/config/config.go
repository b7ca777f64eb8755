package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// ErrUnsupportedFormat is returned by LoadFile for unknown extensions.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Capture   CaptureConfig   `yaml:"capture" toml:"capture"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rateLimit" toml:"rateLimit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host            string   `envconfig:"HOST" default:"127.0.0.1" yaml:"host" toml:"host"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	Gzip            bool     `envconfig:"GZIP_ENABLED" default:"true" yaml:"gzip" toml:"gzip"`
}

// StoreConfig bounds the trace store.
type StoreConfig struct {
	Capacity     int `envconfig:"TRACE_CAPACITY" default:"500" yaml:"capacity" toml:"capacity"`
	MaxBodyBytes int `envconfig:"TRACE_MAX_BODY_BYTES" default:"65536" yaml:"maxBodyBytes" toml:"maxBodyBytes"`
}

// HubConfig holds per-channel WebSocket settings.
type HubConfig struct {
	SendQueueSize   int      `envconfig:"WS_SEND_QUEUE" default:"256" yaml:"sendQueueSize" toml:"sendQueueSize"`
	WriteTimeout    Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s" yaml:"writeTimeout" toml:"writeTimeout"`
	PingInterval    Duration `envconfig:"WS_PING_INTERVAL" default:"54s" yaml:"pingInterval" toml:"pingInterval"`
	PongTimeout     Duration `envconfig:"WS_PONG_TIMEOUT" default:"60s" yaml:"pongTimeout" toml:"pongTimeout"`
	MaxMessageBytes int64    `envconfig:"WS_MAX_MESSAGE_BYTES" default:"65536" yaml:"maxMessageBytes" toml:"maxMessageBytes"`
	StatsInterval   Duration `envconfig:"STATS_INTERVAL" default:"5s" yaml:"statsInterval" toml:"statsInterval"`
}

// CaptureConfig configures the optional recording reverse proxy.
type CaptureConfig struct {
	Upstream    string   `envconfig:"PROXY_UPSTREAM" default:"" yaml:"upstream" toml:"upstream"`
	Port        string   `envconfig:"PROXY_PORT" default:"8080" yaml:"port" toml:"port"`
	IgnorePaths []string `envconfig:"PROXY_IGNORE" default:"/favicon.ico" yaml:"ignorePaths" toml:"ignorePaths"`
}

// Enabled reports whether an upstream was configured.
func (c CaptureConfig) Enabled() bool {
	return c.Upstream != ""
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requestsPerSecond" toml:"requestsPerSecond"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// Duration is a time.Duration read from text such as "5s" in environment
// variables and config files.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML or TOML file over the defaults. Keys missing from
// the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "127.0.0.1",
			ShutdownTimeout: Duration(10 * time.Second),
			Gzip:            true,
		},
		Store: StoreConfig{
			Capacity:     500,
			MaxBodyBytes: 64 << 10,
		},
		Hub: HubConfig{
			SendQueueSize:   256,
			WriteTimeout:    Duration(10 * time.Second),
			PingInterval:    Duration(54 * time.Second),
			PongTimeout:     Duration(60 * time.Second),
			MaxMessageBytes: 64 << 10,
			StatsInterval:   Duration(5 * time.Second),
		},
		Capture: CaptureConfig{
			Port:        "8080",
			IgnorePaths: []string{"/favicon.ico"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
