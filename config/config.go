// Package config loads the station configuration.
//
// Configuration is read from a single YAML file named by the --config flag
// or the BOTCOMET_STATION_CONFIG environment variable. Without either the
// defaults are used. Command-line flags override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "BOTCOMET_STATION_CONFIG"

// Config is the station configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Directory DirectoryConfig `yaml:"directory"`
	Station   StationConfig   `yaml:"station"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the network endpoints.
type ServerConfig struct {
	// ListenAddr is the address of the WebSocket endpoint.
	// Default: :8080
	ListenAddr string `yaml:"listen_addr"`

	// Path is the HTTP path upgraded to WebSocket.
	// Default: /
	Path string `yaml:"path"`

	// AllowedOrigins lists accepted browser origins; "*" accepts any.
	// Non-browser clients send no Origin and are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	// WriteTimeout bounds each write to a peer.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PingInterval is the keepalive period.
	// Default: 30s
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DirectoryConfig configures the plugin directory.
type DirectoryConfig struct {
	// File is the YAML document listing registered plugin keys.
	File string `yaml:"file"`

	// Watch reloads File when it changes.
	Watch bool `yaml:"watch"`
}

// StationConfig configures routing and handshakes.
type StationConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	LookupTimeout    time.Duration `yaml:"lookup_timeout"`
	ContextTimeout   time.Duration `yaml:"context_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`

	// VaultCapacity bounds identifier pairs per domain. Zero is unbounded.
	VaultCapacity int `yaml:"vault_capacity"`

	// RateLimit is the sustained messages per second accepted from one
	// connection. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a logrus level name.
	// Default: info
	Level string `yaml:"level"`

	// Format is "text" or "json".
	// Default: text
	Format string `yaml:"format"`

	// File enables rotated file output instead of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			Path:         "/",
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Station: StationConfig{
			HandshakeTimeout: 10 * time.Second,
			LookupTimeout:    5 * time.Second,
			ContextTimeout:   2 * time.Minute,
			SweepInterval:    30 * time.Second,
			RateLimit:        50,
			RateBurst:        100,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the file named by BOTCOMET_STATION_CONFIG, or returns the
// defaults when it is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("server.path must start with '/', got %q", c.Server.Path))
	}
	if c.Server.MetricsAddr != "" && c.Server.MetricsAddr == c.Server.ListenAddr {
		errs = append(errs, errors.New("server.metrics_addr must differ from server.listen_addr"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	if c.Server.PingInterval < 0 {
		errs = append(errs, errors.New("server.ping_interval must not be negative"))
	}

	if c.Directory.File == "" {
		errs = append(errs, errors.New("directory.file is required"))
	}

	st := c.Station
	if st.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("station.handshake_timeout must be positive"))
	}
	if st.LookupTimeout <= 0 || st.LookupTimeout > st.HandshakeTimeout {
		errs = append(errs, errors.New("station.lookup_timeout must be positive and within handshake_timeout"))
	}
	if st.ContextTimeout < 0 || st.SweepInterval < 0 {
		errs = append(errs, errors.New("station.context_timeout and station.sweep_interval must not be negative"))
	}
	if st.ContextTimeout > 0 && st.SweepInterval == 0 {
		errs = append(errs, errors.New("station.sweep_interval is required when context_timeout is set"))
	}
	if st.VaultCapacity < 0 {
		errs = append(errs, errors.New("station.vault_capacity must not be negative"))
	}
	if st.RateLimit < 0 || (st.RateLimit > 0 && st.RateBurst <= 0) {
		errs = append(errs, errors.New("station.rate_limit needs a positive rate_burst"))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
