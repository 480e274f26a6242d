package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Directory.File = "/etc/botcomet/plugins.yaml"
	return cfg
}

func TestDefaultNeedsDirectory(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.file")

	assert.NoError(t, validConfig().Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
  allowed_origins: ["https://chat.example"]
  metrics_addr: ":9100"
directory:
  file: plugins.yaml
  watch: true
station:
  handshake_timeout: 3s
  lookup_timeout: 1s
  vault_capacity: 1000
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "/", cfg.Server.Path, "unset fields keep their defaults")
	assert.Equal(t, []string{"https://chat.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Directory.Watch)
	assert.Equal(t, 3*time.Second, cfg.Station.HandshakeTimeout)
	assert.Equal(t, time.Second, cfg.Station.LookupTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Station.ContextTimeout)
	assert.Equal(t, 1000, cfg.Station.VaultCapacity)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte("directory:\n  file: x.yaml\n"), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "x.yaml", cfg.Directory.File)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("station:\n  handshake_timeout: soon\n"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }},
		{"metrics on listen addr", func(c *Config) { c.Server.MetricsAddr = c.Server.ListenAddr }},
		{"zero write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }},
		{"zero handshake timeout", func(c *Config) { c.Station.HandshakeTimeout = 0 }},
		{"lookup beyond handshake", func(c *Config) { c.Station.LookupTimeout = time.Minute }},
		{"context timeout without sweep", func(c *Config) { c.Station.SweepInterval = 0 }},
		{"negative vault capacity", func(c *Config) { c.Station.VaultCapacity = -1 }},
		{"rate without burst", func(c *Config) { c.Station.RateBurst = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	path := filepath.Join(t.TempDir(), "station.log")
	closer, err := SetupLogging(LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logrus.WithField("function", "TestSetupLogging").Debug("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written to file"`)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	_, err = SetupLogging(LogConfig{Level: "nope"})
	assert.Error(t, err)
}
