package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 0, cfg.HCIDevice)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 20*time.Second, cfg.DiscoverTimeout)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 0, cfg.MTU)
	assert.Equal(t, uint32(256), cfg.EventBuffer)
	assert.True(t, cfg.Location.Enabled)
	assert.Equal(t, "granted", cfg.Location.Permission)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
backend: tinygo
connect_timeout: 5s
mtu: 247
location:
  permission: prompt
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendTinyGo, cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 247, cfg.MTU)
	assert.True(t, cfg.PromptForPermission())

	// untouched fields keep their defaults
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.True(t, cfg.Location.Enabled)
}

func TestExampleConfigLoads(t *testing.T) {
	root, err := testutils.ProjectRoot()
	require.NoError(t, err)

	cfg, err := Load(filepath.Join(root, "configs", "blehelper.example.yaml"))
	require.NoError(t, err)

	expected := DefaultConfig()
	expected.LogLevel = "info"
	assert.Equal(t, expected, cfg)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadDefaultPathMissingIsNotAnError(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "log_level: [unclosed"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "bluez" }, wantErr: "backend"},
		{name: "negative hci device", mutate: func(c *Config) { c.HCIDevice = -1 }, wantErr: "hci_device"},
		{name: "zero connect timeout", mutate: func(c *Config) { c.ConnectTimeout = 0 }, wantErr: "connect_timeout"},
		{name: "negative scan timeout", mutate: func(c *Config) { c.ScanTimeout = -time.Second }, wantErr: "scan_timeout"},
		{name: "negative mtu", mutate: func(c *Config) { c.MTU = -5 }, wantErr: "mtu"},
		{name: "zero event buffer", mutate: func(c *Config) { c.EventBuffer = 0 }, wantErr: "event_buffer"},
		{name: "bad permission", mutate: func(c *Config) { c.Location.Permission = "maybe" }, wantErr: "location.permission"},
		{name: "prompt permission", mutate: func(c *Config) { c.Location.Permission = "PROMPT" }},
		{name: "backend case insensitive", mutate: func(c *Config) { c.Backend = "TinyGo" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on an invalid level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
