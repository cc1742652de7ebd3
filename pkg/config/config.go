package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/permission"
	"gopkg.in/yaml.v3"
)

// Supported backends.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel        string         `yaml:"log_level" default:"warn"`
	Backend         string         `yaml:"backend" default:"goble"`
	HCIDevice       int            `yaml:"hci_device" default:"0"`
	ConnectTimeout  time.Duration  `yaml:"connect_timeout" default:"30s"`
	DiscoverTimeout time.Duration  `yaml:"discover_timeout" default:"20s"`
	ScanTimeout     time.Duration  `yaml:"scan_timeout" default:"10s"`
	MTU             int            `yaml:"mtu" default:"0"`
	EventBuffer     uint32         `yaml:"event_buffer" default:"256"`
	Location        LocationConfig `yaml:"location"`
}

// LocationConfig describes the platform location/permission answers used when scanning.
type LocationConfig struct {
	Enabled    bool   `yaml:"enabled" default:"true"`
	Permission string `yaml:"permission" default:"granted"` // granted, denied, prompt
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "blehelper", "config.yaml")
}

// Load reads a YAML file over the defaults. When the file is the default path and does not
// exist, the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch strings.ToLower(c.Backend) {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend: unsupported value %q (expected %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo)
	}
	if c.HCIDevice < 0 {
		return fmt.Errorf("hci_device: must not be negative, got %d", c.HCIDevice)
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":  c.ConnectTimeout,
		"discover_timeout": c.DiscoverTimeout,
		"scan_timeout":     c.ScanTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
	}
	if c.MTU < 0 {
		return fmt.Errorf("mtu: must not be negative, got %d", c.MTU)
	}
	if c.EventBuffer == 0 {
		return errors.New("event_buffer: must be positive")
	}
	if !c.PromptForPermission() {
		if _, err := permission.ParseStatus(c.Location.Permission); err != nil {
			return fmt.Errorf("location.permission: %w", err)
		}
	}
	return nil
}

// PromptForPermission reports whether the scan permission is asked on the terminal.
func (c *Config) PromptForPermission() bool {
	return strings.EqualFold(c.Location.Permission, "prompt")
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
