package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel    string        `yaml:"log_level" default:"info"`
	Bus         string        `yaml:"bus" default:"system"` // system or session
	BusName     string        `yaml:"bus_name" default:"dbus_gatt.example"`
	Root        string        `yaml:"root" default:"/dbus_gatt/example"`
	Adapter     string        `yaml:"adapter" default:"hci0"`
	CallTimeout time.Duration `yaml:"call_timeout" default:"10s"`

	Advertisement Advertisement `yaml:"advertisement"`

	// Services describes the attribute tree served by "gattd serve".
	Services []ServiceDescription `yaml:"services"`
}

// Advertisement configures the LE advertisement registered after the application.
type Advertisement struct {
	Enabled          bool     `yaml:"enabled" default:"true"`
	Path             string   `yaml:"path"` // defaults to <root>/advertisement0
	Type             string   `yaml:"type" default:"peripheral"`
	LocalName        string   `yaml:"local_name"`
	ServiceUUIDs     []string `yaml:"service_uuids"`
	Appearance       uint16   `yaml:"appearance"`
	ManufacturerID   uint16   `yaml:"manufacturer_id"`
	ManufacturerData string   `yaml:"manufacturer_data"` // hex
	IncludeTxPower   bool     `yaml:"include_tx_power"`
	Discoverable     bool     `yaml:"discoverable" default:"true"`
	Timeout          uint16   `yaml:"timeout"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the attribute tree.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Bus {
	case "system", "session":
	default:
		errs = append(errs, fmt.Errorf("bus: want system or session, got %q", c.Bus))
	}
	if !strings.HasPrefix(c.Root, "/") {
		errs = append(errs, fmt.Errorf("root: %q is not an object path", c.Root))
	}
	if c.Adapter == "" {
		errs = append(errs, errors.New("adapter: must not be empty"))
	}
	if c.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("call_timeout: must not be negative, got %s", c.CallTimeout))
	}
	if p := c.Advertisement.Path; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("advertisement.path: %q is not an object path", p))
	}
	if _, err := c.Advertisement.ManufacturerBytes(); err != nil {
		errs = append(errs, fmt.Errorf("advertisement.manufacturer_data: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// AdvertisementPath returns the configured advertisement path or its default.
func (c *Config) AdvertisementPath() string {
	if c.Advertisement.Path != "" {
		return c.Advertisement.Path
	}
	return strings.TrimSuffix(c.Root, "/") + "/advertisement0"
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
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
