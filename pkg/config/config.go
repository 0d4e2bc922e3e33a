// Package config loads the rwatch YAML configuration: global options plus
// the initial router target list.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/rwatch/internal/router"
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultPollInterval    = 10 * time.Second
)

// Duration accepts "30s" style values in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds application configuration.
type Config struct {
	LogLevel        string         `yaml:"log_level" default:"info"`
	RefreshInterval Duration       `yaml:"refresh_interval"`
	Targets         []TargetConfig `yaml:"targets"`
}

// TargetConfig is one router entry in the config file.
type TargetConfig struct {
	Name     string     `yaml:"name"`
	Address  string     `yaml:"address" default:"192.168.88.1"`
	Port     uint16     `yaml:"port" default:"443"`
	Username string     `yaml:"username" default:"admin"`
	Password string     `yaml:"password"`
	TLS      bool       `yaml:"tls"`
	SNMP     SNMPConfig `yaml:"snmp"`
}

// SNMPConfig is the per-target polling configuration.
type SNMPConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Community string   `yaml:"community" default:"public"`
	Port      uint16   `yaml:"port" default:"161"`
	Interval  Duration `yaml:"interval"`
}

// DefaultConfig returns configuration with all defaults applied and no
// targets.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults.SetDefaults(cfg)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = Duration(defaultRefreshInterval)
	}
	for i := range cfg.Targets {
		defaults.SetDefaults(&cfg.Targets[i])
		if cfg.Targets[i].SNMP.Interval <= 0 {
			cfg.Targets[i].SNMP.Interval = Duration(defaultPollInterval)
		}
	}
}

// Load reads and validates a YAML config file. Unset fields get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)

	for i, tc := range cfg.Targets {
		if tc.Name == "" {
			return nil, fmt.Errorf("target %d: name is required", i)
		}
	}
	return cfg, nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

// BuildTargets converts the configured entries into router targets, each
// with a fresh identity.
func (c *Config) BuildTargets() []*router.Target {
	targets := make([]*router.Target, 0, len(c.Targets))
	for _, tc := range c.Targets {
		targets = append(targets, &router.Target{
			ID:       uuid.NewString(),
			Name:     tc.Name,
			Address:  tc.Address,
			Port:     tc.Port,
			Username: tc.Username,
			Password: tc.Password,
			UseTLS:   tc.TLS,
			SNMP: router.SNMPConfig{
				Enabled:   tc.SNMP.Enabled,
				Community: tc.SNMP.Community,
				Port:      tc.SNMP.Port,
				Interval:  time.Duration(tc.SNMP.Interval),
			},
		})
	}
	return targets
}
