package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/wtscope/internal/export"
	"github.com/ethpandaops/wtscope/internal/pid"
	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/sink"
	"github.com/ethpandaops/wtscope/internal/tracer"
)

// Config is the top-level configuration for the wtscope agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Source selects where probe firings are read from.
	Source probe.SourceConfig `yaml:"source"`

	// Target configures discovery of the traced processes.
	Target pid.Config `yaml:"target"`

	// FilterPIDs ignores firings from processes not found by target
	// discovery. Defaults to true.
	FilterPIDs bool `yaml:"filter_pids"`

	// Engine configures the correlation engine.
	Engine tracer.Config `yaml:"engine"`

	// Sinks configures finished event consumers.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// ReportInterval is how often engine state is published as metrics.
	// Defaults to 1s.
	ReportInterval time.Duration `yaml:"report_interval"`

	// PIDRefreshInterval is how often target processes are rediscovered.
	// Defaults to 30s.
	PIDRefreshInterval time.Duration `yaml:"pid_refresh_interval"`

	// OutstandingMinAge is the minimum age of a live allocation to be
	// reported as outstanding. Defaults to 10s.
	OutstandingMinAge time.Duration `yaml:"outstanding_min_age"`

	// OutstandingTopN bounds the allocation stacks logged per report.
	// Defaults to 10.
	OutstandingTopN int `yaml:"outstanding_top_n"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:           "info",
		Source:             probe.SourceConfig{Type: probe.SourceRingbuf},
		FilterPIDs:         true,
		Engine:             tracer.DefaultConfig(),
		ReportInterval:     time.Second,
		PIDRefreshInterval: 30 * time.Second,
		OutstandingMinAge:  10 * time.Second,
		OutstandingTopN:    10,
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
// Unset sub-configuration defaults are applied.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return err
	}

	c.Target.ApplyDefaults()

	if err := c.Target.Validate(); err != nil {
		return err
	}

	c.Engine.ApplyDefaults()

	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if err := c.Sinks.Events.Validate(); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}

	if c.ReportInterval <= 0 {
		return errors.New("report_interval must be positive")
	}

	if c.FilterPIDs && c.PIDRefreshInterval <= 0 {
		return errors.New("pid_refresh_interval must be positive")
	}

	if c.OutstandingMinAge < 0 {
		return errors.New("outstanding_min_age must not be negative")
	}

	if c.OutstandingTopN < 0 {
		return errors.New("outstanding_top_n must not be negative")
	}

	return nil
}
