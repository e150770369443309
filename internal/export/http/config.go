package http

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ethpandaops/wtscope/internal/version"
)

// Defaults sized for finished WiredTiger events, a few hundred bytes
// of JSON each.
const (
	DefaultBatchSize     = 512
	DefaultBatchTimeout  = 5 * time.Second
	DefaultExportTimeout = 30 * time.Second
	DefaultMaxQueueSize  = 51200
	DefaultWorkers       = 1
)

// Config configures NDJSON export of finished events to a collector
// such as Vector.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // http(s) URL receiving POSTs

	// Extra request headers, e.g. authorization for the collector.
	Headers map[string]string `yaml:"headers"`

	// One of none, gzip (default), zstd, zlib or snappy.
	Compression string `yaml:"compression"`

	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Events beyond the queue are dropped by the batch processor.
	MaxQueueSize int `yaml:"max_queue_size"`
	Workers      int `yaml:"workers"`

	UserAgent string `yaml:"user_agent"`

	// Copied into every exported event.
	MetaHostName   string `yaml:"meta_host_name"`
	MetaDeployment string `yaml:"meta_deployment"`
}

// DefaultConfig returns a disabled Config with every default applied.
func DefaultConfig() Config {
	var cfg Config

	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Compression == "" {
		c.Compression = CompressionGzip
	}

	setDefault(&c.BatchSize, DefaultBatchSize)
	setDefault(&c.MaxQueueSize, DefaultMaxQueueSize)
	setDefault(&c.Workers, DefaultWorkers)
	setDefault(&c.BatchTimeout, DefaultBatchTimeout)
	setDefault(&c.ExportTimeout, DefaultExportTimeout)

	if c.UserAgent == "" {
		c.UserAgent = version.UserAgent()
	}
}

func setDefault[T int | time.Duration](v *T, def T) {
	if *v <= 0 {
		*v = def
	}
}

// Validate checks an enabled config. Disabled configs always pass.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("http address is required when enabled")
	}

	u, err := url.Parse(c.Address)
	if err != nil {
		return fmt.Errorf("invalid http address: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("http address must use http or https, got %q", u.Scheme)
	}

	switch {
	case c.BatchSize <= 0:
		return errors.New("batch_size must be greater than 0")
	case c.MaxQueueSize <= 0:
		return errors.New("max_queue_size must be greater than 0")
	case c.BatchSize > c.MaxQueueSize:
		return errors.New("batch_size cannot be greater than max_queue_size")
	case c.Workers <= 0:
		return errors.New("workers must be greater than 0")
	}

	switch c.Compression {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
	default:
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	return nil
}
