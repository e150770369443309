package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// Defaults applied by NewClickHouseWriter.
const (
	DefaultClickHouseDatabase = "default"
	DefaultClickHouseTable    = "wt_events"
)

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	// Defaults to "default".
	Database string `yaml:"database"`

	// Table is the target table name.
	// Defaults to "wt_events".
	Table string `yaml:"table"`

	// BatchSize is the number of events per batch insert.
	// Defaults to 10000.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time between flushes.
	// Defaults to 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// MetaHostName identifies the traced host in every row.
	MetaHostName string `yaml:"meta_host_name"`

	// MetaDeployment groups hosts, e.g. a replica set or cluster name.
	MetaDeployment string `yaml:"meta_deployment"`
}

// Validate checks that the writer can be started.
func (c *ClickHouseConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("clickhouse endpoint is required")
	}

	if c.BatchSize < 0 {
		return errors.New("clickhouse batch_size must not be negative")
	}

	return nil
}

// QualifiedTable returns the database-qualified table name.
func (c *ClickHouseConfig) QualifiedTable() string {
	return fmt.Sprintf("%s.%s", c.Database, c.Table)
}

// ClickHouseWriter manages writes to ClickHouse.
type ClickHouseWriter struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
) *ClickHouseWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	if cfg.Database == "" {
		cfg.Database = DefaultClickHouseDatabase
	}

	if cfg.Table == "" {
		cfg.Table = DefaultClickHouseTable
	}

	return &ClickHouseWriter{
		log: log.WithField("component", "clickhouse"),
		cfg: cfg,
	}
}

// Start opens the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	w.log.WithFields(logrus.Fields{
		"endpoint": w.cfg.Endpoint,
		"table":    w.cfg.QualifiedTable(),
	}).Info("ClickHouse writer connected")

	return nil
}

// Conn returns the underlying ClickHouse connection.
func (w *ClickHouseWriter) Conn() clickhouse.Conn {
	return w.conn
}

// Config returns the writer configuration.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn != nil {
		return w.conn.Close()
	}

	return nil
}
