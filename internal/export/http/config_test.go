package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, CompressionGzip, cfg.Compression)
	assert.Equal(t, 512, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 30*time.Second, cfg.ExportTimeout)
	assert.Equal(t, 51200, cfg.MaxQueueSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.False(t, cfg.Enabled)
	assert.Contains(t, cfg.UserAgent, "wtscope/")
}

func TestConfig_ApplyDefaultsKeepsSetFields(t *testing.T) {
	cfg := Config{
		Compression:  CompressionZstd,
		BatchSize:    64,
		BatchTimeout: time.Second,
		Workers:      4,
		UserAgent:    "collector-test",
	}
	cfg.ApplyDefaults()

	assert.Equal(t, CompressionZstd, cfg.Compression)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.BatchTimeout)
	assert.Equal(t, DefaultExportTimeout, cfg.ExportTimeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "collector-test", cfg.UserAgent)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Enabled = true
		cfg.Address = "http://vector:8080/wt"

		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(_ *Config) {}},
		{name: "disabled skips checks", modify: func(c *Config) { c.Enabled = false; c.Address = "" }},
		{name: "missing address", modify: func(c *Config) { c.Address = "" }, wantErr: "address is required"},
		{name: "bad scheme", modify: func(c *Config) { c.Address = "ftp://host" }, wantErr: "http or https"},
		{name: "zero batch", modify: func(c *Config) { c.BatchSize = 0 }, wantErr: "batch_size"},
		{name: "batch over queue", modify: func(c *Config) { c.BatchSize = c.MaxQueueSize + 1 }, wantErr: "cannot be greater"},
		{name: "zero workers", modify: func(c *Config) { c.Workers = 0 }, wantErr: "workers"},
		{name: "bad compression", modify: func(c *Config) { c.Compression = "lz4" }, wantErr: "invalid compression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
