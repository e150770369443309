package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1_000_000, cfg.InFlightCapacity)
	assert.Equal(t, 1_000_000, cfg.ResourceCapacity)
	assert.Equal(t, 10240, cfg.StackCapacity)
	assert.Equal(t, 64, cfg.Shards)
	assert.Equal(t, 65536, cfg.ExportQueueSize)
	assert.Zero(t, cfg.CallMinDuration)
	assert.False(t, cfg.EmitLifecycle)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ApplyDefaultsKeepsSetValues(t *testing.T) {
	cfg := Config{InFlightCapacity: 10, Shards: 2}
	cfg.ApplyDefaults()

	assert.Equal(t, 10, cfg.InFlightCapacity)
	assert.Equal(t, 2, cfg.Shards)
	assert.Equal(t, 1_000_000, cfg.ResourceCapacity)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(_ *Config) {},
		},
		{
			name:    "negative inflight capacity",
			modify:  func(c *Config) { c.InFlightCapacity = -1 },
			wantErr: "inflight_capacity",
		},
		{
			name:    "negative resource capacity",
			modify:  func(c *Config) { c.ResourceCapacity = -1 },
			wantErr: "resource_capacity",
		},
		{
			name:    "negative stack capacity",
			modify:  func(c *Config) { c.StackCapacity = -1 },
			wantErr: "stack_capacity",
		},
		{
			name:    "negative shards",
			modify:  func(c *Config) { c.Shards = -1 },
			wantErr: "shards",
		},
		{
			name:    "negative duration",
			modify:  func(c *Config) { c.CallMinDuration = -time.Second },
			wantErr: "call_min_duration",
		},
		{
			name:    "negative queue size",
			modify:  func(c *Config) { c.ExportQueueSize = -1 },
			wantErr: "export_queue_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
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
