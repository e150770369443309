package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/wtscope/internal/export"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  export.ClickHouseConfig
		want string
	}{
		{
			name: "default database",
			cfg:  export.ClickHouseConfig{Endpoint: "localhost:9000"},
			want: "clickhouse://localhost:9000/default",
		},
		{
			name: "credentials",
			cfg: export.ClickHouseConfig{
				Endpoint: "ch:9000",
				Database: "wt",
				Username: "writer",
				Password: "secret",
			},
			want: "clickhouse://writer:secret@ch:9000/wt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestWithMultiStatement(t *testing.T) {
	assert.Equal(t,
		"clickhouse://h:9000/db?x-multi-statement=true",
		withMultiStatement("clickhouse://h:9000/db"),
	)
	assert.Equal(t,
		"clickhouse://h:9000/db?secure=true&x-multi-statement=true",
		withMultiStatement("clickhouse://h:9000/db?secure=true"),
	)
	assert.Equal(t,
		"clickhouse://h:9000/db?x-multi-statement=false",
		withMultiStatement("clickhouse://h:9000/db?x-multi-statement=false"),
	)
}

func TestVersions(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"001_create_wt_events",
		"002_create_wt_call_latency",
	}, versions)
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)

	for _, v := range versions {
		up, err := migrations.ReadFile("sql/" + v + ".up.sql")
		require.NoError(t, err)
		assert.NotEmpty(t, up)

		down, err := migrations.ReadFile("sql/" + v + ".down.sql")
		require.NoError(t, err, "missing down migration for %s", v)
		assert.NotEmpty(t, down)
	}
}

func TestEventsTableMatchesSinkColumns(t *testing.T) {
	up, err := migrations.ReadFile("sql/001_create_wt_events.up.sql")
	require.NoError(t, err)

	for _, column := range []string{
		"timestamp_ns", "pid", "tid", "comm", "event_type", "call_site",
		"duration_ns", "ret", "args", "stack_id", "stack", "address",
		"size", "seq", "session", "config", "outcome", "age_ns",
		"meta_host_name", "meta_deployment",
	} {
		assert.Contains(t, string(up), "    "+column+" ", column)
	}
}
