package spy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/poolspy/internal/codec"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://api2.nicehash.com", cfg.NiceHash.Endpoint)
	assert.Equal(t, 7, cfg.Window.Days)
	assert.False(t, cfg.Window.Monthly)
	assert.Equal(t, 5*time.Minute, cfg.StalenessThreshold)
	assert.Equal(t, "MH/s", cfg.Units.RateLabel)
	assert.Equal(t, 1.0, cfg.Units.EarningsScale)
	assert.True(t, cfg.Snapshots.Enabled)
	assert.Equal(t, codec.Gzip, cfg.Exports.HTTP.Compression)

	// Credentials have no defaults.
	require.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
nicehash:
  organization_id: "org-1"
  api_key: "key"
  api_secret: "secret"
  timeout: 10s
rigs:
  - 0-abc
  - 0-def
directory_path: /var/lib/poolspy/rigs.json
pool:
  enabled: true
  algorithms: [KAWPOW, ETCHASH]
window:
  monthly: true
staleness_threshold: 10m
concurrency: 8
units:
  rate_label: GH/s
  earnings_label: uBTC/day
  earnings_scale: 1000000
snapshots:
  dir: /var/lib/poolspy/snapshots
  compression: zstd
output:
  dir: /var/lib/poolspy/reports
pricing:
  enabled: true
  fiat: eur
notify:
  enabled: true
  webhook_url: "https://discord.com/api/webhooks/123/abc"
metrics:
  pushgateway: "http://pushgateway:9091"
exports:
  clickhouse:
    enabled: true
    endpoint: "clickhouse:9000"
    database: mining
  http:
    enabled: true
    address: "http://collector:8080/ingest"
    compression: snappy
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "org-1", cfg.NiceHash.OrganizationID)
	assert.Equal(t, "https://api2.nicehash.com", cfg.NiceHash.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.NiceHash.Timeout)
	assert.Equal(t, []string{"0-abc", "0-def"}, cfg.Rigs)
	assert.True(t, cfg.Pool.Enabled)
	assert.Equal(t, "pool", cfg.Pool.Label)
	assert.Equal(t, []string{"KAWPOW", "ETCHASH"}, cfg.Pool.Algorithms)
	assert.True(t, cfg.Window.Monthly)
	assert.Equal(t, 7, cfg.Window.Days)
	assert.Equal(t, 10*time.Minute, cfg.StalenessThreshold)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "GH/s", cfg.Units.RateLabel)
	assert.Equal(t, 1e6, cfg.Units.EarningsScale)
	assert.True(t, cfg.Snapshots.Enabled)
	assert.Equal(t, codec.Zstd, cfg.Snapshots.Compression)
	assert.Equal(t, "/var/lib/poolspy/reports", cfg.Output.Dir)
	assert.Equal(t, "eur", cfg.Pricing.Fiat)
	assert.True(t, cfg.Notify.Attachments)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.Pushgateway)
	assert.Equal(t, "mining", cfg.Exports.ClickHouse.Database)
	assert.Equal(t, codec.Snappy, cfg.Exports.HTTP.Compression)
	assert.Equal(t, 512, cfg.Exports.HTTP.BatchSize)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.NiceHash.OrganizationID = "org"
		cfg.NiceHash.APIKey = "key"
		cfg.NiceHash.APISecret = "secret"

		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing organization",
			mutate:  func(c *Config) { c.NiceHash.OrganizationID = "" },
			wantErr: "organization_id",
		},
		{
			name:    "zero lookback",
			mutate:  func(c *Config) { c.Window.Days = 0 },
			wantErr: "window.days",
		},
		{
			name:    "non-positive threshold",
			mutate:  func(c *Config) { c.StalenessThreshold = 0 },
			wantErr: "staleness_threshold",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Concurrency = 0 },
			wantErr: "concurrency",
		},
		{
			name:    "pool without algorithms",
			mutate:  func(c *Config) { c.Pool.Enabled = true },
			wantErr: "pool.algorithms",
		},
		{
			name:    "unknown snapshot compression",
			mutate:  func(c *Config) { c.Snapshots.Compression = "lz4" },
			wantErr: "snapshots",
		},
		{
			name: "notify without webhook",
			mutate: func(c *Config) {
				c.Notify.Enabled = true
			},
			wantErr: "notify",
		},
		{
			name: "clickhouse without database",
			mutate: func(c *Config) {
				c.Exports.ClickHouse.Enabled = true
				c.Exports.ClickHouse.Endpoint = "localhost:9000"
			},
			wantErr: "exports.clickhouse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	monthly := valid()
	monthly.Window.Days = 0
	monthly.Window.Monthly = true
	require.NoError(t, monthly.Validate())
}
