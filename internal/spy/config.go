package spy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/poolspy/internal/export"
	exporthttp "github.com/ethpandaops/poolspy/internal/export/http"
	"github.com/ethpandaops/poolspy/internal/interval"
	"github.com/ethpandaops/poolspy/internal/nicehash"
	"github.com/ethpandaops/poolspy/internal/notify"
	"github.com/ethpandaops/poolspy/internal/pricing"
	"github.com/ethpandaops/poolspy/internal/report"
	"github.com/ethpandaops/poolspy/internal/snapshot"
)

// Config is the top-level configuration for a report run.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// NiceHash configures the pool API connection.
	NiceHash nicehash.Config `yaml:"nicehash"`

	// Rigs lists rig ids to report in addition to the rigs the API
	// returns. Unknown ids are labelled by their id.
	Rigs []string `yaml:"rigs"`

	// DirectoryPath is the JSON file caching rig id to label mappings.
	DirectoryPath string `yaml:"directory_path"`

	// Pool configures the pool-level view across algorithms.
	Pool PoolConfig `yaml:"pool"`

	// Window selects the reporting period.
	Window WindowConfig `yaml:"window"`

	// StalenessThreshold is the longest gap between two samples that still
	// counts as continuous activity. Defaults to 5m.
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	// Concurrency bounds the number of entities fetched at once.
	// Defaults to 4.
	Concurrency int `yaml:"concurrency"`

	Units     report.Units    `yaml:"units"`
	Snapshots snapshot.Config `yaml:"snapshots"`
	Output    OutputConfig    `yaml:"output"`
	Pricing   pricing.Config  `yaml:"pricing"`
	Notify    notify.Config   `yaml:"notify"`

	// Metrics configures the run metrics and their Pushgateway.
	Metrics export.MetricsConfig `yaml:"metrics"`

	// Exports configures the warehouse and HTTP report sinks.
	Exports ExportsConfig `yaml:"exports"`
}

// PoolConfig configures the pool-level entity.
type PoolConfig struct {
	Enabled bool `yaml:"enabled"`
	// Label names the pool row. Defaults to "pool".
	Label string `yaml:"label"`
	// Algorithms lists the mining algorithms summed into the pool view.
	Algorithms []string `yaml:"algorithms"`
}

// WindowConfig selects between a lookback window and month to date.
type WindowConfig struct {
	// Days is the lookback length. Defaults to 7.
	Days int `yaml:"days"`
	// Monthly reports the current UTC month to date instead and keeps
	// incremental snapshots.
	Monthly bool `yaml:"monthly"`
}

// OutputConfig configures the report files.
type OutputConfig struct {
	// Dir receives the text, CSV and daily report files.
	Dir string `yaml:"dir"`
}

// ExportsConfig groups the optional report sinks.
type ExportsConfig struct {
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
	HTTP       exporthttp.Config       `yaml:"http"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		NiceHash: nicehash.Config{
			Endpoint: nicehash.DefaultEndpoint,
			Timeout:  30 * time.Second,
		},
		DirectoryPath: "rigs.json",
		Pool: PoolConfig{
			Label: "pool",
		},
		Window: WindowConfig{
			Days: 7,
		},
		StalenessThreshold: interval.DefaultStalenessThreshold,
		Concurrency:        4,
		Units:              report.DefaultUnits(),
		Snapshots:          snapshot.DefaultConfig(),
		Output: OutputConfig{
			Dir: "reports",
		},
		Pricing: pricing.Config{
			Fiat: "usd",
		},
		Notify: notify.Config{
			Attachments: true,
		},
		Exports: ExportsConfig{
			HTTP: exporthttp.DefaultConfig(),
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
func (c *Config) Validate() error {
	if err := c.NiceHash.Validate(); err != nil {
		return fmt.Errorf("nicehash: %w", err)
	}

	if c.Window.Days <= 0 && !c.Window.Monthly {
		return fmt.Errorf("window.days must be positive")
	}

	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("staleness_threshold must be positive")
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if c.Units.EarningsScale < 0 {
		return fmt.Errorf("units.earnings_scale must not be negative")
	}

	if c.Pool.Enabled {
		if len(c.Pool.Algorithms) == 0 {
			return fmt.Errorf("pool.algorithms is required when pool is enabled")
		}

		if c.Pool.Label == "" {
			return fmt.Errorf("pool.label is required when pool is enabled")
		}
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}

	if err := c.Snapshots.Validate(); err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	if err := c.Exports.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("exports.clickhouse: %w", err)
	}

	if err := c.Exports.HTTP.Validate(); err != nil {
		return fmt.Errorf("exports.http: %w", err)
	}

	return nil
}
