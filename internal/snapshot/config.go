package snapshot

import (
	"fmt"

	"github.com/ethpandaops/poolspy/internal/codec"
)

// Config configures the on-disk snapshot store.
type Config struct {
	// Enabled toggles incremental snapshots. When disabled every run
	// fetches its full window.
	Enabled bool `yaml:"enabled"`
	// Dir is the root directory holding one subdirectory per organization.
	Dir string `yaml:"dir"`
	// Compression is one of none, gzip, zstd, zlib, snappy.
	Compression string `yaml:"compression"`
}

// DefaultConfig returns the default snapshot configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Dir:         "snapshots",
		Compression: codec.None,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Dir == "" {
		return fmt.Errorf("dir is required when snapshots are enabled")
	}

	if !codec.Valid(c.Compression) {
		return fmt.Errorf("unsupported compression %q", c.Compression)
	}

	return nil
}
