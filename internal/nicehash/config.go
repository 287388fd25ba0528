package nicehash

import (
	"fmt"
	"time"
)

// DefaultEndpoint is the production NiceHash API.
const DefaultEndpoint = "https://api2.nicehash.com"

// Config holds configuration for the NiceHash API client.
type Config struct {
	// Endpoint is the base URL of the API.
	// Defaults to https://api2.nicehash.com.
	Endpoint string `yaml:"endpoint"`

	// OrganizationID identifies the account whose rigs are reported.
	OrganizationID string `yaml:"organization_id"`

	// APIKey and APISecret sign every request.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Timeout for HTTP requests to the API.
	// Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.OrganizationID == "" {
		return fmt.Errorf("organization_id is required")
	}

	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}

	if c.APISecret == "" {
		return fmt.Errorf("api_secret is required")
	}

	return nil
}
