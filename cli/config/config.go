// Package config handles CLI configuration loading.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/crawlr/core"
)

// Environment variables read by the CLI.
const (
	EnvAPIKey = "CRAWLR_API_KEY"
	EnvAPIURL = "CRAWLR_API_URL"
)

// Config represents the CLI configuration file.
//
// The API key is never read from the file; it comes from CRAWLR_API_KEY.
// Values may reference environment variables as ${NAME}.
type Config struct {
	APIURL     string            `yaml:"api_url,omitempty"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	MaxRetries *int              `yaml:"max_retries,omitempty"`
	RetryDelay time.Duration     `yaml:"retry_delay,omitempty"`
	RateLimit  float64           `yaml:"rate_limit,omitempty"` // requests per second
	Headers    map[string]string `yaml:"headers,omitempty"`
	Debug      bool              `yaml:"debug,omitempty"`
}

// DefaultConfigPath returns the default configuration file path for the current platform.
// - macOS/Linux: ~/.crawlr/config.yaml
// - Windows: %USERPROFILE%\.crawlr\config.yaml
func DefaultConfigPath() string {
	var homeDir string

	if runtime.GOOS == "windows" {
		homeDir = os.Getenv("USERPROFILE")
	} else {
		homeDir = os.Getenv("HOME")
	}

	if homeDir == "" {
		return "config.yaml"
	}

	return filepath.Join(homeDir, ".crawlr", "config.yaml")
}

// LoadConfig loads configuration from the specified path.
// If the file doesn't exist, returns an empty config without error.
// Returns an error only if the file exists but cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
}

// ClientOptions translates the configuration into core client options.
// Unset values keep the client defaults.
func (c *Config) ClientOptions(apiKey string) []core.Option {
	var opts []core.Option
	if c.APIURL != "" {
		opts = append(opts, core.WithBaseURL(c.APIURL))
	}
	if apiKey != "" {
		opts = append(opts, core.WithAPIKey(apiKey))
	}
	if c.Timeout > 0 {
		opts = append(opts, core.WithTimeout(c.Timeout))
	}
	if c.MaxRetries != nil || c.RetryDelay > 0 {
		retries := core.DefaultMaxRetries
		if c.MaxRetries != nil {
			retries = *c.MaxRetries
		}
		delay := core.DefaultRetryDelay
		if c.RetryDelay > 0 {
			delay = c.RetryDelay
		}
		opts = append(opts, core.WithRetry(retries, delay))
	}
	if c.RateLimit > 0 {
		opts = append(opts, core.WithRateLimit(c.RateLimit, 1))
	}
	for key, value := range c.Headers {
		opts = append(opts, core.WithHeader(key, value))
	}
	if c.Debug {
		opts = append(opts, core.WithDebug(true))
	}
	return opts
}
