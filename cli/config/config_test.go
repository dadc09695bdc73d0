package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/crawlr/core"
)

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	assert.Equal(t, "config.yaml", filepath.Base(path))
	if os.Getenv("HOME") != "" || os.Getenv("USERPROFILE") != "" {
		assert.Equal(t, ".crawlr", filepath.Base(filepath.Dir(path)))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.APIURL)
	assert.Nil(t, cfg.MaxRetries)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("CRAWLR_TEST_TEAM", "search")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `api_url: http://localhost:3002/v1
timeout: 45s
max_retries: 0
retry_delay: 250ms
rate_limit: 5
headers:
  X-Team: ${CRAWLR_TEST_TEAM}
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3002/v1", cfg.APIURL)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	require.NotNil(t, cfg.MaxRetries)
	assert.Equal(t, 0, *cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, map[string]string{"X-Team": "search"}, cfg.Headers)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{APIURL: "http://from-file"}
	env := map[string]string{EnvAPIURL: "http://from-env"}

	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "http://from-env", cfg.APIURL)

	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, "http://from-env", cfg.APIURL)
}

func TestClientOptions(t *testing.T) {
	retries := 1
	cfg := &Config{
		APIURL:     "http://localhost:3002/v1/",
		Timeout:    10 * time.Second,
		MaxRetries: &retries,
		Headers:    map[string]string{"X-Team": "search"},
		RateLimit:  2,
		Debug:      true,
	}

	client, err := core.NewClient(cfg.ClientOptions("fc-key")...)
	require.NoError(t, err)

	got := client.Config()
	assert.Equal(t, "http://localhost:3002/v1", got.BaseURL)
	assert.Equal(t, "fc-key", got.APIKey.Expose())
	assert.Equal(t, 10*time.Second, got.Timeout)
	assert.Equal(t, 1, got.MaxRetries)
	assert.Equal(t, core.DefaultRetryDelay, got.RetryDelay)
	assert.Equal(t, "search", got.Headers.Get("X-Team"))
	assert.NotNil(t, got.RateLimiter)
	assert.True(t, got.Debug)
}

func TestClientOptionsEmpty(t *testing.T) {
	client, err := core.NewClient((&Config{}).ClientOptions("")...)
	require.NoError(t, err)

	got := client.Config()
	assert.Equal(t, core.DefaultBaseURL, got.BaseURL)
	assert.True(t, got.APIKey.IsEmpty())
	assert.Equal(t, core.DefaultMaxRetries, got.MaxRetries)
}

func TestClientOptionsInvalidURL(t *testing.T) {
	_, err := core.NewClient((&Config{APIURL: "localhost:3002"}).ClientOptions("")...)
	assert.ErrorIs(t, err, core.ErrValidation)
}
