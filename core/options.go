package core

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Defaults applied by NewClient.
const (
	DefaultBaseURL    = "https://api.crawlr.dev/v1"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// Config holds the settings the request core consults on every attempt.
type Config struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey Secret

	// Timeout is the default per-call deadline. Must be positive.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the base of the exponential backoff schedule.
	RetryDelay time.Duration

	// MaxRetryDelay caps a single backoff sleep. Zero means no cap.
	MaxRetryDelay time.Duration

	// Headers are sent with every request. Per-call headers win on conflict.
	Headers http.Header

	// ValidateStatus reports whether a status is a success.
	// Defaults to 2xx.
	ValidateStatus func(status int) bool

	// ThrowOnError selects whether a rejected response is returned as an
	// error (true) or in Response.Failure (false).
	ThrowOnError bool

	// Debug enables request/response logging on Logger. Logger defaults
	// to stderr and is silent while Debug is off.
	Debug bool

	HTTPClient  *http.Client
	Logger      zerolog.Logger
	Telemetry   TelemetryHook
	RateLimiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Config)

// WithBaseURL sets the service base URL.
func WithBaseURL(u string) Option {
	return func(c *Config) {
		c.BaseURL = u
	}
}

// WithAPIKey sets the bearer credential.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = NewSecret(key)
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithRetry sets the retry count and the base backoff delay.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithMaxRetryDelay caps each backoff sleep.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxRetryDelay = d
	}
}

// WithHeader adds a default header.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}
		c.Headers.Set(key, value)
	}
}

// WithValidateStatus replaces the success predicate.
func WithValidateStatus(fn func(status int) bool) Option {
	return func(c *Config) {
		if fn != nil {
			c.ValidateStatus = fn
		}
	}
}

// WithThrowOnError toggles raising rejected responses as errors.
func WithThrowOnError(throw bool) Option {
	return func(c *Config) {
		c.ThrowOnError = throw
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(c *Config) {
		c.Debug = debug
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// WithLogger sets the logger used when debug logging is on.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithTelemetry sets the telemetry hook.
func WithTelemetry(h TelemetryHook) Option {
	return func(c *Config) {
		if h != nil {
			c.Telemetry = h
		}
	}
}

// WithRateLimit caps outgoing attempts to rps per second with the given burst.
// Every attempt, retries included, waits for a token.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		if rps <= 0 {
			c.RateLimiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.RateLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func defaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
		ValidateStatus: Is2xx,
		ThrowOnError:   true,
		HTTPClient:     http.DefaultClient,
		Logger:         zerolog.New(os.Stderr).With().Timestamp().Logger(),
		Telemetry:      NoopTelemetryHook{},
	}
}

// Is2xx is the default status predicate.
func Is2xx(status int) bool {
	return status >= 200 && status < 300
}

// validate checks the invariants of a config and normalizes the base URL.
func (c *Config) validate() error {
	base, err := normalizeBaseURL(c.BaseURL)
	if err != nil {
		return err
	}
	c.BaseURL = base

	if c.Timeout <= 0 {
		return NewValidationError("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return NewValidationError("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return NewValidationError("retry delay must be >= 0, got %s", c.RetryDelay)
	}
	if c.MaxRetryDelay < 0 {
		return NewValidationError("max retry delay must be >= 0, got %s", c.MaxRetryDelay)
	}
	if c.ValidateStatus == nil {
		c.ValidateStatus = Is2xx
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Telemetry == nil {
		c.Telemetry = NoopTelemetryHook{}
	}
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError("base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError("invalid base URL %q: %v", raw, err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", NewValidationError("invalid base URL %q: must be an absolute http(s) URL", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// clone returns a copy that shares nothing mutable with c.
func (c Config) clone() Config {
	c.Headers = c.Headers.Clone()
	return c
}
