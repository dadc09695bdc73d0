package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client executes calls against the crawling service.
//
// Client is safe for concurrent use. Its configuration lives in a guarded
// cell: setters may run while calls are in flight, and every attempt reads
// a fresh snapshot, so a change made between two retries of one call is
// seen by the next attempt.
type Client struct {
	mu  sync.RWMutex
	cfg Config

	// sleep waits out a backoff delay. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates the options and returns a client. A malformed base
// URL or an out-of-range timeout or retry setting yields a KindValidation
// error before any network activity.
func NewClient(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:   cfg.clone(),
		sleep: sleepContext,
	}, nil
}

// Config returns a copy of the current configuration.
func (c *Client) Config() Config {
	return c.snapshot()
}

func (c *Client) snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.clone()
}

// SetAPIKey replaces the bearer credential. An empty key removes it.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.APIKey = NewSecret(key)
}

// SetBaseURL replaces the base URL after validating it.
func (c *Client) SetBaseURL(u string) error {
	base, err := normalizeBaseURL(u)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.BaseURL = base
	return nil
}

// SetTimeout replaces the default per-call timeout.
func (c *Client) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return NewValidationError("timeout must be positive, got %s", d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Timeout = d
	return nil
}

// SetDebug toggles debug logging.
func (c *Client) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Debug = debug
}

// SetHeader sets a default header. An empty value deletes it.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		c.cfg.Headers.Del(key)
		return
	}
	if c.cfg.Headers == nil {
		c.cfg.Headers = make(http.Header)
	}
	c.cfg.Headers.Set(key, value)
}

// Request describes one logical call.
type Request struct {
	// Method defaults to GET.
	Method string

	// Path is appended to the base URL, e.g. "/scrape" or "/crawl/abc?skip=10".
	Path string

	// Body is sent as JSON. []byte and json.RawMessage are sent verbatim.
	Body any

	// Header overrides the client defaults for this call only.
	Header http.Header

	// Timeout overrides the client default for this call only.
	Timeout time.Duration
}

// BodyKind tells which payload field of a Response is populated.
type BodyKind int

const (
	BodyJSON BodyKind = iota
	BodyText
	BodyStream
)

// Response is the outcome of a call that was not raised as an error.
type Response struct {
	Status      int
	StatusText  string
	Header      http.Header
	ContentType string

	Kind   BodyKind
	JSON   json.RawMessage
	Text   string
	Stream io.ReadCloser

	// Failure is set instead of an error return when the client is
	// configured not to throw and the status predicate rejected the response.
	Failure *Error
}

// Decode unmarshals a JSON payload into v.
func (r *Response) Decode(v any) error {
	if r.Failure != nil {
		return r.Failure
	}
	switch r.Kind {
	case BodyJSON:
		if err := json.Unmarshal(r.JSON, v); err != nil {
			return newParseError(r.Status, r.ContentType, string(r.JSON), err, nil)
		}
		return nil
	case BodyStream:
		return newParseError(r.Status, r.ContentType, "", errStreamBody, nil)
	default:
		if err := json.Unmarshal([]byte(r.Text), v); err != nil {
			return newParseError(r.Status, r.ContentType, r.Text, err, nil)
		}
		return nil
	}
}

// Value returns the payload as a generic value: the decoded JSON, the raw
// text, or the open stream.
func (r *Response) Value() any {
	switch r.Kind {
	case BodyJSON:
		var v any
		_ = json.Unmarshal(r.JSON, &v)
		return v
	case BodyStream:
		return r.Stream
	default:
		return r.Text
	}
}

// DoJSON runs req and decodes a JSON payload into T. A Response.Failure
// is returned as the error.
func DoJSON[T any](ctx context.Context, c *Client, req *Request) (T, error) {
	var out T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// DoArray runs req and returns the list payload, whatever envelope the
// service wrapped it in. See Normalize.
func DoArray[T any](ctx context.Context, c *Client, req *Request) ([]T, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Failure != nil {
		return nil, resp.Failure
	}
	raw := resp.JSON
	if resp.Kind != BodyJSON {
		raw = json.RawMessage(resp.Text)
	}
	out, err := NormalizeArray[T](raw)
	if err != nil {
		return nil, newParseError(resp.Status, resp.ContentType, string(raw), err, nil)
	}
	return out, nil
}

// Stream runs req and returns the event stream of a text/event-stream
// response. The caller must range over Events or call Close.
func (c *Client) Stream(ctx context.Context, req *Request) (*EventStream, error) {
	if req == nil {
		return nil, NewValidationError("request is required")
	}
	r := *req
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.Do(ctx, &r)
	if err != nil {
		return nil, err
	}
	if resp.Failure != nil {
		return nil, resp.Failure
	}
	if resp.Kind != BodyStream {
		return nil, newParseError(resp.Status, resp.ContentType, resp.Text, errNotStream, nil)
	}
	return NewEventStream(resp.Stream), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
