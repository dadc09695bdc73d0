package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	headerRequestID = "X-Request-Id"

	// maxErrorBody bounds how much of a rejected stream body is read.
	maxErrorBody = 64 << 10
	// maxLoggedBody bounds request and response bodies in debug logs.
	maxLoggedBody = 1 << 10
)

var (
	errAttemptDeadline = errors.New("attempt deadline exceeded")
	errStreamBody      = errors.New("response is an event stream")
	errNotStream       = errors.New("response is not an event stream")
)

// sensitiveHeaders are replaced before headers reach a log line or an
// error's request descriptor.
var sensitiveHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
}

// attempt is one outbound request of a logical call.
type attempt struct {
	method    string
	path      string
	body      []byte
	header    http.Header
	timeout   time.Duration
	requestID string
}

// execute issues a single request and classifies its outcome.
func (c *Client) execute(ctx context.Context, cfg Config, a attempt) (*Response, error) {
	url := joinURL(cfg.BaseURL, a.path)
	header := buildHeader(cfg, a)
	info := &RequestInfo{
		URL:    url,
		Method: a.method,
		Header: redactHeader(header),
		Body:   string(a.body),
	}
	log := debugLogger(cfg)

	timeout := a.timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}

	if cfg.RateLimiter != nil {
		if err := cfg.RateLimiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, newNetworkError(err, info)
		}
	}

	// The deadline covers sending the request and reading a buffered body.
	// For an event stream it stops once headers arrive and the context is
	// released when the stream is closed.
	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(timeout, func() { cancel(errAttemptDeadline) })
	release := func() {
		timer.Stop()
		cancel(nil)
	}

	var reqBody io.Reader
	if a.body != nil {
		reqBody = bytes.NewReader(a.body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, a.method, url, reqBody)
	if err != nil {
		release()
		return nil, NewValidationError("cannot build request for %s %s: %v", a.method, url, err)
	}
	httpReq.Header = header

	log.Debug().
		Str("request_id", a.requestID).
		Str("method", a.method).
		Str("url", url).
		Interface("headers", info.Header).
		Str("body", truncate(info.Body, maxLoggedBody)).
		Msg("sending request")

	resp, err := cfg.HTTPClient.Do(httpReq)
	if err != nil {
		release()
		return nil, transportError(ctx, attemptCtx, err, timeout, url, info)
	}

	out := &Response{
		Status:      resp.StatusCode,
		StatusText:  statusText(resp),
		Header:      resp.Header.Clone(),
		ContentType: resp.Header.Get("Content-Type"),
	}
	accepted := cfg.ValidateStatus(resp.StatusCode)
	mediaType := parseMediaType(out.ContentType)

	if mediaType == "text/event-stream" && accepted {
		if !timer.Stop() {
			// The deadline fired after headers arrived, so the body is
			// cancelled or about to be.
			_ = resp.Body.Close()
			cancel(nil)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, newTimeoutError(timeout, url, errAttemptDeadline, info)
		}
		out.Kind = BodyStream
		out.Stream = &streamBody{ReadCloser: resp.Body, release: func() { cancel(nil) }}
		log.Debug().
			Str("request_id", a.requestID).
			Int("status", resp.StatusCode).
			Msg("received event stream")
		return out, nil
	}

	raw, err := readBody(resp, mediaType)
	release()
	if err != nil {
		return nil, transportError(ctx, attemptCtx, err, timeout, url, info)
	}

	log.Debug().
		Str("request_id", a.requestID).
		Int("status", resp.StatusCode).
		Str("content_type", out.ContentType).
		Str("body", truncate(string(raw), maxLoggedBody)).
		Msg("received response")

	if !accepted {
		failure := classifyResponse(out, mediaType, raw, a.path, info)
		if cfg.ThrowOnError {
			return nil, failure
		}
		out.Kind = BodyText
		out.Text = string(raw)
		out.Failure = failure
		return out, nil
	}

	switch mediaType {
	case "application/json":
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			trimmed = []byte("null")
		}
		if !json.Valid(trimmed) {
			return nil, newParseError(resp.StatusCode, out.ContentType, string(raw), errInvalidJSON, info)
		}
		out.Kind = BodyJSON
		out.JSON = json.RawMessage(trimmed)
	default:
		out.Kind = BodyText
		out.Text = string(raw)
	}
	return out, nil
}

var errInvalidJSON = errors.New("invalid JSON")

// transportError maps a failure of the HTTP exchange. The caller's own
// cancellation is returned unchanged; the attempt deadline becomes a
// timeout; anything else is a network failure.
func transportError(ctx, attemptCtx context.Context, err error, timeout time.Duration, url string, info *RequestInfo) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(context.Cause(attemptCtx), errAttemptDeadline) {
		return newTimeoutError(timeout, url, err, info)
	}
	return newNetworkError(err, info)
}

// classifyResponse builds the error for a rejected response.
func classifyResponse(resp *Response, mediaType string, raw []byte, path string, info *RequestInfo) *Error {
	var body any
	if mediaType == "application/json" {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	} else if len(raw) > 0 {
		body = string(raw)
	}

	failure := Classify(resp.Status, resp.StatusText, "", body, resp.Header)
	failure.Request = info
	if failure.Kind == KindNotFound {
		failure.Resource = resourceFromPath(path)
	}
	return failure
}

func readBody(resp *http.Response, mediaType string) ([]byte, error) {
	defer resp.Body.Close()
	if mediaType == "text/event-stream" {
		return io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	}
	return io.ReadAll(resp.Body)
}

// buildHeader layers the outbound headers: JSON content type, bearer
// credential, client defaults, then per-call headers. Later layers win.
func buildHeader(cfg Config, a attempt) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if auth := cfg.APIKey.bearer(); auth != "" {
		h.Set("Authorization", auth)
	}
	for key, values := range cfg.Headers {
		h[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	for key, values := range a.header {
		h[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	if h.Get(headerRequestID) == "" && a.requestID != "" {
		h.Set(headerRequestID, a.requestID)
	}
	return h
}

func redactHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, key := range sensitiveHeaders {
		if _, ok := out[key]; ok {
			out[key] = []string{redacted}
		}
	}
	return out
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "?") {
		path = "/" + path
	}
	return base + path
}

func parseMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// statusText returns the reason phrase without the numeric prefix.
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// resourceFromPath returns the last path segment, without the query.
func resourceFromPath(path string) string {
	path, _, _ = strings.Cut(path, "?")
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

func debugLogger(cfg Config) zerolog.Logger {
	if !cfg.Debug {
		return zerolog.Nop()
	}
	return cfg.Logger
}

// streamBody releases the attempt context when the stream is closed.
type streamBody struct {
	io.ReadCloser
	release func()
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
