package core

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindGeneric is any non-2xx status without a more specific kind.
	KindGeneric Kind = iota
	// KindNetwork is a transport failure before any response arrived.
	KindNetwork
	// KindTimeout is a network failure caused by the per-call deadline.
	KindTimeout
	// KindValidation is caller input rejected before any network call.
	KindValidation
	// KindAuth is a 401 or 403 response.
	KindAuth
	// KindNotFound is a 404 response.
	KindNotFound
	// KindRateLimit is a 429 response.
	KindRateLimit
	// KindServer is a 5xx response.
	KindServer
	// KindParse is a body that could not be decoded per its content type.
	KindParse
)

var kindNames = map[Kind]string{
	KindGeneric:    "generic",
	KindNetwork:    "network",
	KindTimeout:    "timeout",
	KindValidation: "validation",
	KindAuth:       "auth",
	KindNotFound:   "not_found",
	KindRateLimit:  "rate_limit",
	KindServer:     "server",
	KindParse:      "parse",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Sentinel errors for classification.
var (
	ErrRequestFailed = errors.New("request failed")
	ErrNetwork       = errors.New("network error")
	ErrTimeout       = errors.New("timeout")
	ErrValidation    = errors.New("validation error")
	ErrAuth          = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrServer        = errors.New("server error")
	ErrParse         = errors.New("parse error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindRateLimit:
		return ErrRateLimited
	case KindServer:
		return ErrServer
	case KindParse:
		return ErrParse
	default:
		return ErrRequestFailed
	}
}

// RequestInfo echoes the outbound request for diagnostics.
// Authorization values are redacted before they are stored here.
type RequestInfo struct {
	URL    string
	Method string
	Header http.Header
	Body   string
}

// RateLimitQuota holds the optional quota headers of a 429 response.
type RateLimitQuota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Error is a classified failure. It is built once where the failure is
// classified and is not modified afterwards.
type Error struct {
	Kind       Kind
	Message    string
	Status     int
	StatusText string

	// Body is the decoded response body: a JSON value or raw text.
	Body any

	// RetryAfter is only meaningful when HasRetryAfter is true.
	RetryAfter    time.Duration
	HasRetryAfter bool
	Quota         *RateLimitQuota

	// Resource identifies the missing resource of a KindNotFound error.
	Resource string

	// Timeout and URL are set on KindTimeout errors.
	Timeout time.Duration
	URL     string

	Request *RequestInfo
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d", e.Status)
		if e.StatusText != "" {
			fmt.Fprintf(&b, " %s", e.StatusText)
		}
		b.WriteString(")")
	}
	if e.Kind == KindTimeout {
		fmt.Fprintf(&b, " after %s calling %s", e.Timeout, e.URL)
	}
	if e.HasRetryAfter {
		fmt.Fprintf(&b, " retry after %s", e.RetryAfter)
	}
	return b.String()
}

// Unwrap exposes the kind sentinel and the underlying cause.
// A timeout also matches ErrNetwork.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Kind == KindTimeout {
		errs = append(errs, ErrNetwork)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of a classified error and whether err is one.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return KindGeneric, false
}

// Classify maps a non-accepted HTTP response onto a classified error.
// The kind depends only on status; header only feeds rate-limit details.
func Classify(status int, statusText, message string, body any, header http.Header) *Error {
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	if message == "" {
		message = messageFromBody(body)
	}
	if message == "" {
		message = statusText
	}
	if message == "" {
		message = "request failed with status " + strconv.Itoa(status)
	}

	e := &Error{
		Kind:       kindForStatus(status),
		Message:    message,
		Status:     status,
		StatusText: statusText,
		Body:       body,
	}

	if e.Kind == KindRateLimit && header != nil {
		e.RetryAfter, e.HasRetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
		e.Quota = parseQuota(header)
	}
	return e
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500 && status < 600:
		return KindServer
	default:
		return KindGeneric
	}
}

// messageFromBody pulls a human message out of common error envelopes:
// {"error":"..."}, {"message":"..."}, {"error":{"message":"..."}}.
func messageFromBody(body any) string {
	switch v := body.(type) {
	case map[string]any:
		if s, ok := v["error"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["message"].(string); ok && s != "" {
			return s
		}
		if nested, ok := v["error"].(map[string]any); ok {
			if s, ok := nested["message"].(string); ok {
				return s
			}
		}
	case string:
		s := strings.TrimSpace(v)
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	return ""
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d.Round(time.Second), true
	}
	return 0, false
}

func parseQuota(header http.Header) *RateLimitQuota {
	limit := header.Get("X-RateLimit-Limit")
	remaining := header.Get("X-RateLimit-Remaining")
	reset := header.Get("X-RateLimit-Reset")
	if limit == "" && remaining == "" && reset == "" {
		return nil
	}

	q := &RateLimitQuota{}
	q.Limit, _ = strconv.Atoi(limit)
	q.Remaining, _ = strconv.Atoi(remaining)
	if reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			q.Reset = time.Unix(unix, 0).UTC()
		} else if at, err := http.ParseTime(reset); err == nil {
			q.Reset = at
		}
	}
	return q
}

// NewValidationError reports caller input rejected before any network
// call. Packages building requests on a Client use it for argument checks.
func NewValidationError(format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// newNetworkError wraps a transport failure.
func newNetworkError(err error, info *RequestInfo) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: err.Error(),
		Request: info,
		Err:     err,
	}
}

// newTimeoutError reports a request aborted by its deadline.
func newTimeoutError(timeout time.Duration, url string, cause error, info *RequestInfo) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: "request timed out",
		Timeout: timeout,
		URL:     url,
		Request: info,
		Err:     cause,
	}
}

// newParseError reports a body that did not decode per its content type.
func newParseError(status int, contentType string, body string, cause error, info *RequestInfo) *Error {
	return &Error{
		Kind:    KindParse,
		Message: "cannot decode " + contentType + " response: " + cause.Error(),
		Status:  status,
		Body:    body,
		Request: info,
		Err:     cause,
	}
}
