package core

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RetryPolicy is the backoff schedule of a client.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on one delay, zero for none
}

// Backoff returns BaseDelay * 2^attempt, capped by MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	d := time.Duration(math.MaxInt64)
	if delay < float64(math.MaxInt64) {
		d = time.Duration(delay)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RetryState tracks one logical call across its attempts.
type RetryState struct {
	Attempt    int // 0-based index of the attempt that just finished
	MaxRetries int
	Method     string // HTTP method of the call, GET when empty
	LastErr    error
	NextDelay  time.Duration
}

// Decision is the outcome of Decide.
type Decision int

const (
	// DecisionFail surfaces the error to the caller now.
	DecisionFail Decision = iota
	// DecisionRetry sleeps for the returned delay, then tries again.
	DecisionRetry
)

// Decide chooses what to do after a failed attempt. It has no side effects.
//
// Only classified errors are retried. Client errors (4xx except 429) and
// validation errors fail at once, as does an undecodable body from a
// non-idempotent request. A rate limit with a known Retry-After
// waits exactly that long; everything else follows the exponential policy.
func Decide(state RetryState, err error, policy RetryPolicy) (Decision, time.Duration) {
	var ce *Error
	if err == nil || !errors.As(err, &ce) {
		return DecisionFail, 0
	}
	if ce.Kind == KindValidation {
		return DecisionFail, 0
	}
	// The service accepted the request, so resending a non-idempotent one
	// could start a second job.
	if ce.Kind == KindParse && !idempotent(state.Method) {
		return DecisionFail, 0
	}
	if ce.Status >= 400 && ce.Status < 500 && ce.Status != http.StatusTooManyRequests {
		return DecisionFail, 0
	}
	if state.Attempt >= policy.MaxRetries {
		return DecisionFail, 0
	}
	if ce.Kind == KindRateLimit && ce.HasRetryAfter {
		return DecisionRetry, ce.RetryAfter
	}
	return DecisionRetry, policy.Backoff(state.Attempt)
}

// idempotent reports whether repeating method has no further effect.
func idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryDelay,
		MaxDelay:   c.MaxRetryDelay,
	}
}

// Do executes req with bounded retries.
//
// Attempts run strictly one after another, at most MaxRetries+1 of them.
// A failure that Decide does not retry, or the last failure once attempts
// are exhausted, is returned unchanged. When the client does not throw,
// a rejected response comes back as a Response with Failure set and is not
// retried.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, NewValidationError("request is required")
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	a := attempt{
		method:    req.Method,
		path:      req.Path,
		body:      body,
		header:    req.Header.Clone(),
		timeout:   req.Timeout,
		requestID: req.Header.Get(headerRequestID),
	}
	if a.method == "" {
		a.method = http.MethodGet
	}
	if a.requestID == "" {
		a.requestID = uuid.NewString()
	}

	cfg := c.snapshot()
	hook := cfg.Telemetry
	start := time.Now()
	hook.OnRequestStart(RequestStartEvent{
		RequestID: a.requestID,
		Method:    a.method,
		Endpoint:  a.path,
		Start:     start,
	})

	state := RetryState{MaxRetries: cfg.MaxRetries, Method: a.method}
	var resp *Response
	for {
		resp, err = c.execute(ctx, cfg, a)
		if err == nil {
			break
		}
		state.LastErr = err
		state.MaxRetries = cfg.MaxRetries

		decision, delay := Decide(state, err, cfg.retryPolicy())
		if decision == DecisionFail {
			break
		}
		state.NextDelay = delay

		kind, _ := KindOf(err)
		log := debugLogger(cfg)
		log.Warn().
			Str("request_id", a.requestID).
			Str("method", a.method).
			Str("endpoint", a.path).
			Int("attempt", state.Attempt+1).
			Int("max_attempts", state.MaxRetries+1).
			Dur("delay", delay).
			Err(err).
			Msgf("attempt %d of %d failed, retrying", state.Attempt+1, state.MaxRetries+1)
		hook.OnRetry(RetryEvent{
			RequestID: a.requestID,
			Method:    a.method,
			Endpoint:  a.path,
			Attempt:   state.Attempt,
			Delay:     delay,
			Kind:      kind,
		})

		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			err = sleepErr
			break
		}
		state.Attempt++
		// Settings changed during the sleep apply to the next attempt.
		cfg = c.snapshot()
	}

	end := RequestEndEvent{
		RequestID: a.requestID,
		Method:    a.method,
		Endpoint:  a.path,
		Start:     start,
		End:       time.Now(),
		Attempts:  state.Attempt + 1,
		Err:       err,
	}
	if resp != nil {
		end.Status = resp.Status
	} else {
		var ce *Error
		if errors.As(err, &ce) {
			end.Status = ce.Status
		}
	}
	hook.OnRequestEnd(end)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// encodeBody marshals a request body once so every attempt resends the
// same bytes.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, NewValidationError("cannot encode request body: %v", err)
	}
	return data, nil
}
