package core

import "time"

// TelemetryHook receives notifications about the lifecycle of a logical call.
//
// # Security Considerations
//
// Events never carry credentials, request bodies or response bodies. Only
// operational metadata is exposed: method, endpoint, status, attempt count
// and timing. Keep it that way when adding fields.
type TelemetryHook interface {
	// OnRequestStart is called once before the first attempt of a call.
	OnRequestStart(e RequestStartEvent)

	// OnRetry is called before each backoff sleep.
	OnRetry(e RetryEvent)

	// OnRequestEnd is called once when the call returns.
	OnRequestEnd(e RequestEndEvent)
}

// RequestStartEvent describes a call about to be issued.
//
// RequestID is the X-Request-Id shared by every attempt of the call; it
// correlates the events of one call.
type RequestStartEvent struct {
	RequestID string
	Method    string
	Endpoint  string
	Start     time.Time
}

// RetryEvent describes a failed attempt that will be retried.
type RetryEvent struct {
	RequestID string
	Method    string
	Endpoint  string
	Attempt   int // 0-based attempt that just failed
	Delay     time.Duration
	Kind      Kind
}

// RequestEndEvent describes a finished call.
//
// Err is the classified error, or a caller cancellation; never a raw body.
type RequestEndEvent struct {
	RequestID string
	Method    string
	Endpoint  string
	Start     time.Time
	End       time.Time
	Attempts  int
	Status    int // 0 when no response was received
	Err       error
}

// Duration returns the elapsed time for the call.
func (e RequestEndEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// NoopTelemetryHook discards all events.
type NoopTelemetryHook struct{}

// OnRequestStart does nothing.
func (NoopTelemetryHook) OnRequestStart(RequestStartEvent) {}

// OnRetry does nothing.
func (NoopTelemetryHook) OnRetry(RetryEvent) {}

// OnRequestEnd does nothing.
func (NoopTelemetryHook) OnRequestEnd(RequestEndEvent) {}

var _ TelemetryHook = NoopTelemetryHook{}
