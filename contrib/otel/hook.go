// Package otel traces crawlr client calls with OpenTelemetry.
//
// Each logical call becomes one client span covering every attempt and
// backoff; retries are recorded as span events.
//
//	hook := otel.NewHook(otel.WithTracerProvider(tp))
//	client, err := core.NewClient(core.WithTelemetry(hook))
package otel

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/crawlr/core"
	"github.com/petal-labs/crawlr/metrics"
)

// ScopeName is the instrumentation scope of the tracer.
const ScopeName = "github.com/petal-labs/crawlr/contrib/otel"

// Attribute keys set on call spans.
const (
	AttrRequestID = attribute.Key("crawlr.request_id")
	AttrAttempts  = attribute.Key("crawlr.attempts")
	AttrAttempt   = attribute.Key("crawlr.retry.attempt")
	AttrDelayMS   = attribute.Key("crawlr.retry.delay_ms")

	attrMethod    = attribute.Key("http.request.method")
	attrRoute     = attribute.Key("http.route")
	attrPath      = attribute.Key("url.path")
	attrStatus    = attribute.Key("http.response.status_code")
	attrErrorType = attribute.Key("error.type")
)

// Option configures a Hook.
type Option func(*Hook)

// WithTracerProvider sets the provider the tracer is taken from.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Hook) {
		if tp != nil {
			h.provider = tp
		}
	}
}

// Hook implements core.TelemetryHook on an OpenTelemetry tracer.
type Hook struct {
	provider trace.TracerProvider
	tracer   trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // open spans by request ID
}

var _ core.TelemetryHook = (*Hook)(nil)

// NewHook creates a tracing hook.
func NewHook(opts ...Option) *Hook {
	h := &Hook{
		provider: otel.GetTracerProvider(),
		spans:    make(map[string]trace.Span),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.tracer = h.provider.Tracer(ScopeName)
	return h
}

// OnRequestStart implements core.TelemetryHook.
func (h *Hook) OnRequestStart(e core.RequestStartEvent) {
	span := h.start(e.RequestID, e.Method, e.Endpoint, e.Start)

	h.mu.Lock()
	h.spans[e.RequestID] = span
	h.mu.Unlock()
}

// OnRetry implements core.TelemetryHook.
func (h *Hook) OnRetry(e core.RetryEvent) {
	h.mu.Lock()
	span, ok := h.spans[e.RequestID]
	h.mu.Unlock()
	if !ok {
		return
	}

	span.AddEvent("retry", trace.WithAttributes(
		AttrAttempt.Int(e.Attempt),
		AttrDelayMS.Int64(e.Delay.Milliseconds()),
		attrErrorType.String(e.Kind.String()),
	))
}

// OnRequestEnd implements core.TelemetryHook.
func (h *Hook) OnRequestEnd(e core.RequestEndEvent) {
	h.mu.Lock()
	span, ok := h.spans[e.RequestID]
	delete(h.spans, e.RequestID)
	h.mu.Unlock()
	if !ok {
		// The hook was installed while the call was running.
		span = h.start(e.RequestID, e.Method, e.Endpoint, e.Start)
	}

	span.SetAttributes(AttrAttempts.Int(e.Attempts))
	if e.Status != 0 {
		span.SetAttributes(attrStatus.Int(e.Status))
	}
	if e.Err != nil {
		span.SetAttributes(attrErrorType.String(metrics.Outcome(e.Err)))
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End(trace.WithTimestamp(e.End))
}

func (h *Hook) start(requestID, method, endpoint string, at time.Time) trace.Span {
	route := metrics.Endpoint(endpoint)
	path, _, _ := strings.Cut(endpoint, "?")
	_, span := h.tracer.Start(context.Background(), method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(at),
		trace.WithAttributes(
			attrMethod.String(method),
			attrRoute.String(route),
			attrPath.String(path),
			AttrRequestID.String(requestID),
		),
	)
	return span
}
