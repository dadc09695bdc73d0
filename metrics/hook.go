// Package metrics exports crawlr client telemetry as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	client, err := core.NewClient(core.WithTelemetry(metrics.NewHook(reg)))
package metrics

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/petal-labs/crawlr/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "crawlr_client"

// Hook implements core.TelemetryHook on Prometheus collectors.
type Hook struct {
	inFlight *prometheus.GaugeVec
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	attempts *prometheus.HistogramVec
	latency  *prometheus.HistogramVec
}

var _ core.TelemetryHook = (*Hook)(nil)

// NewHook registers the client metrics on reg. A nil reg registers on the
// default Prometheus registry.
func NewHook(reg prometheus.Registerer) *Hook {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Hook{
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "requests_in_flight",
				Help:      "Logical calls currently executing",
			},
			[]string{"method", "endpoint"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Logical calls by outcome",
			},
			[]string{"method", "endpoint", "status", "outcome"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "retries_total",
				Help:      "Retried attempts by error kind",
			},
			[]string{"method", "endpoint", "kind"},
		),
		attempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "attempts_per_request",
				Help:      "Attempts made per logical call",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"method", "endpoint"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "request_duration_seconds",
				Help:      "Logical call latency including backoff",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// OnRequestStart implements core.TelemetryHook.
func (h *Hook) OnRequestStart(e core.RequestStartEvent) {
	h.inFlight.WithLabelValues(e.Method, Endpoint(e.Endpoint)).Inc()
}

// OnRetry implements core.TelemetryHook.
func (h *Hook) OnRetry(e core.RetryEvent) {
	h.retries.WithLabelValues(e.Method, Endpoint(e.Endpoint), e.Kind.String()).Inc()
}

// OnRequestEnd implements core.TelemetryHook.
func (h *Hook) OnRequestEnd(e core.RequestEndEvent) {
	endpoint := Endpoint(e.Endpoint)
	h.inFlight.WithLabelValues(e.Method, endpoint).Dec()

	status := "none"
	if e.Status != 0 {
		status = strconv.Itoa(e.Status)
	}
	h.requests.WithLabelValues(e.Method, endpoint, status, Outcome(e.Err)).Inc()
	h.attempts.WithLabelValues(e.Method, endpoint).Observe(float64(e.Attempts))
	h.latency.WithLabelValues(e.Method, endpoint).Observe(e.Duration().Seconds())
}

// Outcome labels a finished call: "success", "canceled" for an
// unclassified error, or the error kind.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind, ok := core.KindOf(err); ok {
		return kind.String()
	}
	return "canceled"
}

// Endpoint turns a request path into a low-cardinality label. The query is
// dropped and identifier segments become ":id", so "/crawl/5f1c?skip=10"
// is reported as "/crawl/:id".
func Endpoint(path string) string {
	path, _, _ = strings.Cut(path, "?")
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if isIdentifier(seg) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// isIdentifier reports whether a path segment looks like a job or document
// id rather than a route name.
func isIdentifier(seg string) bool {
	if len(seg) > 24 {
		return true
	}
	for _, r := range seg {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
