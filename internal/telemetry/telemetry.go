// Package telemetry exports stream outcomes and timings as Prometheus
// metrics.
package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soyeahso/polyground/internal/stream"
)

// Observer records aggregator transitions. One Observer can be shared by
// every session in a process.
type Observer struct {
	streams   *prometheus.CounterVec
	fragments prometheus.Counter
	ttff      prometheus.Histogram
	duration  prometheus.Histogram
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// NewObserver creates the collectors and registers them on reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		streams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyground_streams_total",
				Help: "Chat completions by terminal outcome.",
			},
			[]string{"outcome"},
		),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyground_fragments_total",
			Help: "Streamed fragments applied to assistant messages.",
		}),
		ttff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyground_time_to_first_fragment_seconds",
			Help:    "Delay between dispatch and the first streamed fragment.",
			Buckets: latencyBuckets,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyground_stream_duration_seconds",
			Help:    "Time from dispatch to the end of a completed stream.",
			Buckets: latencyBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{o.streams, o.fragments, o.ttff, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return o, nil
}

// OnTransition implements stream.Observer.
func (o *Observer) OnTransition(t stream.Transition) {
	switch t.To {
	case stream.StateStreaming:
		o.fragments.Inc()
	case stream.StateCompleted, stream.StateCancelled, stream.StateFailed:
		o.streams.WithLabelValues(t.To.String()).Inc()
		if t.Metrics == nil {
			return
		}
		if d, ok := t.Metrics.TimeToFirstFragment(); ok {
			o.ttff.Observe(d.Seconds())
		}
		if t.To == stream.StateCompleted {
			if d, ok := t.Metrics.Duration(); ok {
				o.duration.Observe(d.Seconds())
			}
		}
	}
}

// HTTPMetrics counts gateway HTTP requests by method, path and status.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the request collectors and registers them on reg.
func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyground_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyground_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest records one finished request.
func (m *HTTPMetrics) ObserveRequest(method, path string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, path).Observe(d.Seconds())
}
