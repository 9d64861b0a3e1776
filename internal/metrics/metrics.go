package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the gateway's prometheus registry and instruments. Labels:
// facade is the inbound dialect surface, backend the resolved adapter.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	latencyMs      *prometheus.HistogramVec
	streamEvents   *prometheus.CounterVec
	backendRetries *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_requests_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"facade", "backend", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelgate_request_latency_ms",
			Help:    "Request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"facade", "backend", "status"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_stream_events_total",
			Help: "Canonical stream events delivered to clients.",
		}, []string{"facade", "event"}),
		backendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_backend_retries_total",
			Help: "Backend attempts beyond the first, per resilience policy.",
		}, []string{"policy"}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.streamEvents, m.backendRetries)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(facade, backend string, status int, dur time.Duration) {
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(facade, backend, s).Inc()
	m.latencyMs.WithLabelValues(facade, backend, s).Observe(float64(dur.Milliseconds()))
}

func (m *Metrics) ObserveStreamEvent(facade, event string) {
	m.streamEvents.WithLabelValues(facade, event).Inc()
}

func (m *Metrics) ObserveRetry(policy string) {
	m.backendRetries.WithLabelValues(policy).Inc()
}
