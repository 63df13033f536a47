// Package metrics defines the server's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codetime"

type Metrics struct {
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	WSActive           prometheus.Gauge
	WSHeartbeats       *prometheus.CounterVec
	RateLimitRejection *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg gets a
// private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1, 2.5},
		}, []string{"route", "method", "status"}),
		WSActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "Open heartbeat websocket connections.",
		}),
		WSHeartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_heartbeats_total",
			Help:      "Accepted heartbeats by whether they produced a new minute.",
		}, []string{"counted"}),
		RateLimitRejection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Requests refused by the rate limiter.",
		}, []string{"channel"}),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.WSActive, m.WSHeartbeats, m.RateLimitRejection)
	return m
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequests.WithLabelValues(route, method, code).Inc()
	m.HTTPDuration.WithLabelValues(route, method, code).Observe(elapsed.Seconds())
}

func (m *Metrics) Heartbeat(counted bool) {
	m.WSHeartbeats.WithLabelValues(strconv.FormatBool(counted)).Inc()
}

func (m *Metrics) Rejected(channel string) {
	m.RateLimitRejection.WithLabelValues(channel).Inc()
}
