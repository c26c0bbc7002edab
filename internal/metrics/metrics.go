// Package metrics exposes stackdeck's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  *prometheus.GaugeVec
	SessionsTotal   *prometheus.CounterVec
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	APIRequests     *prometheus.CounterVec
	APIDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackdeck_sessions_active",
				Help: "Number of live stream sessions by kind",
			},
			[]string{"kind"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackdeck_sessions_total",
				Help: "Total number of stream sessions opened by kind",
			},
			[]string{"kind"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackdeck_commands_total",
				Help: "External commands run by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stackdeck_command_duration_seconds",
				Help:    "External command duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"command"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackdeck_rate_limited_total",
				Help: "Calls rejected by the rate limiter by class",
			},
			[]string{"class"},
		),
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackdeck_api_requests_total",
				Help: "Total number of API requests by method and status",
			},
			[]string{"method", "status"},
		),
		APIDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stackdeck_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.CommandsTotal,
		m.CommandDuration,
		m.RateLimited,
		m.APIRequests,
		m.APIDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened counts a new session of kind.
func (m *Metrics) SessionOpened(kind string) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(kind).Inc()
	m.SessionsTotal.WithLabelValues(kind).Inc()
}

// SessionClosed decrements the live gauge for kind.
func (m *Metrics) SessionClosed(kind string) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(kind).Dec()
}

// CommandFinished records one external command run.
func (m *Metrics) CommandFinished(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// Rejected counts a rate limiter rejection.
func (m *Metrics) Rejected(class string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(class).Inc()
}

// Request records one HTTP request.
func (m *Metrics) Request(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.APIDuration.WithLabelValues(method).Observe(d.Seconds())
}
