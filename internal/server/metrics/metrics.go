// Package metrics exposes Prometheus counters for the record service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one server instance.
// Each instance owns its registry so tests can create as many as they need.
type Metrics struct {
	registry        *prometheus.Registry
	RecordWrites    *prometheus.CounterVec
	LogAppends      *prometheus.CounterVec
	Restores        *prometheus.CounterVec
	FeedEvents      prometheus.Counter
	FeedDropped     prometheus.Counter
	FeedSubscribers prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// New creates collectors registered on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RecordWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_record_writes_total",
			Help: "Committed record writes by action type",
		}, []string{"action"}),
		LogAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_change_log_appends_total",
			Help: "Change log appends by result",
		}, []string{"result"}),
		Restores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_restores_total",
			Help: "Restore operations by status",
		}, []string{"status"}),
		FeedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_feed_events_total",
			Help: "Change events published to the feed",
		}),
		FeedDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_feed_subscribers_dropped_total",
			Help: "Feed subscribers disconnected because they fell behind",
		}),
		FeedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "rollcall_feed_subscribers",
			Help: "Currently connected feed subscribers",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcall_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(route, code string, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, code).Observe(d.Seconds())
}

// Published, Dropped and Subscribers let Metrics observe the feed hub.

func (m *Metrics) Published() {
	m.FeedEvents.Inc()
}

func (m *Metrics) Dropped() {
	m.FeedDropped.Inc()
}

func (m *Metrics) Subscribers(n int) {
	m.FeedSubscribers.Set(float64(n))
}
