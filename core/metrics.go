package core

import (
	"time"

	"fetchbridge/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts mediated requests by kind and terminal stage. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inflight     prometheus.Gauge
	cacheLookups *prometheus.CounterVec
	retries      prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetchbridge",
			Name:      "requests_total",
			Help:      "Mediated requests by kind and terminal stage.",
		}, []string{"kind", "stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fetchbridge",
			Name:      "request_duration_seconds",
			Help:      "Time from dispatch to terminal stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchbridge",
			Name:      "inflight_requests",
			Help:      "Requests currently registered in the in-flight table.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetchbridge",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchbridge",
			Name:      "retries_total",
			Help:      "Network calls beyond the first attempt.",
		}),
	}
	m.Registry.MustRegister(m.requests, m.duration, m.inflight, m.cacheLookups, m.retries)
	return m
}

func (m *Metrics) observe(kind models.LogKind, stage models.Stage, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(kind), string(stage)).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) retried(attempts int) {
	if m == nil || attempts <= 1 {
		return
	}
	m.retries.Add(float64(attempts - 1))
}

func (m *Metrics) inflightDelta(d float64) {
	if m == nil {
		return
	}
	m.inflight.Add(d)
}
