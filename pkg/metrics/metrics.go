// Package metrics owns the process Prometheus registry and the collectors
// shared by the call pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voiceai"

type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
	feedFetches    *prometheus.CounterVec
	keyValidations *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls_cache",
			Name:      "lookups_total",
			Help:      "Call cache lookups by backend and result (hit, miss, stale).",
		}, []string{"backend", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls_store",
			Name:      "query_duration_seconds",
			Help:      "Latency of call store page queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls_feed",
			Name:      "fetches_total",
			Help:      "Feed fetch results (applied, superseded, error).",
		}, []string{"result"}),
		keyValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api_keys",
			Name:      "validations_total",
			Help:      "Third-party API key validation probes by provider and validity.",
		}, []string{"provider", "valid"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheLookups,
		m.storeLatency,
		m.feedFetches,
		m.keyValidations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CacheLookup(backend, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) StoreQuery(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) FeedFetch(result string) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) KeyValidation(provider string, valid bool) {
	if m == nil {
		return
	}
	v := "false"
	if valid {
		v = "true"
	}
	m.keyValidations.WithLabelValues(provider, v).Inc()
}
