// Package metrics defines the Prometheus collectors of the chat search
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsearch"

// Search result types recorded by SearchQueriesTotal.
const (
	ResultHit        = "hit"
	ResultMiss       = "miss"
	ResultZero       = "zero_result"
	ResultError      = "error"
	ResultCancelled  = "cancelled"
	ResultEmptyQuery = "empty_query"
)

var (
	httpBuckets   = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	searchBuckets = prometheus.ExponentialBuckets(0.0005, 2.5, 10)
	resultBuckets = []float64{0, 1, 5, 10, 25, 50, 100, 500}
)

// Metrics groups the collectors by subsystem: http, search, cache, index and
// sync. All of them live under the "chatsearch" namespace.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     prometheus.Counter

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	DocsIndexedTotal  prometheus.Counter
	IndexClearsTotal  prometheus.Counter
	IndexResyncsTotal *prometheus.CounterVec
	IndexDocuments    prometheus.Gauge
	IndexTerms        prometheus.Gauge

	SyncEventsTotal     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. It panics if any
// of them is already registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: counterVec("http", "requests_total",
			"HTTP requests handled, by method, route and status code.", "method", "path", "status"),
		HTTPRequestDuration: histogramVec("http", "request_duration_seconds",
			"Time spent serving HTTP requests.", httpBuckets, "method", "path"),
		HTTPRequestsInFlight: gauge("http", "requests_in_flight",
			"HTTP requests currently being served."),
		RateLimitedTotal: counter("http", "rate_limited_total",
			"Requests rejected by the per-client rate limiter."),

		SearchQueriesTotal: counterVec("search", "queries_total",
			"Search queries by outcome.", "result"),
		SearchLatency: histogramVec("search", "latency_seconds",
			"Search latency split by whether the query cache answered.", searchBuckets, "cache"),
		SearchResultsCount: histogram("search", "total_hits",
			"Matching documents per query before pagination.", resultBuckets),

		CacheHitsTotal:   counter("cache", "hits_total", "Searches answered from the query cache."),
		CacheMissesTotal: counter("cache", "misses_total", "Searches that had to run against the index."),

		DocsIndexedTotal: counter("index", "documents_indexed_total",
			"Documents added to or replaced in the index."),
		IndexClearsTotal: counter("index", "clears_total", "Times the index was emptied."),
		IndexResyncsTotal: counterVec("index", "resyncs_total",
			"Index rebuilds from chat history, by status.", "status"),
		IndexDocuments: gauge("index", "documents", "Documents currently searchable."),
		IndexTerms:     gauge("index", "terms", "Distinct terms in the inverted index."),

		SyncEventsTotal: counterVec("sync", "events_total",
			"Chat sync events applied, by event type and status.", "type", "status"),
		CircuitBreakerState: gaugeVec("sync", "circuit_breaker_state",
			"Breaker state of a chat history dependency: 0 closed, 1 open, 2 half-open.", "name"),
	}
	reg.MustRegister(m.collectors()...)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight, m.RateLimitedTotal,
		m.SearchQueriesTotal, m.SearchLatency, m.SearchResultsCount,
		m.CacheHitsTotal, m.CacheMissesTotal,
		m.DocsIndexedTotal, m.IndexClearsTotal, m.IndexResyncsTotal, m.IndexDocuments, m.IndexTerms,
		m.SyncEventsTotal, m.CircuitBreakerState,
	}
}

// SetIndexSize updates the index size gauges.
func (m *Metrics) SetIndexSize(documents, terms int) {
	m.IndexDocuments.Set(float64(documents))
	m.IndexTerms.Set(float64(terms))
}

// HandlerFor returns a scrape handler for g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}
