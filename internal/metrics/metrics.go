// Package metrics declares the Prometheus collectors exported by finsight.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finsight"

// HTTPRequests counts finished requests by route pattern, method and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by route, method and status code.",
}, []string{"route", "method", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "method"})

var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the rate limiter.",
})

var SuspiciousRequests = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "suspicious_requests_total",
	Help:      "Requests flagged by the security detector.",
})

// Analyses counts insight computations; source is "computed" or "cache".
var Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "insight",
	Name:      "analyses_total",
	Help:      "Insight analyses served, by source.",
}, []string{"source"})

var Scores = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "insight",
	Name:      "score",
	Help:      "Distribution of computed health scores.",
	Buckets:   []float64{10, 20, 30, 40, 50, 55, 60, 70, 75, 80, 90, 100},
})

var TransactionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "writes_total",
	Help:      "Successful transaction writes by operation.",
}, []string{"op"})

// RepositoryErrors counts failed repository calls; kind is backend, network,
// not_found or other.
var RepositoryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "errors_total",
	Help:      "Repository errors by operation and kind.",
}, []string{"op", "kind"})

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Transaction events published, by result.",
}, []string{"result"})

var ExportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "export",
	Name:      "runs_total",
	Help:      "Per-user sheet exports, by trigger and result.",
}, []string{"trigger", "result"})

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one finished request.
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Result maps an error to the "ok"/"error" label used by several counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
