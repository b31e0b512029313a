// Package metrics holds the Prometheus collectors shared by the client
// components and the HTTP service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchdesk_backend_requests_total",
		Help: "Requests sent to the analytics backend.",
	}, []string{"endpoint", "code"}) // code: 2xx, 4xx, 5xx, error

	RateLimitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchdesk_rate_limit_retries_total",
		Help: "Requests repeated after a 429 from the backend.",
	})

	JobsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchdesk_jobs_observed_total",
		Help: "Backend jobs observed to a terminal state.",
	}, []string{"outcome"}) // outcome: done, error, timeout, abandoned

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchdesk_job_duration_seconds",
		Help:    "Time from enqueue to terminal state of prepare-day jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchdesk_analysis_runs_total",
		Help: "Analysis requests by outcome.",
	}, []string{"market", "outcome"})

	BusyActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchdesk_busy_active",
		Help: "1 while the global busy indicator is shown.",
	})

	BusyForcedReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchdesk_busy_forced_releases_total",
		Help: "Busy indicators released without a terminal signal.",
	}, []string{"reason"}) // reason: timeout, max_checks, stale, probe_error

	PanicsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchdesk_http_panics_recovered_total",
		Help: "Handler panics turned into 500 responses.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass buckets an HTTP status for the code label.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	}
	return "error"
}
