// Package metrics exposes Prometheus collectors for the archiver.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	archiverCandidatesTotal      *prometheus.CounterVec
	archiverFetchTotal           *prometheus.CounterVec
	archiverFetchBytesTotal      *prometheus.CounterVec
	archiverFetchDurationSeconds *prometheus.HistogramVec
	archiverCaptureAttemptsTotal *prometheus.CounterVec
	archiverScreenshotsTotal     *prometheus.CounterVec
	archiverRunsTotal            *prometheus.CounterVec
	archiverRunDurationSeconds   prometheus.Histogram
	archiverLastAssignedID       prometheus.Gauge
	archiverActiveCaptures       prometheus.Gauge
	archiverRateLimitDelay       prometheus.Histogram
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_candidates_total",
				Help: "Search candidates seen, labeled by filter outcome.",
			},
			[]string{"outcome"},
		)

		archiverFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetch_total",
				Help: "Metadata fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		archiverFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		archiverFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_fetch_duration_seconds",
				Help:    "Metadata fetch latency, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		archiverCaptureAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_capture_attempts_total",
				Help: "Browser capture attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		archiverScreenshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_screenshots_total",
				Help: "Final screenshot status per record.",
			},
			[]string{"status"},
		)

		archiverRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_runs_total",
				Help: "Pipeline runs, labeled by result.",
			},
			[]string{"result"},
		)

		archiverRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_run_duration_seconds",
				Help:    "Wall time per completed run.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)

		archiverLastAssignedID = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_last_assigned_id",
				Help: "Highest archive ID committed to the sequence counter.",
			},
		)

		archiverActiveCaptures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_captures",
				Help: "Number of browser sessions currently rendering.",
			},
		)

		archiverRateLimitDelay = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delay_seconds",
				Help:    "Time fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCandidates counts n candidates that reached the given filter outcome.
func ObserveCandidates(outcome string, n int) {
	Init()
	if n > 0 {
		archiverCandidatesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveFetch records one metadata fetch.
func ObserveFetch(site, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	archiverFetchTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		archiverFetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	archiverFetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCaptureAttempt records the outcome of one browser session.
func ObserveCaptureAttempt(outcome string) {
	Init()
	archiverCaptureAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveScreenshot records the final status assigned to a record.
func ObserveScreenshot(status string) {
	Init()
	archiverScreenshotsTotal.WithLabelValues(status).Inc()
}

// ObserveRun records a finished run.
func ObserveRun(result string, duration time.Duration) {
	Init()
	archiverRunsTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		archiverRunDurationSeconds.Observe(duration.Seconds())
	}
}

// SetLastAssignedID publishes the committed sequence high-water mark.
func SetLastAssignedID(id int) {
	Init()
	archiverLastAssignedID.Set(float64(id))
}

// IncActiveCaptures increments the active captures gauge.
func IncActiveCaptures() {
	Init()
	archiverActiveCaptures.Inc()
}

// DecActiveCaptures decrements the active captures gauge.
func DecActiveCaptures() {
	Init()
	archiverActiveCaptures.Dec()
}

// ObserveRateLimitDelay records time spent waiting for a per-host token.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	archiverRateLimitDelay.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
