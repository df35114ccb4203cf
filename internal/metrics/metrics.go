// Package metrics exposes Prometheus collectors for the HTTP surface and job admission.
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

// Admission outcomes.
const (
	AdmissionAdmitted = "admitted"
	AdmissionBusy     = "busy"
	AdmissionMemory   = "memory"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	admissionsTotal            *prometheus.CounterVec
	capturesTotal              *prometheus.CounterVec
	leaseHeld                  prometheus.Gauge
	memoryUsageRatio           prometheus.Gauge
	memoryUsedBytes            prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		)

		admissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteshot_admissions_total",
				Help: "Admission decisions, labeled by outcome (admitted, busy, memory).",
			},
			[]string{"outcome"},
		)

		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteshot_captures_total",
				Help: "Browser captures, labeled by site, mode, and result.",
			},
			[]string{"site", "mode", "result"},
		)

		leaseHeld = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteshot_lease_held",
				Help: "1 while a job holds the single job lease.",
			},
		)

		memoryUsageRatio = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteshot_memory_usage_ratio",
				Help: "Last sampled used/limit memory ratio.",
			},
		)

		memoryUsedBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteshot_memory_used_bytes",
				Help: "Last sampled memory usage in bytes.",
			},
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAdmission counts one admission decision.
func ObserveAdmission(outcome string) {
	admissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCapture counts one browser capture.
func ObserveCapture(rawURL, mode, result string) {
	capturesTotal.WithLabelValues(SanitizeSite(rawURL), mode, result).Inc()
}

// SetLeaseHeld reports whether the job lease is taken.
func SetLeaseHeld(held bool) {
	if held {
		leaseHeld.Set(1)
		return
	}
	leaseHeld.Set(0)
}

// ObserveMemory records the last memory reading.
func ObserveMemory(usedBytes uint64, ratio float64) {
	memoryUsedBytes.Set(float64(usedBytes))
	memoryUsageRatio.Set(ratio)
}
