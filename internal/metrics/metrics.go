// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal           prometheus.Counter
	tasksTotal            *prometheus.CounterVec
	newListingsTotal      *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	activeTasks           prometheus.Gauge
	rateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "casawatch_cycles_total",
				Help: "Total number of completed monitoring cycles.",
			},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casawatch_tasks_total",
				Help: "Total number of terminal task outcomes, labeled by status and error kind.",
			},
			[]string{"status", "error_kind"},
		)

		newListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casawatch_new_listings_total",
				Help: "Total number of listings classified as new, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "casawatch_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by domain and render mode.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"domain", "rendered"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "casawatch_active_tasks",
				Help: "Number of tasks currently holding a concurrency slot.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "casawatch_rate_limit_delay_seconds",
				Help:    "Histogram of politeness delays introduced before fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncCycle counts a completed cycle.
func IncCycle() {
	if cyclesTotal != nil {
		cyclesTotal.Inc()
	}
}

// IncTask counts one terminal task outcome.
func IncTask(status, errorKind string) {
	if tasksTotal != nil {
		tasksTotal.WithLabelValues(status, errorKind).Inc()
	}
}

// AddNewListings counts listings classified new for a site.
func AddNewListings(site string, n int) {
	if newListingsTotal != nil && n > 0 {
		newListingsTotal.WithLabelValues(site).Add(float64(n))
	}
}

// ObserveFetch records a fetch latency.
func ObserveFetch(domain string, rendered bool, duration time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	mode := "probe"
	if rendered {
		mode = "headless"
	}
	fetchDurationSeconds.WithLabelValues(domain, mode).Observe(duration.Seconds())
}

// TaskStarted and TaskFinished track concurrency-slot occupancy.
func TaskStarted() {
	if activeTasks != nil {
		activeTasks.Inc()
	}
}

// TaskFinished decrements the active task gauge.
func TaskFinished() {
	if activeTasks != nil {
		activeTasks.Dec()
	}
}

// ObserveRateLimitDelay records a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
	}
}
