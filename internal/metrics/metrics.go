// Package metrics exposes Prometheus collectors for the monitoring service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal               *prometheus.CounterVec
	cycleDurationSeconds      prometheus.Histogram
	cycleRunning              prometheus.Gauge
	listingsSeenTotal         *prometheus.CounterVec
	listingsNewTotal          *prometheus.CounterVec
	sourceErrorsTotal         *prometheus.CounterVec
	notificationsSentTotal    prometheus.Counter
	notificationFailuresTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobwatch_cycles_total",
				Help: "Total number of monitoring cycles, labeled by outcome.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobwatch_cycle_duration_seconds",
				Help:    "Histogram of full monitoring cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		cycleRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobwatch_cycle_running",
				Help: "Whether a monitoring cycle is currently in flight.",
			},
		)

		listingsSeenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobwatch_listings_seen_total",
				Help: "Total candidate listings returned by adapters, labeled by source.",
			},
			[]string{"source"},
		)

		listingsNewTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobwatch_listings_new_total",
				Help: "Total listings newly inserted into the store, labeled by source.",
			},
			[]string{"source"},
		)

		sourceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobwatch_source_errors_total",
				Help: "Total per-source errors recorded during monitoring, labeled by source.",
			},
			[]string{"source"},
		)

		notificationsSentTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobwatch_notifications_sent_total",
				Help: "Total listing notifications delivered successfully.",
			},
		)

		notificationFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobwatch_notification_failures_total",
				Help: "Total listing notification deliveries that failed.",
			},
		)
	})
}

// ObserveCycle records the outcome and duration of a finished cycle.
func ObserveCycle(status string, duration time.Duration) {
	if cyclesTotal == nil {
		return
	}
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// SetCycleRunning flips the in-flight gauge.
func SetCycleRunning(running bool) {
	if cycleRunning == nil {
		return
	}
	if running {
		cycleRunning.Set(1)
		return
	}
	cycleRunning.Set(0)
}

// AddListingsSeen counts candidates returned by a source.
func AddListingsSeen(source string, n int) {
	if listingsSeenTotal == nil || n <= 0 {
		return
	}
	listingsSeenTotal.WithLabelValues(source).Add(float64(n))
}

// AddListingsNew counts newly inserted listings for a source.
func AddListingsNew(source string, n int) {
	if listingsNewTotal == nil || n <= 0 {
		return
	}
	listingsNewTotal.WithLabelValues(source).Add(float64(n))
}

// IncSourceError counts one recorded source error.
func IncSourceError(source string) {
	if sourceErrorsTotal == nil {
		return
	}
	sourceErrorsTotal.WithLabelValues(source).Inc()
}

// IncNotificationSent counts one successful delivery.
func IncNotificationSent() {
	if notificationsSentTotal == nil {
		return
	}
	notificationsSentTotal.Inc()
}

// IncNotificationFailure counts one failed delivery.
func IncNotificationFailure() {
	if notificationFailuresTotal == nil {
		return
	}
	notificationFailuresTotal.Inc()
}
