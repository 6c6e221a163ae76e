package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	GroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probekit_groups_total",
			Help: "Total number of repeat-interval groups registered with the scheduler",
		},
	)

	RunnablesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "probekit_runnables_total",
			Help: "Total number of registered Runnables by kind",
		},
		[]string{"kind"},
	)

	TickLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probekit_group_tick_latency_seconds",
			Help:    "Scheduling drift for a group tick: actual start time minus scheduled time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	TicksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probekit_group_ticks_skipped_total",
			Help: "Total number of group ticks skipped because the previous tick was still running",
		},
		[]string{"group"},
	)

	TicksRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probekit_group_ticks_total",
			Help: "Total number of group ticks started",
		},
		[]string{"group"},
	)

	// Query metrics
	QueryRegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probekit_query_registry_size",
			Help: "Number of distinct queries currently deduplicated in the registry",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probekit_query_duration_seconds",
			Help:    "Time taken for a query to complete, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probekit_query_failures_total",
			Help: "Total number of query failures by kind and failure state",
		},
		[]string{"kind", "state"},
	)

	// Test metrics
	TestStateTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "probekit_test_state",
			Help: "Number of tests currently reporting each state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(RunnablesTotal)
	prometheus.MustRegister(TickLatency)
	prometheus.MustRegister(TicksSkipped)
	prometheus.MustRegister(TicksRun)
	prometheus.MustRegister(QueryRegistrySize)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryFailuresTotal)
	prometheus.MustRegister(TestStateTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
