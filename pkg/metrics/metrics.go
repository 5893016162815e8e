package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NodesByStatus tracks how many nodes each managed host currently
	// reports, broken down by kind and wire status code.
	NodesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clustdock_nodes",
			Help: "Number of nodes known to the worker, by kind and status",
		},
		[]string{"kind", "status"},
	)

	HostsUnreachable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clustdock_hosts_unreachable",
			Help: "Number of per-host driver health checks (container and vm) the health registry currently marks unhealthy",
		},
	)

	// DispatcherRequestsTotal counts every request line the dispatcher
	// has completed, by verb and outcome.
	DispatcherRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clustdock_dispatcher_requests_total",
			Help: "Total requests handled by the dispatcher, by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	DispatcherRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clustdock_dispatcher_request_duration_seconds",
			Help:    "Dispatcher request duration in seconds, by verb",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	// FanoutJobsTotal counts completed fan-out children, by operation
	// and outcome.
	FanoutJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clustdock_fanout_jobs_total",
			Help: "Total fan-out child processes completed, by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	FanoutJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clustdock_fanout_job_duration_seconds",
			Help:    "Fan-out child process duration in seconds, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clustdock_active_workers",
			Help: "Number of dispatcher worker goroutines currently processing a request",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesByStatus)
	prometheus.MustRegister(HostsUnreachable)
	prometheus.MustRegister(DispatcherRequestsTotal)
	prometheus.MustRegister(DispatcherRequestDuration)
	prometheus.MustRegister(FanoutJobsTotal)
	prometheus.MustRegister(FanoutJobDuration)
	prometheus.MustRegister(ActiveWorkers)
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
