package engine

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "orchd"
	subsystem = "dispatcher"
)

var (
	pendingTasksGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pending_tasks",
		Help:      "The number of tasks waiting in a table's pending queue",
	}, []string{"table"})

	processedTasksCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "processed_tasks_total",
		Help:      "Total number of tasks handled, by table and status",
	}, []string{"table", "status"})

	drainDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "drain_duration_seconds",
		Help:      "Time spent in one reconciler pass over a pending queue",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us ~ 3.2s
	}, []string{"table"})

	fatalAbortsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "fatal_aborts_total",
		Help:      "Total number of dispatcher runs stopped by a fatal error",
	})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(pendingTasksGauge)
	registry.MustRegister(processedTasksCounter)
	registry.MustRegister(drainDurationHistogram)
	registry.MustRegister(fatalAbortsCounter)
}
